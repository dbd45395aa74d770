package solver

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

// planFile is the JSON blob the solver publishes per generated plan. A plan
// may carry only a destination-state snapshot and no proposed move; those are
// valid plans, not parse failures.
type planFile struct {
	ChainID     int64                  `json:"chainId"`
	Autopool    string                 `json:"autopool"`
	Solver      string                 `json:"solver"`
	GeneratedAt time.Time              `json:"generatedAt"`
	Move        *planMove              `json:"move"`
	States      []planDestinationState `json:"destinationStates"`
}

type planMove struct {
	DestinationOut     string     `json:"destinationOut"`
	DestinationIn      string     `json:"destinationIn"`
	TokenOut           string     `json:"tokenOut"`
	TokenIn            string     `json:"tokenIn"`
	AmountOut          float64    `json:"amountOut"`
	AmountIn           float64    `json:"amountIn"`
	ProjectedSafeValue float64    `json:"projectedSafeValue"`
	ProjectedSpotValue float64    `json:"projectedSpotValue"`
	Steps              []planStep `json:"steps"`
}

type planStep struct {
	Exchange string  `json:"exchange"`
	TokenIn  string  `json:"tokenIn"`
	TokenOut string  `json:"tokenOut"`
	AmountIn float64 `json:"amountIn"`
}

type planDestinationState struct {
	Destination string  `json:"destination"`
	BlockNumber int64   `json:"blockNumber"`
	SafePrice   float64 `json:"safePrice"`
	SpotPrice   float64 `json:"spotPrice"`
}

// parsedPlan holds the warehouse rows one plan file expands into
type parsedPlan struct {
	Plan   warehouse.RebalancePlan
	Steps  []warehouse.DexSwapStep
	States []warehouse.DestinationState
}

func parsePlan(key string, data []byte) (parsedPlan, error) {
	var file planFile
	if err := json.Unmarshal(data, &file); err != nil {
		return parsedPlan{}, fmt.Errorf("plan %s is not valid JSON: %w", key, err)
	}
	if file.ChainID == 0 {
		return parsedPlan{}, fmt.Errorf("plan %s is missing chainId", key)
	}
	if file.Autopool == "" || file.Solver == "" {
		return parsedPlan{}, fmt.Errorf("plan %s is missing autopool or solver address", key)
	}
	if file.GeneratedAt.IsZero() {
		return parsedPlan{}, fmt.Errorf("plan %s is missing generatedAt", key)
	}

	plan := warehouse.RebalancePlan{
		FileKey:           key,
		ChainID:           file.ChainID,
		AutopoolAddress:   strings.ToLower(file.Autopool),
		SolverAddress:     strings.ToLower(file.Solver),
		DatetimeGenerated: file.GeneratedAt.UTC(),
	}

	var steps []warehouse.DexSwapStep
	if move := file.Move; move != nil {
		destOut := strings.ToLower(move.DestinationOut)
		destIn := strings.ToLower(move.DestinationIn)
		tokenOut := strings.ToLower(move.TokenOut)
		tokenIn := strings.ToLower(move.TokenIn)
		plan.DestinationOut = &destOut
		plan.DestinationIn = &destIn
		plan.TokenOut = &tokenOut
		plan.TokenIn = &tokenIn
		plan.AmountOut = &move.AmountOut
		plan.AmountIn = &move.AmountIn
		plan.ProjectedSafeValue = &move.ProjectedSafeValue
		plan.ProjectedSpotValue = &move.ProjectedSpotValue

		for i, step := range move.Steps {
			steps = append(steps, warehouse.DexSwapStep{
				FileKey:   key,
				StepIndex: i,
				Exchange:  step.Exchange,
				TokenIn:   strings.ToLower(step.TokenIn),
				TokenOut:  strings.ToLower(step.TokenOut),
				AmountIn:  step.AmountIn,
			})
		}
	}

	var states []warehouse.DestinationState
	for _, state := range file.States {
		if state.Destination == "" || state.BlockNumber == 0 {
			return parsedPlan{}, fmt.Errorf("plan %s has a destination state without destination or block", key)
		}
		safe := state.SafePrice
		spot := state.SpotPrice
		states = append(states, warehouse.DestinationState{
			ChainID:            file.ChainID,
			DestinationAddress: strings.ToLower(state.Destination),
			BlockNumber:        state.BlockNumber,
			LPSafePrice:        &safe,
			LPSpotPrice:        &spot,
			FromRebalancePlan:  true,
		})
	}

	return parsedPlan{Plan: plan, Steps: steps, States: states}, nil
}
