package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTopoSortOrdersWritersBeforeReaders(t *testing.T) {
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	// deliberately declared in reverse dependency order
	updaters := []Updater{
		{Name: "snapshots", Reads: []string{"events"}, Writes: []string{"snapshots"}, Run: record("snapshots")},
		{Name: "events", Reads: []string{"entities"}, Writes: []string{"events"}, Run: record("events")},
		{Name: "entities", Writes: []string{"entities"}, Run: record("entities")},
	}

	orch, err := NewOrchestrator("testchain", updaters, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, orch.RunPass(context.Background()))
	assert.Equal(t, []string{"entities", "events", "snapshots"}, order)
}

func TestTopoSortPreservesOrderOfIndependentSteps(t *testing.T) {
	updaters := []Updater{
		{Name: "a", Writes: []string{"a"}, Run: func(context.Context) error { return nil }},
		{Name: "b", Writes: []string{"b"}, Run: func(context.Context) error { return nil }},
		{Name: "c", Writes: []string{"c"}, Run: func(context.Context) error { return nil }},
	}
	ordered, err := topoSort(updaters)
	require.NoError(t, err)
	assert.Equal(t, "a", ordered[0].Name)
	assert.Equal(t, "b", ordered[1].Name)
	assert.Equal(t, "c", ordered[2].Name)
}

func TestTopoSortDetectsCycle(t *testing.T) {
	updaters := []Updater{
		{Name: "x", Reads: []string{"b"}, Writes: []string{"a"}},
		{Name: "y", Reads: []string{"a"}, Writes: []string{"b"}},
	}
	_, err := NewOrchestrator("testchain", updaters, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestTopoSortAllowsSelfReads(t *testing.T) {
	updaters := []Updater{
		{Name: "incremental", Reads: []string{"t"}, Writes: []string{"t"}, Run: func(context.Context) error { return nil }},
	}
	_, err := NewOrchestrator("testchain", updaters, zap.NewNop())
	require.NoError(t, err)
}

func TestRunPassSkipsDownstreamOfFailedStep(t *testing.T) {
	boom := errors.New("boom")
	ran := make(map[string]bool)

	updaters := []Updater{
		{Name: "source", Writes: []string{"source"}, Run: func(context.Context) error {
			ran["source"] = true
			return boom
		}},
		{Name: "dependent", Reads: []string{"source"}, Writes: []string{"derived"}, Run: func(context.Context) error {
			ran["dependent"] = true
			return nil
		}},
		{Name: "transitive", Reads: []string{"derived"}, Writes: []string{"deep"}, Run: func(context.Context) error {
			ran["transitive"] = true
			return nil
		}},
		{Name: "independent", Writes: []string{"other"}, Run: func(context.Context) error {
			ran["independent"] = true
			return nil
		}},
	}

	orch, err := NewOrchestrator("testchain", updaters, zap.NewNop())
	require.NoError(t, err)

	err = orch.RunPass(context.Background())
	require.ErrorIs(t, err, boom)

	assert.True(t, ran["source"])
	assert.False(t, ran["dependent"])
	assert.False(t, ran["transitive"])
	assert.True(t, ran["independent"])
}

func TestSyncerUpdatersGraphIsValid(t *testing.T) {
	syncer := newTestSyncer(&MockWarehouse{}, &MockChainClient{ChainIDValue: 1}, &MockBlockFinder{})
	orch, err := NewOrchestrator("testchain", syncer.Updaters(), zap.NewNop())
	require.NoError(t, err)

	// discovery must precede every event stream, snapshots come last
	position := make(map[string]int)
	for i, updater := range orch.updaters {
		position[updater.Name] = i
	}
	assert.Less(t, position["blocks"], position["autopools"])
	assert.Less(t, position["autopools"], position["deposits"])
	assert.Less(t, position["destination_states"], position["autopool_destination_states"])
	assert.Less(t, position["autopool_destination_states"], position["autopool_states"])
}
