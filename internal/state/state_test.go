package state

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	benchErrors "tsdb-benchmark/internal/errors"
)

func newRegistry(t *testing.T) *Registry {
	return Open(filepath.Join(t.TempDir(), "nested", "state.json"))
}

func TestRegistry_LoadMissing(t *testing.T) {
	st, err := newRegistry(t).Load()
	require.NoError(t, err)
	assert.Empty(t, st.CreatedPartitions)
	assert.Empty(t, st.WrittenData)
}

func TestRegistry_LoadCorrupt(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(r.Path()), 0o755))
	require.NoError(t, os.WriteFile(r.Path(), []byte("{"), 0o644))
	_, err := r.Load()
	assert.Equal(t, benchErrors.CodeReadFailed, benchErrors.GetCode(err))
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.RegisterPartitions(TargetSUT, "b_0", "b_1"))
	require.NoError(t, r.RegisterPartitions(TargetSUT, "b_0", ""))
	require.NoError(t, r.RegisterData(TargetSUT, "m", "run-1", "b_0", "b_1"))
	require.NoError(t, r.RegisterData(TargetSUT, "m", "run-1", "b_0"))
	require.NoError(t, r.RegisterData(TargetSUT, "m", "", "b_0"))

	st, err := r.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"b_0", "b_1"}, st.CreatedPartitions[TargetSUT])
	assert.Len(t, st.WrittenData, 2)
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := newRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, r.RegisterData(TargetSUT, "m", "run", string(rune('a'+i))))
		}(i)
	}
	wg.Wait()
	st, err := r.Load()
	require.NoError(t, err)
	assert.Len(t, st.WrittenData, 8)
}

func TestRegistry_PlanFromState(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.RegisterPartitions(TargetSUT, "b_0", "b_1"))
	require.NoError(t, r.RegisterData(TargetSUT, "m", "run-2", "b_1"))
	require.NoError(t, r.RegisterData(TargetSUT, "m", "run-1", "b_0"))
	require.NoError(t, r.RegisterData("main", "results", "run-1", "main"))

	plan, err := r.Plan(CleanupOptions{FromState: true})
	require.NoError(t, err)
	assert.Equal(t, TargetSUT, plan.Target)
	assert.Equal(t, []string{"b_0", "b_1"}, plan.Partitions)
	assert.Equal(t, []DataTarget{
		{Partition: "b_0", Measurement: "m", RunID: "run-1"},
		{Partition: "b_1", Measurement: "m", RunID: "run-2"},
	}, plan.Data)

	plan, err = r.Plan(CleanupOptions{FromState: true, Exclude: []string{"b_1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b_0"}, plan.Partitions)
	assert.Len(t, plan.Data, 1)

	plan, err = r.Plan(CleanupOptions{FromState: true, DropPartitions: true})
	require.NoError(t, err)
	assert.True(t, plan.Drop)
	assert.Empty(t, plan.Data)
}

func TestRegistry_PlanRequiresRunIDs(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Plan(CleanupOptions{Partitions: []string{"b"}, Measurements: []string{"m"}})
	assert.Equal(t, benchErrors.CodeMissingRunID, benchErrors.GetCode(err))

	plan, err := r.Plan(CleanupOptions{Partitions: []string{"b"}, Measurements: []string{"m"}, RunIDs: []string{"r"}})
	require.NoError(t, err)
	assert.Equal(t, []DataTarget{{Partition: "b", Measurement: "m", RunID: "r"}}, plan.Data)
}

func TestRegistry_Forget(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.RegisterPartitions(TargetSUT, "b_0", "b_1"))
	require.NoError(t, r.RegisterData(TargetSUT, "m", "run-1", "b_0", "b_1"))

	plan, err := r.Plan(CleanupOptions{FromState: true, Partitions: []string{"b_1"}})
	require.NoError(t, err)
	require.NoError(t, r.Forget(TargetSUT, nil, plan.Records()))

	st, err := r.Load()
	require.NoError(t, err)
	assert.Equal(t, []DataRecord{{Target: TargetSUT, Partition: "b_0", Measurement: "m", RunID: "run-1"}}, st.WrittenData)

	require.NoError(t, r.Forget(TargetSUT, []string{"b_0", "b_1"}, nil))
	st, err = r.Load()
	require.NoError(t, err)
	assert.Empty(t, st.CreatedPartitions)
	assert.Empty(t, st.WrittenData)
}
