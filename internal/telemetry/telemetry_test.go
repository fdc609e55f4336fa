package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecallFrameHistory(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)

	require.NoError(t, s.RecordFrame(FrameRecord{
		FrameID: 1, RecordedAt: now, StarCount: 12,
		AcquireLatencyMs: 5, DetectLatencyMs: 10, SolveLatencyMs: 50, Solved: true,
	}))
	require.NoError(t, s.RecordFrame(FrameRecord{
		FrameID: 2, RecordedAt: now.Add(time.Second), StarCount: 8,
		AcquireLatencyMs: 4, DetectLatencyMs: 9, SolveLatencyMs: 45, Solved: false,
	}))

	rows, err := s.RecentFrameHistory(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, uint64(2), rows[0].FrameID)
	assert.False(t, rows[0].Solved)
	assert.Equal(t, uint64(1), rows[1].FrameID)
	assert.True(t, rows[1].Solved)
}

func TestRecentFrameHistoryRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	now := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordFrame(FrameRecord{
			FrameID: uint64(i), RecordedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	rows, err := s.RecentFrameHistory(2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestCalibrationRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	id, err := s.StartCalibrationRun("setup_align")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, s.FinishCalibrationRun(id, nil))
}

func TestPruneFrameHistoryRemovesOldRows(t *testing.T) {
	s := openTestStore(t)
	old := time.Unix(1000, 0)
	recent := time.Unix(2000000000, 0)
	require.NoError(t, s.RecordFrame(FrameRecord{FrameID: 1, RecordedAt: old}))
	require.NoError(t, s.RecordFrame(FrameRecord{FrameID: 2, RecordedAt: recent}))

	require.NoError(t, s.PruneFrameHistory(time.Unix(1000000000, 0)))

	rows, err := s.RecentFrameHistory(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(2), rows[0].FrameID)
}

func TestNilStoreMethodsAreNoOps(t *testing.T) {
	var s *Store
	assert.NoError(t, s.RecordFrame(FrameRecord{}))
	assert.NoError(t, s.PruneFrameHistory(time.Now()))
	id, err := s.StartCalibrationRun("x")
	assert.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, s.FinishCalibrationRun("", nil))
	rows, err := s.RecentFrameHistory(10)
	assert.NoError(t, err)
	assert.Nil(t, rows)
	assert.NoError(t, s.Close())
}
