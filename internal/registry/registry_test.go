package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "components.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Lifecycle(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	t0 := time.Now().Add(-time.Minute)
	require.NoError(t, s.RecordStart(ctx, Record{RunID: "r1", Name: "zookeeper", PID: 11, Command: "zk", LogPath: "server-logs/zookeeper.log", StartedAt: t0}))
	require.NoError(t, s.RecordStart(ctx, Record{RunID: "r1", Name: "kafka", PID: 12, Command: "kafka", LogPath: "server-logs/kafka.log", StartedAt: t0.Add(time.Second)}))
	require.NoError(t, s.RecordStart(ctx, Record{RunID: "r2", Name: "kafka", PID: 99, Command: "kafka", LogPath: "x"}))

	require.NoError(t, s.RecordStop(ctx, "r1", "kafka", "kill"))
	require.NoError(t, s.RecordExit(ctx, "r1", "kafka", -1, "signal: killed"))
	require.NoError(t, s.RecordExit(ctx, "r1", "zookeeper", 0, ""))

	recs, err := s.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	zk, kafka := recs[0], recs[1]
	assert.Equal(t, "zookeeper", zk.Name)
	assert.Equal(t, 11, zk.PID)
	require.NotNil(t, zk.ExitCode)
	assert.Equal(t, 0, *zk.ExitCode)
	assert.Empty(t, zk.LastError)
	assert.Nil(t, zk.StoppedAt)
	assert.WithinDuration(t, t0, zk.StartedAt, time.Millisecond)

	assert.Equal(t, "kafka", kafka.Name)
	assert.Equal(t, "kill", kafka.StopMode)
	require.NotNil(t, kafka.StoppedAt)
	require.NotNil(t, kafka.ExitedAt)
	require.NotNil(t, kafka.ExitCode)
	assert.Equal(t, -1, *kafka.ExitCode)
	assert.Equal(t, "signal: killed", kafka.LastError)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "components.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordStart(context.Background(), Record{RunID: "r", Name: "smtp", PID: 5, Command: "java", LogPath: "smtp.log"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	recs, err := s.List(context.Background(), "r")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "smtp", recs[0].Name)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	require.NoError(t, r.RecordStart(context.Background(), Record{}))
	recs, err := r.List(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, recs)
}
