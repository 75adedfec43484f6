package producer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/storedemo/internal/metrics"
)

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-producer.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestPublish_PipesQuantity(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "stdin.txt")
	bin := writeScript(t, dir, `echo "args: $@"
cat > `+out+`
echo produced
`)
	logs := filepath.Join(dir, "server-logs")

	p, err := New(Config{Bin: bin, Broker: "localhost:9092", Topic: "store", LogsDir: logs})
	require.NoError(t, err)

	before := metrics.RestockMessages.Value()
	require.NoError(t, p.Publish(context.Background(), 17))
	require.NoError(t, p.Publish(context.Background(), 5))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "5", string(got))

	logged, err := os.ReadFile(filepath.Join(logs, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(logged), "args: --broker-list localhost:9092 --topic store")
	// appended, not truncated
	assert.Equal(t, 2, strings.Count(string(logged), "produced"))
	assert.Equal(t, before+2, metrics.RestockMessages.Value())
}

func TestPublish_NonZeroExitIsSwallowed(t *testing.T) {
	dir := t.TempDir()
	bin := writeScript(t, dir, "echo broker down >&2\nexit 3\n")
	p, err := New(Config{Bin: bin, Broker: "b:1", Topic: "store", LogsDir: dir})
	require.NoError(t, err)

	before := metrics.ProducerFailures.Value()
	require.NoError(t, p.Publish(context.Background(), 9))
	assert.Equal(t, before+1, metrics.ProducerFailures.Value())

	logged, err := os.ReadFile(p.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(logged), "broker down")
}

func TestPublish_MissingBinaryIsReturned(t *testing.T) {
	dir := t.TempDir()
	p, err := New(Config{Bin: filepath.Join(dir, "nope.sh"), Broker: "b:1", Topic: "store", LogsDir: dir})
	require.NoError(t, err)
	require.Error(t, p.Publish(context.Background(), 1))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Broker: "b", Topic: "t"})
	require.Error(t, err)
	_, err = New(Config{Bin: "x", Topic: "t"})
	require.Error(t, err)
}
