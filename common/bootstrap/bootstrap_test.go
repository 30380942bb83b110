package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logistics-bridge/common/config"
	"github.com/telhawk-systems/logistics-bridge/common/deadline"
	"github.com/telhawk-systems/logistics-bridge/common/logging"
	"github.com/telhawk-systems/logistics-bridge/common/xref"
)

func loadDefaults(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", "BOOTSTRAP_TEST")
	require.NoError(t, err)
	return cfg
}

func TestNewEngineFromDefaults(t *testing.T) {
	cfg := loadDefaults(t)
	engine, err := NewEngine(cfg.Deadline)
	require.NoError(t, err)

	monday := time.Date(2025, 3, 3, 16, 30, 0, 0, time.UTC)
	target, err := engine.ComputeTarget("delivery", deadline.PriorityCritical, monday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 4, 8, 30, 0, 0, time.UTC), target.TargetAt)
}

func TestNewEngineEntityOverrides(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Deadline.SLA = map[string]map[string]int{"delivery": {"high": 30}}
	engine, err := NewEngine(cfg.Deadline)
	require.NoError(t, err)

	target, err := engine.ComputeTarget("delivery", deadline.PriorityHigh, time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 30, target.SLAMinutes)
}

func TestNewEngineRejectsBadInput(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Deadline.Workdays = []string{"funday"}
	cfg.Deadline.Timezone = "Mars/Olympus"
	cfg.Deadline.DefaultSLA = map[string]int{"urgent": 5}

	_, err := NewEngine(cfg.Deadline)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "funday")
	assert.Contains(t, err.Error(), "Mars/Olympus")
	assert.Contains(t, err.Error(), "urgent")
}

func TestOpenMemory(t *testing.T) {
	cfg := loadDefaults(t)
	in, err := Open(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer in.Close()

	assert.NotNil(t, in.Bus)
	assert.NotNil(t, in.DLQ)
	assert.IsType(t, &xref.MemoryStore{}, in.Xref)
	assert.Nil(t, in.Archiver)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadDefaults(t)
	cfg.Stream.Backend = config.BackendRedis
	cfg.Xref.Backend = config.BackendRedis
	cfg.Redis.URL = "redis://" + mr.Addr() + "/0"

	in, err := Open(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer in.Close()

	ctx := context.Background()
	_, err = in.Bus.Publish(ctx, "events:logistics:task_accepted", []byte(`{}`))
	require.NoError(t, err)
	_, created, err := in.Xref.PutIfAbsent(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, created)
}
