package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/clock"
	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/config"
	"github.com/fyrsmithlabs/outreachd/internal/events"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

var start = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Backend = config.StoreMemory
	cfg.Gate.CounterBackend = config.CounterMemory
	cfg.ContentGuard.Enabled = false
	return cfg
}

func usCampaign() campaign.Config {
	return campaign.Config{
		Country:     "United States",
		Industry:    "restaurant",
		Language:    "en",
		Offer:       "AI receptionist",
		Channels:    []policy.Channel{policy.ChannelEmail},
		Disclosures: []string{"Sender identity", "Physical address", "Opt-out mechanism"},
	}
}

func TestNewRegistry(t *testing.T) {
	var _ Registry = (*registry)(nil)

	reg := NewRegistry(Options{})
	assert.Nil(t, reg.Campaigns())
	assert.Nil(t, reg.Sequencer())
	assert.IsType(t, events.NopSink{}, reg.Sink())
	assert.Empty(t, reg.HealthChecks())
	assert.NoError(t, reg.Close())
}

func TestBuild_RequiresConfig(t *testing.T) {
	_, err := Build(context.Background(), nil, BuildOptions{})
	require.Error(t, err)
}

func TestBuild_Memory(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(start)
	reg, err := Build(ctx, memoryConfig(), BuildOptions{Clock: clk})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	for name, svc := range map[string]any{
		"policies":    reg.Policies(),
		"log":         reg.Log(),
		"gate":        reg.Gate(),
		"guard":       reg.Guard(),
		"campaigns":   reg.Campaigns(),
		"qualifier":   reg.Qualifier(),
		"sequencer":   reg.Sequencer(),
		"runner":      reg.Runner(),
		"optimizer":   reg.Optimizer(),
		"experiments": reg.Experiments(),
	} {
		assert.NotNil(t, svc, name)
	}
	assert.IsType(t, events.NopSink{}, reg.Sink())
	assert.Empty(t, reg.HealthChecks(), "memory backends have nothing to check")

	c, err := reg.Campaigns().Create(ctx, usCampaign())
	require.NoError(t, err)
	evs, err := reg.Log().Query(ctx, compliancelog.Filter{CampaignID: c.ID})
	require.NoError(t, err)
	assert.NotEmpty(t, evs, "campaign creation is audited through the shared log")
	assert.Equal(t, start, evs[0].Timestamp.UTC())
}

func TestBuild_SQLitePersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Store.Backend = config.StoreSQLite
	cfg.Store.Path = filepath.Join(t.TempDir(), "nested", "outreachd.db")

	reg, err := Build(ctx, cfg, BuildOptions{})
	require.NoError(t, err)
	require.Contains(t, reg.HealthChecks(), "store")
	require.NoError(t, reg.HealthChecks()["store"](ctx))

	c, err := reg.Campaigns().Create(ctx, usCampaign())
	require.NoError(t, err)

	s := optimizer.StateAt("US", "restaurant", "smb", start)
	a := optimizer.Action{Variable: optimizer.VariableSubject, Variant: "question"}
	require.NoError(t, reg.Optimizer().Update(ctx, s, a, optimizer.Reward{Total: 1, GuardrailsSatisfied: true}, s))
	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close(), "close is idempotent")

	reopened, err := Build(ctx, cfg, BuildOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Campaigns().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusActive, got.Status)
	_, ok := reopened.Optimizer().Value(s, a)
	assert.True(t, ok, "q table is restored on startup")
}

func TestBuild_OptimizerAssigner(t *testing.T) {
	cfg := memoryConfig()
	cfg.Experiment.Assigner = config.AssignerOptimizer
	reg, err := Build(context.Background(), cfg, BuildOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	assert.NotNil(t, reg.Experiments())
}

func TestBuild_RedisUnavailable(t *testing.T) {
	cfg := memoryConfig()
	cfg.Gate.CounterBackend = config.CounterRedis
	cfg.Redis.Addr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Build(ctx, cfg, BuildOptions{})
	require.Error(t, err)
}

func TestBuild_BadPolicyFile(t *testing.T) {
	cfg := memoryConfig()
	cfg.Policy.Files = []string{filepath.Join(t.TempDir(), "missing.yaml")}
	_, err := Build(context.Background(), cfg, BuildOptions{})
	require.Error(t, err)
}

func TestRegistry_RunStopsOnCancel(t *testing.T) {
	reg, err := Build(context.Background(), memoryConfig(), BuildOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
