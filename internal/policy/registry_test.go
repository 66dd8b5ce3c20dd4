package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistry_SeedJurisdictions(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	ids := make([]string, 0)
	for _, p := range r.List() {
		ids = append(ids, p.JurisdictionID)
	}
	assert.Equal(t, []string{"AU", "CA", "EU", "UK", "US"}, ids)

	us, ok := r.Lookup("United States")
	require.True(t, ok)
	assert.Equal(t, RiskMedium, us.RiskLevel)
	assert.InDelta(t, 0.95, us.Confidence, 1e-9)
	assert.False(t, us.RequiresOptIn(ChannelEmail))
	assert.True(t, us.RequiresOptIn(ChannelCall))
	assert.Equal(t, 1000, us.DailyLimit(ChannelEmail))
	assert.Equal(t, 100, us.DailyLimit(ChannelCall))
	assert.Equal(t, QuietHours{Start: "21:00", End: "08:00"}, us.QuietHours)

	eu, ok := r.Lookup("EU")
	require.True(t, ok)
	assert.True(t, eu.RequiresOptIn(ChannelEmail))
	assert.Len(t, eu.RequiredDisclosures, 5)
}

func TestRegistry_UnknownJurisdictionIsRestrictive(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	p, ok := r.Lookup("Narnia")
	assert.False(t, ok)
	assert.Equal(t, RiskHigh, p.RiskLevel)
	assert.Zero(t, p.Confidence)
	assert.Equal(t, []Channel{ChannelEmail}, p.AllowedChannels)
	for _, ch := range AllChannels {
		assert.True(t, p.RequiresOptIn(ch))
	}
}

func TestRegistry_UnmappedNamesDoNotBorrowPolicies(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	for _, name := range []string{"Austria", "Cameroon", "Ukraine", "Euskadi", "Usbekistan"} {
		p, ok := r.Lookup(name)
		assert.False(t, ok, name)
		assert.Equal(t, UnknownJurisdiction, p.JurisdictionID, name)
		assert.Equal(t, RiskHigh, p.RiskLevel, name)
		assert.True(t, p.RequiresOptIn(ChannelEmail), name)
	}
}

func TestRegistry_MemberCodesResolveToEU(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	for _, code := range []string{"AT", "de", " fr "} {
		p, ok := r.Lookup(code)
		require.True(t, ok, code)
		assert.Equal(t, "EU", p.JurisdictionID, code)
	}
	gb, ok := r.Lookup("GB")
	require.True(t, ok)
	assert.Equal(t, "UK", gb.JurisdictionID)
}

func TestRegistry_LookupReturnsCopy(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	p, _ := r.Lookup("US")
	p.Confidence = 0
	p.DailyLimits["email"] = 1

	again, _ := r.Lookup("US")
	assert.InDelta(t, 0.95, again.Confidence, 1e-9)
	assert.Equal(t, 1000, again.DailyLimit(ChannelEmail))
}

const yamlOverlay = `
policies:
  - jurisdiction_id: nz
    country: New Zealand
    allowed_channels: [email]
    opt_in_required: { email: true }
    quiet_hours: { start: "20:00", end: "08:00" }
    required_disclosures: [Sender identity, Unsubscribe facility]
    daily_limits: { email: 300 }
    retention_days: 365
    risk_level: low
    confidence: 0.92
`

const tomlOverlay = `
[[policies]]
jurisdiction_id = "US"
country = "United States"
allowed_channels = ["email"]
required_disclosures = ["Sender identity", "Physical address", "Opt-out mechanism"]
retention_days = 365
risk_level = "low"
confidence = 0.97

[policies.opt_in_required]
email = false

[policies.quiet_hours]
start = "21:00"
end = "08:00"

[policies.daily_limits]
email = 250
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRegistry_YAMLOverlayAddsJurisdiction(t *testing.T) {
	path := writeFile(t, t.TempDir(), "extra.yaml", yamlOverlay)

	r, err := NewRegistry(WithFiles(path))
	require.NoError(t, err)

	nz, ok := r.Lookup("NZ")
	require.True(t, ok)
	assert.Equal(t, RiskLow, nz.RiskLevel)
	assert.Equal(t, 300, nz.DailyLimit(ChannelEmail))
}

func TestRegistry_TOMLOverlayReplacesSeed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "us.toml", tomlOverlay)

	r, err := NewRegistry(WithFiles(path))
	require.NoError(t, err)

	us, ok := r.Lookup("USA")
	require.True(t, ok)
	assert.Equal(t, RiskLow, us.RiskLevel)
	assert.Equal(t, []Channel{ChannelEmail}, us.AllowedChannels)
	assert.Equal(t, 250, us.DailyLimit(ChannelEmail))
}

func TestRegistry_InvalidOverlayKeepsPreviousTable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "extra.yaml", yamlOverlay)

	r, err := NewRegistry(WithFiles(path))
	require.NoError(t, err)

	writeFile(t, dir, "extra.yaml", "policies:\n  - jurisdiction_id: NZ\n    confidence: 7\n")
	require.ErrorIs(t, r.Reload(), ErrInvalidPolicy)

	_, ok := r.Lookup("NZ")
	assert.True(t, ok)
}

func TestRegistry_AddFileRejectsUnsupportedFormat(t *testing.T) {
	path := writeFile(t, t.TempDir(), "policies.json", "{}")

	r, err := NewRegistry()
	require.NoError(t, err)

	require.ErrorIs(t, r.AddFile(path), ErrUnsupportedFormat)
	assert.Empty(t, r.Files())
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "extra.yaml", yamlOverlay)

	r, err := NewRegistry(WithFiles(path))
	require.NoError(t, err)

	reloaded := make(chan error, 4)
	w, err := NewWatcher(r, zaptest.NewLogger(t), WithReloadHook(func(err error) { reloaded <- err }))
	require.NoError(t, err)
	require.NoError(t, w.Start(t.Context()))
	defer w.Stop()

	updated := yamlOverlay + "\n  - jurisdiction_id: SG\n    country: Singapore\n    allowed_channels: [email]\n    daily_limits: { email: 50 }\n    risk_level: high\n    confidence: 0.6\n"
	writeFile(t, dir, "extra.yaml", updated)

	require.Eventually(t, func() bool {
		_, ok := r.Lookup("SG")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}
