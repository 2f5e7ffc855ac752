package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 0.05, cfg.Search.Threshold, 1e-12)
	assert.Equal(t, 100, cfg.Search.InitialRadiusM)
	assert.Equal(t, 100, cfg.Search.IncrementM)
	assert.Equal(t, 200, cfg.Search.MaxIterations)
	assert.InDelta(t, 0.95, cfg.Search.SaturationFraction, 1e-12)
	assert.Equal(t, 1000, cfg.Index.TankBufferM)
	assert.Equal(t, UnknownAquiferFail, cfg.Index.UnknownAquifer)
	assert.Equal(t, []int{11, 12, 13, 21}, cfg.Population.SettlementClasses)
	assert.Len(t, cfg.Index.AquiferYields, 7)
	assert.Equal(t, "ADM2_EN", cfg.Fields.DistrictName)
	assert.Equal(t, "Map_id", cfg.Fields.TankID)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, filepath.Join("input-data", "small_tanks.shp"), cfg.Inputs.Tanks)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
paths:
  input_dir: /data/in
search:
  threshold: 0.1
  max_iterations: 50
index:
  unknown_aquifer: exclude
  aquifer_yields:
    - name: Deep confined aquifer
      pump_yield: 585
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.InDelta(t, 0.1, cfg.Search.Threshold, 1e-12)
	assert.Equal(t, 50, cfg.Search.MaxIterations)
	assert.Equal(t, UnknownAquiferExclude, cfg.Index.UnknownAquifer)
	require.Len(t, cfg.Index.AquiferYields, 1)
	assert.Equal(t, 585, cfg.Index.AquiferYields[0].PumpYield)
	assert.Equal(t, "/data/in/small_tanks.shp", cfg.Inputs.Tanks)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 100, cfg.Search.IncrementM)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("search:\n  threshold: 0.1\n"), 0o644))
	t.Setenv("TANKINDEX_SEARCH_THRESHOLD", "0.02")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.02, cfg.Search.Threshold, 1e-12)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("search:\n  max_iterations: 0\n"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_iterations")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Population: PopulationConfig{ValueDivisor: 100},
			Landuse:    LanduseConfig{Agricultural: []string{"Paddy"}},
			Search: SearchConfig{
				Threshold: 0.05, InitialRadiusM: 100, IncrementM: 100,
				MaxIterations: 10, SaturationFraction: 0.95,
			},
			Index: IndexConfig{TankBufferM: 1000, UnknownAquifer: UnknownAquiferFail, AquiferYields: DefaultAquiferYields()},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"threshold zero", func(c *Config) { c.Search.Threshold = 0 }, "threshold"},
		{"saturation above one", func(c *Config) { c.Search.SaturationFraction = 1.5 }, "saturation_fraction"},
		{"negative increment", func(c *Config) { c.Search.IncrementM = -100 }, "radii"},
		{"tank buffer", func(c *Config) { c.Index.TankBufferM = 0 }, "tank_buffer_m"},
		{"aquifer policy", func(c *Config) { c.Index.UnknownAquifer = "ignore" }, "unknown_aquifer"},
		{"empty aquifers", func(c *Config) { c.Index.AquiferYields = nil }, "aquifer_yields"},
		{"divisor", func(c *Config) { c.Population.ValueDivisor = 0 }, "value_divisor"},
		{"no agricultural labels", func(c *Config) { c.Landuse.Agricultural = nil }, "agricultural"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultAquiferYields(t *testing.T) {
	yields := DefaultAquiferYields()
	want := []int{920, 585, 400, 225, 150, 75, 70}
	require.Len(t, yields, len(want))
	for i, y := range yields {
		assert.Equal(t, want[i], y.PumpYield, y.Name)
	}
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))

	err := InitLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
