package app

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/radio-coordination/internal/coordination"
	"github.com/roman-kulish/radio-coordination/internal/pathloss"
	"github.com/roman-kulish/radio-coordination/internal/storage"
)

const testConfig = `
settings:
  logLevel: debug
  runTimeout: 90s
storage:
  dbPath: /var/lib/coordinator/coordination.db
analysis:
  coordinationDistanceKm: 50
  maxFrequencySeparationMHz: 40
  pathLossModel: over-horizon
  polarization: co-polar
  workers: 4
  bandAdjacency:
    6G: [L6G, U6G]
pathLoss:
  provider:
    path: /usr/local/bin/ohloss
    args: ["{lat1}", "{lon1}", "{lat2}", "{lon2}", "{freq}"]
  timeout: 10s
metrics:
  listen: ":9464"
tracing:
  enabled: true
  exporter: otlp
  endpoint: collector:4317
  sampleRatio: 0.25
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if level, _ := config.Settings.Level(); level != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", level)
	}
	if time.Duration(config.Settings.RunTimeout) != 90*time.Second {
		t.Errorf("Expected run timeout 90s, got %s", config.Settings.RunTimeout.String())
	}
	if config.Analysis.PathLossModel != pathloss.ModelOverHorizon || config.Analysis.Workers != 4 {
		t.Errorf("Unexpected analysis: %+v", config.Analysis)
	}
	if config.Analysis.Polarization != coordination.PolarizationCoPolar {
		t.Errorf("Expected co-polar selection, got %s", config.Analysis.Polarization)
	}
	if got := config.Analysis.BandAdjacency["6G"]; len(got) != 2 {
		t.Errorf("Expected two adjacent bands for 6G, got %v", got)
	}
	if config.Analysis.MissingPattern != coordination.MissingPatternSkip {
		t.Errorf("Expected default missing pattern policy, got %s", config.Analysis.MissingPattern)
	}

	exec := config.PathLoss.ExecConfig()
	if exec.Path != "/usr/local/bin/ohloss" || len(exec.Args) != 5 || exec.Timeout != 10*time.Second {
		t.Errorf("Unexpected provider config: %+v", exec)
	}
	if config.PathLoss.CacheCapacity != pathloss.DefaultCacheCapacity {
		t.Errorf("Expected default cache capacity, got %d", config.PathLoss.CacheCapacity)
	}
	if config.Storage.BatchSize != storage.DefaultBatchCapacity {
		t.Errorf("Expected default batch size, got %d", config.Storage.BatchSize)
	}
	if config.Metrics.Listen != ":9464" || !config.Tracing.Enabled || config.Tracing.SampleRatio != 0.25 {
		t.Errorf("Unexpected observability config: %+v / %+v", config.Metrics, config.Tracing)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDBPath, "/tmp/override.db")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvWorkers, "8")
	t.Setenv(EnvRunTimeout, "2m")

	config, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Storage.DBPath != "/tmp/override.db" {
		t.Errorf("Expected db path override, got %s", config.Storage.DBPath)
	}
	if level, _ := config.Settings.Level(); level != slog.LevelWarn {
		t.Errorf("Expected warn level, got %v", level)
	}
	if config.Analysis.Workers != 8 {
		t.Errorf("Expected 8 workers, got %d", config.Analysis.Workers)
	}
	if time.Duration(config.Settings.RunTimeout) != 2*time.Minute {
		t.Errorf("Expected run timeout 2m, got %s", config.Settings.RunTimeout.String())
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing db path",
			content: "analysis:\n  coordinationDistanceKm: 50\n",
			want:    "storage.dbPath is required",
		},
		{
			name:    "bad log level",
			content: "settings:\n  logLevel: loud\nstorage:\n  dbPath: x.db\nanalysis:\n  coordinationDistanceKm: 50\n",
			want:    "invalid log level",
		},
		{
			name:    "no distance",
			content: "storage:\n  dbPath: x.db\n",
			want:    "coordinationDistanceKm",
		},
		{
			name:    "over-horizon without provider",
			content: "storage:\n  dbPath: x.db\nanalysis:\n  coordinationDistanceKm: 50\n  pathLossModel: over-horizon\n",
			want:    "provider path is required",
		},
		{
			name:    "bad duration",
			content: "settings:\n  runTimeout: soon\n",
			want:    "failed to parse",
		},
		{
			name:    "bad tracing exporter",
			content: "storage:\n  dbPath: x.db\nanalysis:\n  coordinationDistanceKm: 50\ntracing:\n  enabled: true\n  exporter: zipkin\n",
			want:    "unsupported tracing exporter",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestConfig_ApplyEnvInvalid(t *testing.T) {
	env := map[string]string{EnvWorkers: "many"}

	var config Config
	if err := config.applyEnv(func(k string) string { return env[k] }); err == nil {
		t.Error("Expected error for invalid workers override")
	}
}

func TestTimeDuration(t *testing.T) {
	var holder struct {
		D TimeDuration `yaml:"d" json:"d"`
	}

	if err := yaml.Unmarshal([]byte("d: 1m30s"), &holder); err != nil {
		t.Fatalf("Failed to unmarshal YAML: %v", err)
	}
	if time.Duration(holder.D) != 90*time.Second {
		t.Errorf("Expected 90s, got %s", holder.D.String())
	}

	data, err := json.Marshal(&holder.D)
	if err != nil {
		t.Fatalf("Failed to marshal JSON: %v", err)
	}
	if string(data) != `"1m30s"` {
		t.Errorf(`Expected "1m30s", got %s`, data)
	}

	if err := json.Unmarshal([]byte(`{"d":"250ms"}`), &holder); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}
	if time.Duration(holder.D) != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %s", holder.D.String())
	}

	negative := NewTimeDuration(-time.Second)
	if err := negative.Validate(); err == nil {
		t.Error("Expected error for negative duration")
	}
}
