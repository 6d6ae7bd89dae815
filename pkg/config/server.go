package config

import (
	"fmt"
	"os"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Server holds process-level settings, distinct from the bus document. It
// loads from an optional YAML file overlaid with NANOBUS_* environment
// variables (NANOBUS_LOG_LEVEL=debug sets log.level, and so on).
type Server struct {
	Listen    string          `koanf:"listen"`
	Bus       string          `koanf:"bus"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Audit     AuditConfig     `koanf:"audit"`
	Auth      AuthConfig      `koanf:"auth"`
}

// LogConfig selects logger verbosity and output format.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures the OTLP trace exporter. An empty endpoint
// disables export.
type TelemetryConfig struct {
	Endpoint    string `koanf:"endpoint"`
	Insecure    bool   `koanf:"insecure"`
	Environment string `koanf:"environment"`
}

// AuditConfig configures the optional invocation audit log. An empty path
// disables it.
type AuditConfig struct {
	Path string `koanf:"path"`
}

// AuthConfig configures transport-level claim extraction. With an empty
// secret, bearer tokens are ignored and invocations carry no claims.
type AuthConfig struct {
	Secret string `koanf:"secret"`
}

const envPrefix = "NANOBUS_"

// LoadServer reads server configuration from the given file (skipped when
// empty or absent) and the environment.
func LoadServer(path string) (*Server, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), koanfyaml.Parser()); err != nil {
				return nil, fmt.Errorf("load server config %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment config: %w", err)
	}

	cfg := &Server{
		Listen: ":8480",
		Bus:    "bus.yaml",
		Log:    LogConfig{Level: "info", Format: "text"},
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal server config: %w", err)
	}

	return cfg, nil
}
