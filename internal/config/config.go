// Package config loads and validates the ACDB runtime's JSON configuration
// document (teacher pattern: `internal/config/config.go` +
// `internal/config/validate.go`, `pkg/schema/validate.go`).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Registry configures C3's workspace/database discovery.
type Registry struct {
	DBPath         string   `json:"dbPath"`
	WorkspacePaths []string `json:"workspacePaths"`
	WritableDir    string   `json:"writableDir"`
}

// Dispatcher configures C9's NATS transport.
type Dispatcher struct {
	NATSAddress   string `json:"natsAddress"`
	NATSUsername  string `json:"natsUsername"`
	NATSPassword  string `json:"natsPassword"`
	NATSCredsFile string `json:"natsCredsFile"`
}

// Timeouts holds per-opcode wire timeouts (spec §4.6). The runtime reads
// only DefaultMs, as the SSR liveness-poll interval; graphs keep
// graphrt.DefaultTimeouts().
type Timeouts struct {
	OpenMs      int `json:"openMs"`
	CloseMs     int `json:"closeMs"`
	StartStopMs int `json:"startStopMs"`
	DefaultMs   int `json:"defaultMs"`
}

// ErrorDetect holds C10's rolling-window restart thresholds. The runtime
// does not pass them to errdetect, which uses its own built-in constants.
type ErrorDetect struct {
	MaxTimeoutsInPeriod  int `json:"maxTimeoutsInPeriod"`
	WindowMs             int `json:"windowMs"`
	MinRestartIntervalMs int `json:"minRestartIntervalMs"`
}

// ExternCache configures C8's LRU slot count.
type ExternCache struct {
	Capacity uint32 `json:"capacity"`
}

// AdminAPI configures the read-only introspection HTTP surface.
type AdminAPI struct {
	Addr string `json:"addr"`
}

// ClientAuth configures the signing key internal/runtime uses to mint and
// verify the handle token returned by open() (spec's client-facing
// binding of pid/gkv-hash/issued-at).
type ClientAuth struct {
	SigningKey string `json:"signingKey"`
}

// Config is the fully validated runtime configuration document.
type Config struct {
	Registry    Registry    `json:"registry"`
	Dispatcher  Dispatcher  `json:"dispatcher"`
	Timeouts    Timeouts    `json:"timeouts"`
	ErrorDetect ErrorDetect `json:"errorDetect"`
	ExternCache ExternCache `json:"externCache"`
	AdminAPI    AdminAPI    `json:"adminAPI"`
	ClientAuth  ClientAuth  `json:"clientAuth"`
}

// Default returns the built-in fallback configuration, applied before a
// config file's fields are overlaid on top of it (teacher pattern: package-
// level `Keys`/`programConfig` pre-populated with defaults).
func Default() Config {
	return Config{
		Timeouts: Timeouts{
			OpenMs:      5000,
			CloseMs:     5000,
			StartStopMs: 2000,
			DefaultMs:   500,
		},
		ErrorDetect: ErrorDetect{
			MaxTimeoutsInPeriod:  3,
			WindowMs:             60000,
			MinRestartIntervalMs: 1000,
		},
		ExternCache: ExternCache{Capacity: 256},
		AdminAPI:    AdminAPI{Addr: ":8090"},
		Registry:    Registry{DBPath: "acdb-registry.db"},
	}
}

// Load reads path, validates it against the embedded schema, and decodes it
// on top of Default(). A missing file is not an error: Default() is
// returned unchanged, matching the teacher's "config.json is optional"
// behavior.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := validate(raw); err != nil {
		return cfg, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if len(cfg.Registry.WorkspacePaths) == 0 {
		return cfg, fmt.Errorf("config: at least one registry.workspacePaths entry is required")
	}
	return cfg, nil
}

// OpenTimeout etc. convert the millisecond fields into time.Durations. Only
// DefaultTimeout has a caller (the runtime's SSR liveness-poll interval).
func (t Timeouts) OpenTimeout() time.Duration      { return time.Duration(t.OpenMs) * time.Millisecond }
func (t Timeouts) CloseTimeout() time.Duration     { return time.Duration(t.CloseMs) * time.Millisecond }
func (t Timeouts) StartStopTimeout() time.Duration { return time.Duration(t.StartStopMs) * time.Millisecond }
func (t Timeouts) DefaultTimeout() time.Duration   { return time.Duration(t.DefaultMs) * time.Millisecond }
