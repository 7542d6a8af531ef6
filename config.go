package syncclient

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ReconnectMode selects between real jittered backoff and the deterministic zero/infinite
// delays tests need (spec.md §4.1, "Testing mode permits 'zero' or 'infinite' delay").
type ReconnectMode string

const (
	ReconnectModeNormal  ReconnectMode = "normal"
	ReconnectModeTesting ReconnectMode = "testing"
)

// MetadataMode selects how internal/metadatastore persists refresh/access tokens (spec.md §4.5,
// expanded in SPEC_FULL.md §4.5).
type MetadataMode string

const (
	MetadataModeNone      MetadataMode = "none"
	MetadataModeFile      MetadataMode = "file"
	MetadataModeEncrypted MetadataMode = "encrypted"
)

// Config carries every timer tunable spec.md §6.3 names, plus the ambient concerns the spec
// calls out as external collaborators but a complete client still needs wired: where the
// metadata database lives and how its secrets are sealed. Grounded on roach88-nysm's
// `config.yaml`-plus-`Config.Load` convention; the default values below are the teacher's
// documented timer defaults (transfer_control.go / client_oob.go-style constants) translated
// into this spec's option names.
type Config struct {
	ReconnectMode ReconnectMode `yaml:"reconnect_mode"`

	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ConnectionLingerTime time.Duration `yaml:"connection_linger_time"`
	PingKeepalivePeriod  time.Duration `yaml:"ping_keepalive_period"`
	PongKeepaliveTimeout time.Duration `yaml:"pong_keepalive_timeout"`
	FastReconnectLimit   int           `yaml:"fast_reconnect_limit"`

	MinReconnectDelay time.Duration `yaml:"min_reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	// one-hour cool-off applied to the bad-client-file-ident / permanent-failure class
	CoolOffReconnectDelay time.Duration `yaml:"cool_off_reconnect_delay"`

	RttWindowSize    int           `yaml:"rtt_window_size"`
	RttWindowTimeout time.Duration `yaml:"rtt_window_timeout"`
	RttScale         float32       `yaml:"rtt_scale"`
	MinScaledRtt     time.Duration `yaml:"min_scaled_rtt"`
	MaxScaledRtt     time.Duration `yaml:"max_scaled_rtt"`

	MetadataMode     MetadataMode `yaml:"metadata_mode"`
	MetadataBasePath string       `yaml:"metadata_base_path"`

	UserAgent string `yaml:"user_agent"`
}

func DefaultConfig() *Config {
	return &Config{
		ReconnectMode: ReconnectModeNormal,

		ConnectTimeout:       120 * time.Second,
		ConnectionLingerTime: 30 * time.Second,
		PingKeepalivePeriod:  60 * time.Second,
		PongKeepaliveTimeout: 30 * time.Second,
		FastReconnectLimit:   5,

		MinReconnectDelay:     1 * time.Second,
		MaxReconnectDelay:     5 * time.Minute,
		CoolOffReconnectDelay: 1 * time.Hour,

		RttWindowSize:    10,
		RttWindowTimeout: 2 * time.Minute,
		RttScale:         1.5,
		MinScaledRtt:     500 * time.Millisecond,
		MaxScaledRtt:     10 * time.Second,

		MetadataMode:     MetadataModeNone,
		MetadataBasePath: "",

		UserAgent: "syncclient/1.0",
	}
}

// Load reads a YAML config file, overlaying it onto DefaultConfig(). A missing file is not an
// error; callers that want a required file should stat it first.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return config, nil
}
