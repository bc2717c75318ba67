// Package config holds the hierarchical rate limit configuration: a
// default policy, per-location overrides merged onto it, and directive
// level overrides applied last.
package config

import (
	"encoding/json"

	"github.com/gatekit/redislimit"
	"github.com/gatekit/redislimit/store"
)

// Universal defaults. Merge resolution compares override values against
// these, not against the configured default.
const (
	DefaultStoreURL   = "redis://127.0.0.1:6379"
	DefaultKey        = "remote_addr"
	DefaultRate       = 10
	DefaultBurst      = 5
	DefaultAlgorithm  = redislimit.SlidingWindowName
	DefaultWindowSize = 60
)

// Settings is the full per-location rate limit policy.
type Settings struct {
	StoreURL     string        `json:"store_url"`
	Key          string        `json:"key"`
	Rate         int           `json:"rate"`
	Burst        int           `json:"burst"`
	Algorithm    string        `json:"algorithm"`
	WindowSize   int           `json:"window_size_secs"`
	Enabled      bool          `json:"enabled"`
	StoreOptions store.Options `json:"store_options"`
}

// DefaultSettings returns the universal defaults: a disabled sliding
// window policy keyed on the peer address against a local store.
func DefaultSettings() Settings {
	return Settings{
		StoreURL:     DefaultStoreURL,
		Key:          DefaultKey,
		Rate:         DefaultRate,
		Burst:        DefaultBurst,
		Algorithm:    DefaultAlgorithm,
		WindowSize:   DefaultWindowSize,
		Enabled:      false,
		StoreOptions: store.DefaultOptions(),
	}
}

// UnmarshalJSON decodes onto the defaults so missing fields keep their
// documented values and unknown fields are ignored.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type raw Settings
	r := raw(DefaultSettings())
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*s = Settings(r)
	return nil
}

// LimiterConfig distills the settings into the effective limiter policy.
// An unknown algorithm name is an error.
func (s Settings) LimiterConfig() (redislimit.Config, error) {
	algo, err := redislimit.ParseAlgorithm(s.Algorithm)
	if err != nil {
		return redislimit.Config{}, err
	}
	return redislimit.Config{
		StoreURL:     s.StoreURL,
		Rate:         s.Rate,
		Burst:        s.Burst,
		Algorithm:    algo,
		WindowSize:   s.WindowSize,
		StoreOptions: s.StoreOptions,
	}, nil
}
