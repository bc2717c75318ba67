package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/gatekit/redislimit"
	"github.com/gatekit/redislimit/store"
)

// File is a loaded configuration file: the default policy plus independent
// per-location overrides. Each location is merged onto the default at
// resolution time.
type File struct {
	Default   Settings            `json:"default"`
	Locations map[string]Settings `json:"locations"`
}

// UnmarshalJSON defaults the top-level sections the same way Settings
// defaults its fields: an absent "default" is the universal default and an
// absent "locations" is empty.
func (f *File) UnmarshalJSON(data []byte) error {
	type raw File
	r := raw{Default: DefaultSettings()}
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	if r.Locations == nil {
		r.Locations = map[string]Settings{}
	}
	*f = File(r)
	return nil
}

// Load reads and parses a configuration file, validating every algorithm
// name it mentions. Parse and validation failures fail the load; the host
// refuses to start or reload with a broken file.
func Load(path string, logger zerolog.Logger) (*File, error) {
	logger.Info().Str("path", path).Msg("loading rate limit configuration")

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to read config file")
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to parse config file")
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if _, err := redislimit.ParseAlgorithm(f.Default.Algorithm); err != nil {
		return nil, fmt.Errorf("config: default: %w", err)
	}
	for location, settings := range f.Locations {
		if _, err := redislimit.ParseAlgorithm(settings.Algorithm); err != nil {
			return nil, fmt.Errorf("config: location %s: %w", location, err)
		}
	}

	return &f, nil
}

// Resolve produces the effective settings for a location: a copy of the
// default with every override field that differs from its universal
// default applied on top. A location without an override gets the default
// unchanged.
//
// The comparison is against the universal defaults, not the configured
// default, so a per-location value equal to the universal default cannot
// reset a non-default global. The enabled flag instead compares against
// the configured default, and the password merges by presence.
func (f *File) Resolve(location string) Settings {
	override, ok := f.Locations[location]
	if !ok {
		return f.Default
	}

	merged := f.Default

	if override.StoreURL != DefaultStoreURL {
		merged.StoreURL = override.StoreURL
	}
	if override.Key != DefaultKey {
		merged.Key = override.Key
	}
	if override.Rate != DefaultRate {
		merged.Rate = override.Rate
	}
	if override.Burst != DefaultBurst {
		merged.Burst = override.Burst
	}
	if override.Algorithm != DefaultAlgorithm {
		merged.Algorithm = override.Algorithm
	}
	if override.WindowSize != DefaultWindowSize {
		merged.WindowSize = override.WindowSize
	}
	if override.Enabled != f.Default.Enabled {
		merged.Enabled = override.Enabled
	}

	mergeStoreOptions(&merged.StoreOptions, override.StoreOptions)

	return merged
}

// mergeStoreOptions applies each src field that differs from its universal
// default onto dst. The password merges by presence.
func mergeStoreOptions(dst *store.Options, src store.Options) {
	defaults := store.DefaultOptions()

	if src.ConnectTimeoutMS != defaults.ConnectTimeoutMS {
		dst.ConnectTimeoutMS = src.ConnectTimeoutMS
	}
	if src.CommandTimeoutMS != defaults.CommandTimeoutMS {
		dst.CommandTimeoutMS = src.CommandTimeoutMS
	}
	if src.RetryCount != defaults.RetryCount {
		dst.RetryCount = src.RetryCount
	}
	if src.RetryDelayMS != defaults.RetryDelayMS {
		dst.RetryDelayMS = src.RetryDelayMS
	}
	if src.Password != nil {
		dst.Password = src.Password
	}
	if src.Database != defaults.Database {
		dst.Database = src.Database
	}
	if src.PoolSize != defaults.PoolSize {
		dst.PoolSize = src.PoolSize
	}
	if src.ClusterMode != defaults.ClusterMode {
		dst.ClusterMode = src.ClusterMode
	}
	if src.TLSEnabled != defaults.TLSEnabled {
		dst.TLSEnabled = src.TLSEnabled
	}
	if src.KeepaliveSecs != defaults.KeepaliveSecs {
		dst.KeepaliveSecs = src.KeepaliveSecs
	}
}
