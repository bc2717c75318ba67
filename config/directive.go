package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gatekit/redislimit"
)

// Directive is a parsed "ratelimit_redis" directive: the on/off switch,
// an optional config file reference, and whichever option values were
// supplied. Supplied fields win over file-resolved values when applied;
// the on/off switch always wins.
type Directive struct {
	Enabled    bool
	ConfigFile string

	settings Settings
	supplied map[string]bool
}

// ParseDirective parses the arguments of a "ratelimit_redis" directive:
//
//	ratelimit_redis <on|off> [opt=value ...]
//
// Recognized options: redis_url, key, rate, burst, algorithm, window_size,
// config_file, and the redis_* connection options. Unknown options are a
// configuration error.
func ParseDirective(args []string) (*Directive, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("config: syntax: ratelimit_redis <on|off> [options]")
	}

	d := &Directive{
		settings: DefaultSettings(),
		supplied: map[string]bool{},
	}

	switch args[0] {
	case "on":
		d.Enabled = true
	case "off":
		d.Enabled = false
	default:
		return nil, fmt.Errorf("config: ratelimit_redis should be 'on' or 'off', got %q", args[0])
	}
	d.settings.Enabled = d.Enabled

	for _, arg := range args[1:] {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("config: malformed parameter: %s", arg)
		}

		switch name {
		case "redis_url":
			d.settings.StoreURL = value
		case "key":
			d.settings.Key = value
		case "rate":
			rate, err := strconv.Atoi(value)
			if err != nil || rate <= 0 {
				return nil, fmt.Errorf("config: invalid rate value: %s", value)
			}
			d.settings.Rate = rate
		case "burst":
			burst, err := strconv.Atoi(value)
			if err != nil || burst < 0 {
				return nil, fmt.Errorf("config: invalid burst value: %s", value)
			}
			d.settings.Burst = burst
		case "algorithm":
			if _, err := redislimit.ParseAlgorithm(value); err != nil {
				return nil, fmt.Errorf("config: %w", err)
			}
			d.settings.Algorithm = strings.ToLower(value)
		case "window_size":
			window, err := strconv.Atoi(value)
			if err != nil || window <= 0 {
				return nil, fmt.Errorf("config: invalid window_size value: %s", value)
			}
			d.settings.WindowSize = window
		case "config_file":
			d.ConfigFile = value
		default:
			if strings.HasPrefix(name, "redis_") {
				if err := d.parseStoreOption(name, value); err != nil {
					return nil, err
				}
			} else {
				return nil, fmt.Errorf("config: unknown parameter: %s", arg)
			}
		}
		d.supplied[name] = true
	}

	return d, nil
}

// parseStoreOption handles the redis_* connection options mirroring
// store.Options.
func (d *Directive) parseStoreOption(name, value string) error {
	opts := &d.settings.StoreOptions

	switch name {
	case "redis_connect_timeout":
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil || ms <= 0 {
			return fmt.Errorf("config: invalid redis_connect_timeout value: %s", value)
		}
		opts.ConnectTimeoutMS = ms
	case "redis_command_timeout":
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil || ms <= 0 {
			return fmt.Errorf("config: invalid redis_command_timeout value: %s", value)
		}
		opts.CommandTimeoutMS = ms
	case "redis_retry_count":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("config: invalid redis_retry_count value: %s", value)
		}
		opts.RetryCount = n
	case "redis_retry_delay":
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil || ms < 0 {
			return fmt.Errorf("config: invalid redis_retry_delay value: %s", value)
		}
		opts.RetryDelayMS = ms
	case "redis_password":
		if value != "" {
			password := value
			opts.Password = &password
		}
	case "redis_database":
		db, err := strconv.Atoi(value)
		if err != nil || db < 0 {
			return fmt.Errorf("config: invalid redis_database value: %s", value)
		}
		opts.Database = db
	case "redis_pool_size":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("config: invalid redis_pool_size value: %s", value)
		}
		opts.PoolSize = n
	case "redis_cluster_mode":
		on, err := parseOnOff(value)
		if err != nil {
			return fmt.Errorf("config: invalid redis_cluster_mode value: %s", value)
		}
		opts.ClusterMode = on
	case "redis_tls":
		on, err := parseOnOff(value)
		if err != nil {
			return fmt.Errorf("config: invalid redis_tls value: %s", value)
		}
		opts.TLSEnabled = on
	case "redis_keepalive":
		secs, err := strconv.ParseInt(value, 10, 64)
		if err != nil || secs < 0 {
			return fmt.Errorf("config: invalid redis_keepalive value: %s", value)
		}
		opts.KeepaliveSecs = secs
	default:
		return fmt.Errorf("config: unknown Redis connection option: %s", name)
	}
	return nil
}

func parseOnOff(value string) (bool, error) {
	switch value {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", value)
	}
}

// Apply overlays the directive onto base: every supplied option wins over
// the base value for that field, and the on/off switch always wins.
func (d *Directive) Apply(base Settings) Settings {
	out := base

	if d.supplied["redis_url"] {
		out.StoreURL = d.settings.StoreURL
	}
	if d.supplied["key"] {
		out.Key = d.settings.Key
	}
	if d.supplied["rate"] {
		out.Rate = d.settings.Rate
	}
	if d.supplied["burst"] {
		out.Burst = d.settings.Burst
	}
	if d.supplied["algorithm"] {
		out.Algorithm = d.settings.Algorithm
	}
	if d.supplied["window_size"] {
		out.WindowSize = d.settings.WindowSize
	}

	if d.supplied["redis_connect_timeout"] {
		out.StoreOptions.ConnectTimeoutMS = d.settings.StoreOptions.ConnectTimeoutMS
	}
	if d.supplied["redis_command_timeout"] {
		out.StoreOptions.CommandTimeoutMS = d.settings.StoreOptions.CommandTimeoutMS
	}
	if d.supplied["redis_retry_count"] {
		out.StoreOptions.RetryCount = d.settings.StoreOptions.RetryCount
	}
	if d.supplied["redis_retry_delay"] {
		out.StoreOptions.RetryDelayMS = d.settings.StoreOptions.RetryDelayMS
	}
	if d.supplied["redis_password"] && d.settings.StoreOptions.Password != nil {
		out.StoreOptions.Password = d.settings.StoreOptions.Password
	}
	if d.supplied["redis_database"] {
		out.StoreOptions.Database = d.settings.StoreOptions.Database
	}
	if d.supplied["redis_pool_size"] {
		out.StoreOptions.PoolSize = d.settings.StoreOptions.PoolSize
	}
	if d.supplied["redis_cluster_mode"] {
		out.StoreOptions.ClusterMode = d.settings.StoreOptions.ClusterMode
	}
	if d.supplied["redis_tls"] {
		out.StoreOptions.TLSEnabled = d.settings.StoreOptions.TLSEnabled
	}
	if d.supplied["redis_keepalive"] {
		out.StoreOptions.KeepaliveSecs = d.settings.StoreOptions.KeepaliveSecs
	}

	out.Enabled = d.Enabled
	return out
}
