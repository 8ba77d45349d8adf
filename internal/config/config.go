package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultIntervalSeconds is the poll period used when none is configured
	DefaultIntervalSeconds uint64 = 10
	// DefaultAddress is where the ingress bridge listens by default
	DefaultAddress = "localhost:3296"
)

// Config is an immutable snapshot of agent settings. A snapshot is never
// modified after construction; reconfiguration replaces it in a Store.
type Config struct {
	// IntervalSeconds is always >= 1
	IntervalSeconds uint64
	Ignore          []string
	Address         string
	// APIKey is nil when no key was configured
	APIKey *string
	// Watch lists paths whose changes wake the window watcher
	Watch []string

	ignore map[string]struct{}
}

// Default returns the configuration used when nothing is specified
func Default() *Config {
	return build(DefaultIntervalSeconds, nil, DefaultAddress, nil, nil)
}

func build(interval uint64, ignore []string, address string, apiKey *string, watch []string) *Config {
	if ignore == nil {
		ignore = []string{}
	}
	if watch == nil {
		watch = []string{}
	}
	set := make(map[string]struct{}, len(ignore))
	for _, name := range ignore {
		set[name] = struct{}{}
	}
	return &Config{
		IntervalSeconds: interval,
		Ignore:          ignore,
		Address:         address,
		APIKey:          apiKey,
		Watch:           watch,
		ignore:          set,
	}
}

// Parse builds a Config from a JSON object. It never fails: a document that
// is not a JSON object yields the defaults, and each key that is missing or
// cannot be interpreted falls back to its own default.
func Parse(s string) *Config {
	cfg, _ := ParseReport(s)
	return cfg
}

// ParseReport is Parse that also returns the problems it recovered from, so
// callers can log them.
func ParseReport(s string) (*Config, []error) {
	def := Default()
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil || raw == nil {
		if err == nil {
			err = fmt.Errorf("config is not a JSON object")
		}
		return def, []error{fmt.Errorf("%w: %v", ErrMalformed, err)}
	}

	var problems []error
	field := func(key string, err error) {
		problems = append(problems, &FieldError{Key: key, Err: err})
	}

	interval := def.IntervalSeconds
	if v, ok := raw["interval"]; ok {
		if n, err := parseInterval(v); err != nil {
			field("interval", err)
		} else {
			interval = n
		}
	}

	ignore := def.Ignore
	if v, ok := raw["ignore"]; ok {
		if list, err := parseStringList(v); err != nil {
			field("ignore", err)
		} else {
			ignore = list
		}
	}

	address := def.Address
	if v, ok := raw["address"]; ok {
		if str, err := parseString(v); err != nil {
			field("address", err)
		} else if str == "" {
			field("address", ErrEmptyAddress)
		} else {
			address = str
		}
	}

	var apiKey *string
	if v, ok := raw["api_key"]; ok && !isNull(v) {
		if str, err := parseString(v); err != nil {
			field("api_key", err)
		} else {
			apiKey = &str
		}
	}

	watch := def.Watch
	if v, ok := raw["watch"]; ok {
		if list, err := parseStringList(v); err != nil {
			field("watch", err)
		} else {
			watch = list
		}
	}

	return build(interval, ignore, address, apiKey, watch), problems
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func parseInterval(v json.RawMessage) (uint64, error) {
	var n uint64
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInterval, bytes.TrimSpace(v))
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: must be at least 1", ErrInvalidInterval)
	}
	return n, nil
}

func parseString(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%w: expected a string", ErrWrongType)
	}
	return s, nil
}

func parseStringList(v json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(v, &list); err != nil || list == nil {
		return nil, fmt.Errorf("%w: expected a list of strings", ErrWrongType)
	}
	return list, nil
}

// PollInterval returns the poll period as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// IsIgnored reports whether name is on the ignore list. Matching is exact and
// case-sensitive.
func (c *Config) IsIgnored(name string) bool {
	_, ok := c.ignore[name]
	return ok
}

// RequiresAuth reports whether ingress requests must carry the API key.
// A missing or empty key means open mode.
func (c *Config) RequiresAuth() bool {
	return c.APIKey != nil && *c.APIKey != ""
}

// WatchChanged reports whether other watches a different set of paths
func (c *Config) WatchChanged(other *Config) bool {
	return !slices.Equal(c.Watch, other.Watch)
}

// String renders the config for logs with the API key masked
func (c *Config) String() string {
	key := "<none>"
	if c.APIKey != nil {
		key = "<set>"
		if *c.APIKey == "" {
			key = "<empty>"
		}
	}
	return fmt.Sprintf("interval=%ds ignore=%v address=%s api_key=%s watch=%v",
		c.IntervalSeconds, c.Ignore, c.Address, key, c.Watch)
}
