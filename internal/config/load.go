package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// Path is an optional json/yaml config file.
	Path string
	// DotEnv lists .env files to load into the process environment.
	// Nil means ".env"; missing files are ignored.
	DotEnv []string
	// Environ replaces the process environment when non-nil (tests).
	Environ map[string]string
}

// Load assembles the configuration: defaults, then the optional file, then
// .env, then environment variables. The result is normalized but not validated.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(opts.Path) != "" {
		if err := parseFile(opts.Path, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", opts.Path, err)
		}
	}

	if opts.Environ == nil {
		files := opts.DotEnv
		if files == nil {
			files = []string{".env"}
		}
		for _, f := range files {
			if _, err := os.Stat(f); err != nil {
				continue
			}
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("dotenv %s: %w", f, err)
			}
		}
	}

	eopts := env.Options{
		Environment: opts.Environ,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(false): func(v string) (interface{}, error) { return ParseBool(v), nil },
		},
	}
	if err := env.ParseWithOptions(cfg, eopts); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	cfg.Normalize()
	return cfg, nil
}

// parseFile decodes path strictly on top of cfg.
func parseFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	jb, _, err := coerceToJSONBytes(path, b)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("invalid config: trailing data")
		}
		return err
	}
	return nil
}

// ParseBool accepts 1/true/t/y/yes (any case, surrounding spaces ignored).
// Everything else is false.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "y", "yes":
		return true
	default:
		return false
	}
}

// Normalize trims list entries, lowercases keywords and drops empties.
func (c *Config) Normalize() {
	c.Alert.Keywords = cleanList(c.Alert.Keywords, true)
	c.Alert.Patterns = cleanList(c.Alert.Patterns, false)
	c.Alert.ChannelAllowlist = cleanList(c.Alert.ChannelAllowlist, false)
	c.Alert.ChannelBlocklist = cleanList(c.Alert.ChannelBlocklist, false)
	c.Sound.Dirs = cleanList(c.Sound.Dirs, false)
	c.Sound.Player = strings.ToLower(strings.TrimSpace(c.Sound.Player))
	c.Stats.Driver = strings.ToLower(strings.TrimSpace(c.Stats.Driver))
	c.Dedup.Policy = strings.ToLower(strings.TrimSpace(c.Dedup.Policy))
	c.Logging.Level = strings.ToUpper(strings.TrimSpace(c.Logging.Level))
}

func cleanList(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if lower {
			s = strings.ToLower(s)
		}
		out = append(out, s)
	}
	return out
}
