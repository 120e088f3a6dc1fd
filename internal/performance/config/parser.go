package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/surge/internal/httpclient"
)

// DefaultTimeout is the request timeout when settings.timeout is unset.
const DefaultTimeout = 30 * time.Second

var envRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LoadConfig reads and parses a configuration file.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses configuration data. The format is picked from the file
// extension; anything that is not .json is read as YAML. ${NAME} and
// ${NAME:-default} are expanded from the environment before parsing.
func ParseConfig(data []byte, filename string) (*TestConfig, error) {
	data = ExpandEnv(data)

	var cfg TestConfig
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("error parsing JSON config: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("error parsing YAML config: %w", err)
		}
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ExpandEnv replaces ${NAME} and ${NAME:-default} with environment values.
// Unset variables without a default are left as they are.
func ExpandEnv(data []byte) []byte {
	return envRe.ReplaceAllFunc(data, func(m []byte) []byte {
		groups := envRe.FindSubmatch(m)
		if v, ok := os.LookupEnv(string(groups[1])); ok {
			return []byte(v)
		}
		if bytes.Contains(m, []byte(":-")) {
			return groups[2]
		}
		return m
	})
}

// ParseDurationString parses a duration in Go syntax ("1m30s") or as a bare
// number of seconds ("90"). An empty string is zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

// ApplyDefaults fills in unset fields.
func ApplyDefaults(cfg *TestConfig) {
	if cfg.Settings.Timeout == 0 {
		cfg.Settings.Timeout = Duration(DefaultTimeout)
	}
	if cfg.Settings.UserAgent == "" {
		cfg.Settings.UserAgent = "surge/" + httpclient.Version
	}
	if cfg.Scenario.Name == "" {
		cfg.Scenario.Name = cfg.Name
	}
	if cfg.Scenario.Name == "" {
		cfg.Scenario.Name = "default"
	}
	if cfg.Schedule.Pause != nil && cfg.Schedule.Pause.Type == "" {
		cfg.Schedule.Pause.Type = "none"
	}

	for i := range cfg.Scenario.Steps {
		step := &cfg.Scenario.Steps[i]
		if step.Method == "" {
			step.Method = "GET"
		}
		step.Method = strings.ToUpper(step.Method)
		if step.Name == "" {
			step.Name = fmt.Sprintf("step-%d", i+1)
		}
		if strings.HasPrefix(step.URL, "/") && cfg.Settings.BaseURL != "" {
			step.URL = "{{baseUrl}}" + step.URL
		}
	}
}

// MergeVariables merges variable maps; later maps override earlier ones.
func MergeVariables(varMaps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range varMaps {
		maps.Copy(result, m)
	}
	return result
}
