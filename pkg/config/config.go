// Package config loads the sink's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the parsed sink.yaml.
type Config struct {
	Sink    Sink    `yaml:"sink"    json:"sink"`
	IRC     IRC     `yaml:"irc"     json:"irc"`
	GitHub  GitHub  `yaml:"github"  json:"github"`
	Journal Journal `yaml:"journal" json:"journal"`

	// FilePath is where the config was loaded from; empty for defaults.
	FilePath string `yaml:"-" json:"-"`
}

// Sink configures where runs are stored and published.
type Sink struct {
	URL           string  `yaml:"url"            json:"url"`            // "@@" is replaced by the run identifier
	Logs          string  `yaml:"logs"           json:"logs"`           // log root directory
	PruneInterval float64 `yaml:"prune_interval" json:"prune_interval"` // days between sweeps; 0 disables
}

// IRC configures the IRC notifier. An empty Server disables it.
type IRC struct {
	Server string `yaml:"server" json:"server"`
	Login  string `yaml:"login"  json:"login"`
	Nick   string `yaml:"nick"   json:"nick"`
}

// GitHub configures the GitHub reporters.
type GitHub struct {
	API       string `yaml:"api"        json:"api"`
	TokenFile string `yaml:"token_file" json:"token_file"`
}

// Journal configures the systemd journal reporter.
type Journal struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

const defaultIRCPort = "6667"

// Default returns the configuration used when no file exists.
func Default() *Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return &Config{
		Sink: Sink{
			URL:           "http://" + host + "/logs/@@/log",
			Logs:          "~/public_html/logs",
			PruneInterval: 1,
		},
		IRC: IRC{
			Login: "sink",
			Nick:  "sink-bot",
		},
		GitHub: GitHub{
			API:       "https://api.github.com",
			TokenFile: "~/.config/github-token",
		},
		Journal: Journal{Enabled: true},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/sink/sink.yaml.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "sink", "sink.yaml"), nil
}

// Load reads the config at path on top of Default. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.expandPaths()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.FilePath = path
	return cfg, nil
}

// Parse decodes YAML on top of Default and expands paths.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.expandPaths()
	return cfg, nil
}

// RunURL returns the base URL of the run's log.
func (s Sink) RunURL(identifier string) string {
	return strings.ReplaceAll(s.URL, "@@", identifier)
}

// PruneEvery returns the sweep interval; zero disables sweeping.
func (s Sink) PruneEvery() time.Duration {
	return time.Duration(s.PruneInterval * float64(24*time.Hour))
}

// Enabled reports whether IRC notifications are configured.
func (i IRC) Enabled() bool {
	return i.Server != ""
}

// Address returns Server with the default IRC port added when missing.
func (i IRC) Address() string {
	if _, _, err := net.SplitHostPort(i.Server); err == nil {
		return i.Server
	}
	return net.JoinHostPort(i.Server, defaultIRCPort)
}

func (c *Config) expandPaths() {
	c.Sink.Logs = expandPath(c.Sink.Logs)
	c.GitHub.TokenFile = expandPath(c.GitHub.TokenFile)
}

func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
