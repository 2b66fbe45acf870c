package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Validate checks the config for structural correctness.
func Validate(c *Config) []error {
	var errs []error

	if c.Sink.URL == "" {
		errs = append(errs, fmt.Errorf("sink.url is required"))
	} else if u, err := url.Parse(c.Sink.RunURL("run")); err != nil || !u.IsAbs() || u.Host == "" {
		errs = append(errs, fmt.Errorf("sink.url must be an absolute URL, got %q", c.Sink.URL))
	}

	if c.Sink.Logs == "" {
		errs = append(errs, fmt.Errorf("sink.logs is required"))
	} else if !filepath.IsAbs(c.Sink.Logs) {
		errs = append(errs, fmt.Errorf("sink.logs must be an absolute path, got %q", c.Sink.Logs))
	}

	if c.Sink.PruneInterval < 0 {
		errs = append(errs, fmt.Errorf("sink.prune_interval must not be negative, got %v", c.Sink.PruneInterval))
	}

	if c.IRC.Enabled() && c.IRC.Nick == "" {
		errs = append(errs, fmt.Errorf("irc.nick is required when irc.server is set"))
	}
	if strings.ContainsAny(c.IRC.Nick+c.IRC.Login, " \r\n") {
		errs = append(errs, fmt.Errorf("irc.nick and irc.login must not contain whitespace"))
	}

	if c.GitHub.API != "" && !strings.HasPrefix(c.GitHub.API, "https://") {
		errs = append(errs, fmt.Errorf("github.api must use https, got %q", c.GitHub.API))
	}

	return errs
}
