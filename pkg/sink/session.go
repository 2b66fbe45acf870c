// Package sink turns a worker's output stream into a published run: the
// log, the final status, reporter notifications and the attached archive.
package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/modoterra/logsink/pkg/config"
	"github.com/modoterra/logsink/pkg/core"
	"github.com/modoterra/logsink/pkg/github"
	"github.com/modoterra/logsink/pkg/reporters/extras"
	"github.com/modoterra/logsink/pkg/reporters/githubchain"
	"github.com/modoterra/logsink/pkg/reporters/githubstatus"
	"github.com/modoterra/logsink/pkg/reporters/irc"
	"github.com/modoterra/logsink/pkg/reporters/journal"
	"github.com/modoterra/logsink/pkg/rundir"
)

const (
	defaultCloseTimeout = 30 * time.Second
	defaultHTTPTimeout  = 30 * time.Second
)

// Options configures a single run.
type Options struct {
	Config     *config.Config
	Identifier string

	// Input is the worker stream; Output receives an echo of the log.
	Input  io.Reader
	Output io.Writer

	// Chdir moves the process into the run directory once it exists.
	Chdir bool

	// Reporters overrides the reporters built from Config. Reporters
	// needing the run directory are built by the callback.
	Reporters func(dir *rundir.Dir) ([]core.Reporter, error)

	// HTTPClient defaults to a client with a request timeout.
	HTTPClient *http.Client

	// ReporterTimeout bounds each reporter push; zero uses
	// DefaultReporterTimeout.
	ReporterTimeout time.Duration
	CloseTimeout    time.Duration
	Logger          *slog.Logger
}

// Run performs one run. Only a broken archive payload, or failing to set up
// the run directory, is reported as an error.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run", opts.Identifier)
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	output := opts.Output
	if output == nil {
		output = io.Discard
	}

	dir, err := rundir.Create(cfg.Sink.Logs, opts.Identifier)
	if err != nil {
		return err
	}
	defer dir.Close()
	logger.Debug("run directory ready", "path", dir.Path())

	if opts.Chdir {
		if err := dir.Enter(); err != nil {
			return err
		}
	}

	logFile, err := dir.Create("log")
	if err != nil {
		return err
	}
	defer logFile.Close()
	out := io.MultiWriter(logFile, output)

	buildReporters := opts.Reporters
	if buildReporters == nil {
		buildReporters = func(dir *rundir.Dir) ([]core.Reporter, error) {
			return DefaultReporters(cfg, opts.Identifier, dir, opts.HTTPClient, logger)
		}
	}
	reporters, err := buildReporters(dir)
	if err != nil {
		return err
	}

	dispatcher, err := NewDispatcher(cfg.Sink.RunURL(opts.Identifier), reporters, out, dir, logger)
	if err != nil {
		return err
	}
	if opts.ReporterTimeout > 0 {
		dispatcher.SetReporterTimeout(opts.ReporterTimeout)
	}
	defer func() {
		timeout := opts.CloseTimeout
		if timeout <= 0 {
			timeout = defaultCloseTimeout
		}
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		dispatcher.Close(closeCtx)
	}()

	result, err := NewDemux(dispatcher, out).Run(ctx, opts.Input)
	if err != nil {
		logger.Warn("stream ended early", "err", err)
	}
	if !result.Finished {
		logger.Info("run ended without a final record")
	}
	if !result.Attached {
		return nil
	}
	if err := Extract(result.Payload, dir, logger); err != nil {
		return fmt.Errorf("extract attached archive: %w", err)
	}
	return nil
}

// DefaultReporters builds the reporters enabled by cfg.
func DefaultReporters(cfg *config.Config, identifier string, dir *rundir.Dir, httpClient *http.Client, logger *slog.Logger) ([]core.Reporter, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	token, err := github.ReadTokenFile(cfg.GitHub.TokenFile)
	if err != nil {
		logger.Warn("github token unavailable", "path", cfg.GitHub.TokenFile, "err", err)
	}
	client, err := github.NewClient(github.Config{
		BaseURL:    cfg.GitHub.API,
		Token:      token,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	reporters := []core.Reporter{
		githubstatus.New(client, logger),
		githubchain.New(client, logger),
	}
	if cfg.IRC.Enabled() {
		reporters = append(reporters, irc.New(irc.Config{
			Address: cfg.IRC.Address(),
			Nick:    cfg.IRC.Nick,
			Login:   cfg.IRC.Login,
		}, logger))
	}
	reporters = append(reporters, extras.New(dir, httpClient, logger))
	if cfg.Journal.Enabled && journal.Available() {
		reporters = append(reporters, journal.New(identifier))
	}
	return reporters, nil
}
