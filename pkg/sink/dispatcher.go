package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/modoterra/logsink/pkg/core"
	"github.com/modoterra/logsink/pkg/github"
)

const abortedMessage = "Aborted"

// DefaultReporterTimeout bounds a single reporter push.
const DefaultReporterTimeout = time.Minute

// StatusStore persists the final record next to the log.
type StatusStore interface {
	WriteFile(name string, data []byte) error
}

// Dispatcher fans records out to reporters and owns the run's current
// record. It is used from a single goroutine.
type Dispatcher struct {
	base      *url.URL
	reporters []core.Reporter
	runLog    io.Writer
	store     StatusStore
	logger    *slog.Logger
	timeout   time.Duration

	current *core.Record
}

// NewDispatcher creates a dispatcher for a run whose log is published at
// baseURL. Reporter failures are written to runLog.
func NewDispatcher(baseURL string, reporters []core.Reporter, runLog io.Writer, store StatusStore, logger *slog.Logger) (*Dispatcher, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse run URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("run URL %q is not absolute", baseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		base:      base,
		reporters: reporters,
		runLog:    runLog,
		store:     store,
		logger:    logger,
		timeout:   DefaultReporterTimeout,
	}, nil
}

// SetReporterTimeout changes how long a single reporter push may take.
// Zero disables the limit.
func (d *Dispatcher) SetReporterTimeout(timeout time.Duration) {
	d.timeout = timeout
}

// Current returns the most recently pushed record.
func (d *Dispatcher) Current() (core.Record, bool) {
	if d.current == nil {
		return core.Record{}, false
	}
	return *d.current, true
}

// Resolve returns link resolved against the run URL. An empty or
// unparseable link yields the run URL itself.
func (d *Dispatcher) Resolve(link string) string {
	if link == "" {
		return d.base.String()
	}
	ref, err := url.Parse(link)
	if err != nil {
		d.logger.Warn("ignoring unparseable link", "link", link, "err", err)
		return d.base.String()
	}
	return d.base.ResolveReference(ref).String()
}

// Push makes rec current and hands it to every reporter. A reporter that
// fails or panics is logged and skipped.
func (d *Dispatcher) Push(ctx context.Context, rec core.Record) core.Record {
	rec.Link = d.Resolve(rec.Link)
	d.current = &rec
	for _, reporter := range d.reporters {
		if err := d.push(ctx, reporter, rec); err != nil {
			d.logger.Error("reporter failed", "reporter", reporter.Name(), "err", err)
			if d.runLog != nil {
				fmt.Fprintf(d.runLog, "sink: %s: %v\n", reporter.Name(), err)
			}
		}
	}
	return rec
}

func (d *Dispatcher) push(ctx context.Context, reporter core.Reporter, rec core.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return reporter.Push(ctx, rec.Clone())
}

// Begin handles the first line of the stream. It reports whether the line
// was a record.
func (d *Dispatcher) Begin(ctx context.Context, line []byte) bool {
	rec, err := core.ParseRecord(line)
	if err != nil {
		d.logger.Debug("first line is not a record", "err", err)
		return false
	}
	rec = d.Push(ctx, rec)
	d.logger.Info("run started", "link", rec.Link)
	return true
}

// Finish handles the last line of the stream, or its absence when line is
// nil. A line that is not a record is written to the run log and replaced
// by an abort record derived from the current one. The final record is
// persisted without credentials. Finish reports whether line was a record.
func (d *Dispatcher) Finish(ctx context.Context, line []byte) bool {
	rec, err := core.ParseRecord(line)
	ok := err == nil
	if !ok {
		if line != nil {
			d.writeLog(line, newline)
		}
		rec = d.aborted()
		if rec.Message != "" {
			d.writeLog([]byte(rec.Message), newline)
		}
	}
	rec = d.Push(ctx, rec)

	if err := d.persist(rec); err != nil {
		d.logger.Error("write status", "err", err)
	}
	return ok
}

// aborted synthesizes the record that ends a run without a final record.
func (d *Dispatcher) aborted() core.Record {
	if d.current == nil {
		return core.Record{Message: abortedMessage}
	}
	if d.current.OnAborted != nil {
		return d.current.OnAborted.Clone()
	}
	rec := d.current.Clone()
	rec.Message = abortedMessage
	if rec.GitHub != nil && rec.GitHub.Status != nil {
		rec.GitHub.Status["state"] = github.StateError
	}
	return rec
}

func (d *Dispatcher) persist(rec core.Record) error {
	if d.store == nil {
		return nil
	}
	data, err := json.MarshalIndent(rec.Redacted(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return d.store.WriteFile("status", append(data, '\n'))
}

var newline = []byte{'\n'}

func (d *Dispatcher) writeLog(chunks ...[]byte) {
	if d.runLog == nil {
		return
	}
	for _, p := range chunks {
		if _, err := d.runLog.Write(p); err != nil {
			d.logger.Error("write run log", "err", err)
			return
		}
	}
}

// Close releases reporters that hold resources for the run.
func (d *Dispatcher) Close(ctx context.Context) {
	for _, reporter := range d.reporters {
		closer, ok := reporter.(core.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(ctx); err != nil {
			d.logger.Warn("close reporter", "reporter", reporter.Name(), "err", err)
		}
	}
}
