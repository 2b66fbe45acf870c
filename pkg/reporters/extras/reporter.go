// Package extras downloads the auxiliary files a record lists under
// "extras" into the run directory, next to the log.
package extras

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/modoterra/logsink/pkg/core"
)

// maxSize caps a single download.
const maxSize = 256 << 20

// Store creates files in the run directory.
type Store interface {
	Create(name string) (*os.File, error)
}

// Reporter fetches every URL in a record's extras list.
type Reporter struct {
	store  Store
	client *http.Client
	logger *slog.Logger

	// fetched remembers URLs already saved, since records repeat their
	// extras across updates.
	fetched map[string]bool
}

// reserved names belong to the sink itself.
var reserved = map[string]bool{"log": true, "status": true}

// New creates an extras reporter writing into store.
func New(store Store, client *http.Client, logger *slog.Logger) *Reporter {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{store: store, client: client, logger: logger, fetched: make(map[string]bool)}
}

func (r *Reporter) Name() string { return "extras" }

// Push downloads each listed URL. It keeps going past failures and returns
// them joined.
func (r *Reporter) Push(ctx context.Context, rec core.Record) error {
	var errs []error
	for _, raw := range rec.Extras {
		if r.fetched[raw] {
			continue
		}
		if err := r.fetch(ctx, raw); err != nil {
			errs = append(errs, fmt.Errorf("fetch %s: %w", raw, err))
			continue
		}
		r.fetched[raw] = true
	}
	return errors.Join(errs...)
}

func (r *Reporter) fetch(ctx context.Context, raw string) error {
	name, err := FileName(raw)
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return err
	}
	response, err := r.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", response.StatusCode)
	}

	file, err := r.store.Create(name)
	if err != nil {
		return err
	}
	n, copyErr := io.Copy(file, io.LimitReader(response.Body, maxSize))
	if closeErr := file.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return fmt.Errorf("write %s: %w", name, copyErr)
	}
	r.logger.Debug("extra saved", "name", name, "bytes", n)
	return nil
}

// FileName returns the local name for an extras URL: the last segment of
// its path.
func FileName(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	name := path.Base(u.Path)
	switch {
	case name == "." || name == "/" || name == "..":
		return "", fmt.Errorf("no file name in %q", raw)
	case reserved[name]:
		return "", fmt.Errorf("%q is reserved", name)
	}
	return name, nil
}
