// Package githubchain runs declarative GitHub request chains: records
// carrying github.token and an ordered github.requests list. Each request
// may reference earlier responses through ":name.path" placeholders.
package githubchain

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modoterra/logsink/pkg/core"
	"github.com/modoterra/logsink/pkg/expand"
	"github.com/modoterra/logsink/pkg/github"
)

// Reporter executes github.requests in order.
type Reporter struct {
	client *github.Client
	logger *slog.Logger
}

// New creates a chain reporter. The record's own token replaces whatever
// token client carries.
func New(client *github.Client, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{client: client, logger: logger}
}

func (r *Reporter) Name() string { return "github-requests" }

func (r *Reporter) Push(ctx context.Context, rec core.Record) error {
	if !rec.HasGitHubRequests() {
		return nil
	}
	client := r.client.WithToken(rec.GitHub.Token)

	results := map[string]any{"link": rec.Link}
	for i, req := range rec.GitHub.Requests {
		resolved, err := expand.String(req.Resource, results)
		if err != nil {
			return fmt.Errorf("request %d: resource: %w", i, err)
		}
		resource, ok := resolved.(string)
		if !ok || resource == "" {
			return fmt.Errorf("request %d: resource %q does not expand to a path", i, req.Resource)
		}

		var data any
		if req.Data != nil {
			if data, err = expand.Expand(req.Data, results); err != nil {
				return fmt.Errorf("request %d: data: %w", i, err)
			}
		}

		method := strings.ToUpper(req.Method)
		if method == "" {
			method = http.MethodGet
			if data != nil {
				method = http.MethodPost
			}
		}

		var decoded any
		var into any
		if req.Result != "" {
			into = &decoded
		}
		if err := client.DoJSON(ctx, method, resource, data, into); err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
		r.logger.Debug("github request done", "index", i, "method", method, "resource", resource)

		if req.Result == "" {
			continue
		}
		// A later request with the same result name wins.
		results[req.Result] = decoded
	}
	return nil
}
