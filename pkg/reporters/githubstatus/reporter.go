// Package githubstatus posts legacy commit statuses: records carrying
// github.resource and github.status.
package githubstatus

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modoterra/logsink/pkg/core"
	"github.com/modoterra/logsink/pkg/github"
)

// maxDescription is GitHub's limit for a status description, in characters.
const maxDescription = 140

// Reporter posts github.status to github.resource.
type Reporter struct {
	client *github.Client
	logger *slog.Logger
}

// New creates a legacy status reporter. The client carries the token read
// from the configured token file, if any.
func New(client *github.Client, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{client: client, logger: logger}
}

func (r *Reporter) Name() string { return "github" }

func (r *Reporter) Push(ctx context.Context, rec core.Record) error {
	if !rec.HasGitHubStatus() {
		return nil
	}

	payload := make(map[string]any, len(rec.GitHub.Status)+2)
	for k, v := range rec.GitHub.Status {
		payload[k] = v
	}
	if _, ok := payload["description"]; !ok && rec.Message != "" {
		payload["description"] = truncate(rec.Message, maxDescription)
	}
	if _, ok := payload["target_url"]; !ok {
		payload["target_url"] = rec.Link
	}

	if _, err := r.client.Do(ctx, http.MethodPost, rec.GitHub.Resource, payload); err != nil {
		if github.IsRateLimited(err) {
			r.logger.Warn("github rate limit exhausted, status not posted", "resource", rec.GitHub.Resource, "state", payload["state"])
		}
		return fmt.Errorf("post status to %s: %w", rec.GitHub.Resource, err)
	}
	r.logger.Debug("github status posted", "resource", rec.GitHub.Resource, "state", payload["state"])
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
