// Package journal mirrors record messages into the systemd journal so a
// host's runs can be followed with journalctl.
package journal

import (
	"context"

	"github.com/coreos/go-systemd/v22/journal"

	"github.com/modoterra/logsink/pkg/core"
	"github.com/modoterra/logsink/pkg/github"
)

// Reporter sends each record message as a journal entry tagged with the
// run identifier.
type Reporter struct {
	identifier string
	send       func(message string, priority journal.Priority, vars map[string]string) error
}

// Available reports whether a journal socket is reachable.
func Available() bool {
	return journal.Enabled()
}

// New creates a journal reporter for the run named identifier.
func New(identifier string) *Reporter {
	return &Reporter{identifier: identifier, send: journal.Send}
}

func (r *Reporter) Name() string { return "journal" }

func (r *Reporter) Push(ctx context.Context, rec core.Record) error {
	if rec.Message == "" {
		return nil
	}
	return r.send(rec.Message, priority(rec), map[string]string{
		"SYSLOG_IDENTIFIER": "sink",
		"SINK_IDENTIFIER":   r.identifier,
		"SINK_LINK":         rec.Link,
	})
}

// priority maps a GitHub status state onto a journal priority.
func priority(rec core.Record) journal.Priority {
	if rec.GitHub == nil {
		return journal.PriInfo
	}
	switch rec.GitHub.Status["state"] {
	case github.StateFailure:
		return journal.PriWarning
	case github.StateError:
		return journal.PriErr
	case github.StateSuccess:
		return journal.PriNotice
	default:
		return journal.PriInfo
	}
}
