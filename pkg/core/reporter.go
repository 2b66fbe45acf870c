package core

import "context"

// Reporter publishes status records to an external system. A failing
// reporter never stops the others; the dispatcher logs its error.
type Reporter interface {
	// Name returns the reporter's identifier (e.g., "github", "irc").
	Name() string

	// Push publishes rec. The record's Link is already absolute.
	Push(ctx context.Context, rec Record) error
}

// Closer is implemented by reporters that hold resources for the whole run.
type Closer interface {
	Close(ctx context.Context) error
}
