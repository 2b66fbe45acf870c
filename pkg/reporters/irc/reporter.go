// Package irc relays record messages to IRC channels. A single background
// worker owns the connection; Push only enqueues.
package irc

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/modoterra/logsink/pkg/core"
)

const (
	defaultQueueSize       = 64
	defaultRegisterTimeout = time.Minute
)

// Config describes the relay connection.
type Config struct {
	// Address is host:port of the IRC server.
	Address string
	Nick    string
	Login   string

	// QueueSize bounds pending messages; Push drops messages once full.
	QueueSize int
	// RegisterTimeout bounds the wait for the server to acknowledge Nick.
	RegisterTimeout time.Duration
	// Dial overrides the connection dialer.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// message is one queued PRIVMSG.
type message struct {
	channel string
	text    string
}

// Reporter relays messages to IRC. The worker starts on the first message
// that targets a channel, so runs that never mention IRC never connect.
type Reporter struct {
	config Config
	logger *slog.Logger

	start sync.Once
	stop  sync.Once
	queue chan message
	done  chan struct{}
	err   error
}

// New creates an IRC reporter.
func New(config Config, logger *slog.Logger) *Reporter {
	if config.QueueSize <= 0 {
		config.QueueSize = defaultQueueSize
	}
	if config.RegisterTimeout <= 0 {
		config.RegisterTimeout = defaultRegisterTimeout
	}
	if config.Login == "" {
		config.Login = config.Nick
	}
	if config.Dial == nil {
		var dialer net.Dialer
		config.Dial = dialer.DialContext
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		config: config,
		logger: logger.With("component", "irc"),
		queue:  make(chan message, config.QueueSize),
		done:   make(chan struct{}),
	}
}

func (r *Reporter) Name() string { return "irc" }

// Push enqueues the record's message for its channel. It never blocks.
func (r *Reporter) Push(ctx context.Context, rec core.Record) error {
	if rec.IRC == nil || rec.IRC.Channel == "" || rec.Message == "" {
		return nil
	}
	r.start.Do(func() {
		go func() {
			defer close(r.done)
			if err := r.run(); err != nil {
				r.err = err
				r.logger.Error("relay failed", "address", r.config.Address, "err", err)
			}
		}()
	})

	msg := message{channel: rec.IRC.Channel, text: singleLine(rec.Message)}
	select {
	case r.queue <- msg:
	default:
		r.logger.Warn("relay queue full, dropping message", "channel", msg.channel)
	}
	return nil
}

// Close signals the worker that no more messages will arrive and waits for
// it to deliver the queue and quit. It returns the worker's error, if any.
func (r *Reporter) Close(ctx context.Context) error {
	started := true
	r.start.Do(func() {
		started = false
		close(r.done)
	})
	r.stop.Do(func() { close(r.queue) })
	if !started {
		return nil
	}
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// singleLine keeps a message from smuggling extra IRC commands.
func singleLine(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(c rune) bool {
		return c == '\r' || c == '\n'
	}), " ")
}
