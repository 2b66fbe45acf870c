package irc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	errNickInUse       = errors.New("irc: nickname already in use")
	errRegisterTimeout = errors.New("irc: server did not acknowledge registration")
)

// run connects, registers, and relays queued messages until the queue is
// closed. Messages queued before registration completes are held back.
func (r *Reporter) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := r.config.Dial(ctx, "tcp", r.config.Address)
	if err != nil {
		return fmt.Errorf("irc: dial %s: %w", r.config.Address, err)
	}
	defer conn.Close()

	if err := writeLines(conn,
		"NICK "+r.config.Nick,
		fmt.Sprintf("USER %s 0 * :%s", r.config.Login, r.config.Login),
	); err != nil {
		return err
	}

	var quitting atomic.Bool
	incoming := make(chan string)
	stop := make(chan struct{})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(incoming)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			select {
			case incoming <- strings.TrimRight(scanner.Text(), "\r"):
			case <-stop:
				return nil
			}
		}
		if quitting.Load() {
			return nil
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("irc: read: %w", err)
		}
		return fmt.Errorf("irc: %w", io.ErrUnexpectedEOF)
	})
	group.Go(func() error {
		err := r.relay(groupCtx, conn, incoming)
		quitting.Store(true)
		close(stop)
		// Unblock the reader.
		_ = conn.SetReadDeadline(time.Now())
		return err
	})
	return group.Wait()
}

func (r *Reporter) relay(ctx context.Context, conn net.Conn, incoming <-chan string) error {
	var (
		registered bool
		closing    bool
		pending    []message
		joined     = make(map[string]bool)
		queue      = r.queue
	)

	deliver := func(msg message) error {
		if !joined[msg.channel] {
			if err := writeLines(conn, "JOIN "+msg.channel); err != nil {
				return err
			}
			joined[msg.channel] = true
		}
		return writeLines(conn, fmt.Sprintf("PRIVMSG %s :%s", msg.channel, msg.text))
	}

	timer := time.NewTimer(r.config.RegisterTimeout)
	defer timer.Stop()

	for {
		if registered && closing {
			return writeLines(conn, "QUIT :done")
		}

		select {
		case line, ok := <-incoming:
			if !ok {
				return nil
			}
			if token, found := strings.CutPrefix(line, "PING "); found {
				if err := writeLines(conn, "PONG "+token); err != nil {
					return err
				}
				continue
			}
			if isNumeric(line, "433") {
				return errNickInUse
			}
			if strings.HasPrefix(line, "ERROR ") {
				return fmt.Errorf("irc: server error: %s", strings.TrimPrefix(line, "ERROR "))
			}
			if !registered && mentions(line, r.config.Nick) {
				registered = true
				r.logger.Debug("registered", "nick", r.config.Nick)
				for _, msg := range pending {
					if err := deliver(msg); err != nil {
						return err
					}
				}
				pending = nil
			}

		case msg, ok := <-queue:
			if !ok {
				closing = true
				queue = nil
				continue
			}
			if !registered {
				pending = append(pending, msg)
				continue
			}
			if err := deliver(msg); err != nil {
				return err
			}

		case <-timer.C:
			if !registered {
				return errRegisterTimeout
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeLines(conn net.Conn, lines ...string) error {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	if _, err := io.WriteString(conn, b.String()); err != nil {
		return fmt.Errorf("irc: write: %w", err)
	}
	return nil
}

// mentions reports whether nick appears as a parameter of a server line.
func mentions(line, nick string) bool {
	fields := strings.Fields(line)
	for i, field := range fields {
		if i == 0 && strings.HasPrefix(field, ":") {
			continue
		}
		if strings.TrimPrefix(field, ":") == nick {
			return true
		}
	}
	return false
}

func isNumeric(line, code string) bool {
	fields := strings.Fields(line)
	return len(fields) >= 2 && fields[1] == code
}
