package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const chunkSize = 64 << 10

// Recorder receives the records found at the edges of the stream.
type Recorder interface {
	Begin(ctx context.Context, line []byte) bool
	Finish(ctx context.Context, line []byte) bool
}

// Result describes how a stream ended.
type Result struct {
	// Finished reports whether the stream ended with a record.
	Finished bool
	// Attached reports whether a NUL byte introduced an archive payload.
	Attached bool
	// Payload yields the bytes following the NUL byte.
	Payload io.Reader
}

// Demux splits a worker's stream into log text, the opening and closing
// records, and an optional archive payload.
//
// Only a line shaped like a JSON object can close the stream, so only such
// a line is held back until the next one arrives; other text reaches the
// log as soon as its line is complete. Blank lines after a held line are
// held with it.
type Demux struct {
	recorder Recorder
	out      io.Writer

	buf     []byte
	started bool
	held    []byte
	holding bool
	trailer []byte
}

// NewDemux creates a demultiplexer writing log text to out.
func NewDemux(recorder Recorder, out io.Writer) *Demux {
	return &Demux{recorder: recorder, out: out}
}

// Run consumes r up to end of stream or the first NUL byte. The record
// bracketing is settled before Run returns, so the payload reader is only
// left to the caller.
func (m *Demux) Run(ctx context.Context, r io.Reader) (Result, error) {
	chunk := make([]byte, chunkSize)
	for {
		n, readErr := r.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			if i := bytes.IndexByte(data, 0); i >= 0 {
				m.buf = append(m.buf, data[:i]...)
				if err := m.lines(ctx); err != nil {
					return Result{}, err
				}
				finished, err := m.finish(ctx)
				if err != nil {
					return Result{}, err
				}
				rest := bytes.Clone(data[i+1:])
				payload := io.MultiReader(bytes.NewReader(rest), r)
				if errors.Is(readErr, io.EOF) {
					payload = bytes.NewReader(rest)
				}
				return Result{Finished: finished, Attached: true, Payload: payload}, nil
			}
			m.buf = append(m.buf, data...)
			if err := m.lines(ctx); err != nil {
				return Result{}, err
			}
		}

		if errors.Is(readErr, io.EOF) {
			finished, err := m.finish(ctx)
			return Result{Finished: finished}, err
		}
		if readErr != nil {
			// Settle the status before reporting the broken stream.
			_, _ = m.finish(ctx)
			return Result{}, fmt.Errorf("read stream: %w", readErr)
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
	}
}

// lines handles every complete line in the carry-over buffer.
func (m *Demux) lines(ctx context.Context) error {
	for {
		i := bytes.IndexByte(m.buf, '\n')
		if i < 0 {
			break
		}
		if err := m.line(ctx, m.buf[:i]); err != nil {
			return err
		}
		m.buf = m.buf[i+1:]
	}
	if len(m.buf) == 0 {
		m.buf = m.buf[:0:0]
	}
	return nil
}

func (m *Demux) line(ctx context.Context, line []byte) error {
	if !m.started {
		m.started = true
		if m.recorder.Begin(ctx, line) {
			return nil
		}
	}
	if m.holding && isBlank(line) {
		m.trailer = append(append(m.trailer, line...), '\n')
		return nil
	}
	if err := m.flush(); err != nil {
		return err
	}
	if recordShaped(line) {
		m.held = append(m.held[:0], line...)
		m.holding = true
		return nil
	}
	return m.write(line, newline)
}

// flush writes the held line and the blank lines after it to the log.
func (m *Demux) flush() error {
	if !m.holding {
		return nil
	}
	m.holding = false
	if err := m.write(m.held, newline, m.trailer); err != nil {
		return err
	}
	m.trailer = m.trailer[:0]
	return nil
}

// finish offers the closing record to the recorder: the unterminated
// remainder when it is record shaped, otherwise the held line, otherwise
// nothing. A remainder that is not a candidate is logged as text.
func (m *Demux) finish(ctx context.Context) (bool, error) {
	remainder := m.buf
	m.buf = nil
	if len(remainder) > 0 && recordShaped(remainder) {
		if err := m.flush(); err != nil {
			return false, err
		}
		return m.recorder.Finish(ctx, bytes.Clone(remainder)), nil
	}

	var candidate []byte
	if m.holding {
		candidate = bytes.Clone(m.held)
		m.holding = false
	}
	if err := m.write(m.trailer); err != nil {
		return false, err
	}
	m.trailer = nil
	if len(remainder) > 0 {
		if err := m.write(remainder, newline); err != nil {
			return false, err
		}
	}
	return m.recorder.Finish(ctx, candidate), nil
}

func (m *Demux) write(chunks ...[]byte) error {
	for _, p := range chunks {
		if len(p) == 0 {
			continue
		}
		if _, err := m.out.Write(p); err != nil {
			return fmt.Errorf("write log: %w", err)
		}
	}
	return nil
}

func isBlank(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}

func recordShaped(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
