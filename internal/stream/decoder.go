// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/rs/zerolog"
)

// Prefix starts every record line.
const Prefix = "data: "

// MaxLineSize is the largest record line accepted (1MB). Longer lines are
// discarded as they are read and dropped as malformed; at most
// MaxLineSize bytes of a line are ever buffered.
const MaxLineSize = 1 << 20

// dropPreview is how much of an oversized line is kept for the drop log.
const dropPreview = 64

// =============================================================================
// DECODE ERRORS
// =============================================================================

// DecodeError describes a record line that could not be decoded. The
// decoder never returns it from Next; it is logged, handed to the drop
// handler, and the stream continues.
type DecodeError struct {
	Line string
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed stream record: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

var (
	errUnknownType = errors.New("unknown record type")
	errLineTooLong = errors.New("record line too long")
)

// =============================================================================
// DECODER
// =============================================================================

// Stats counts what a Decoder has seen so far.
type Stats struct {
	Lines   int // all lines read, including blank separators
	Records int // records returned by Next
	Dropped int // record lines dropped as malformed
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for dropped-record warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decoder) { d.logger = l }
}

// WithDropHandler registers a callback invoked for every dropped record.
func WithDropHandler(fn func(*DecodeError)) Option {
	return func(d *Decoder) { d.onDrop = fn }
}

// Decoder turns a chat stream into Events. The underlying bufio.Reader
// carries an incomplete trailing line over to the next read, so records
// may be split across transport chunks at any byte. A Decoder is
// forward-only and not safe for concurrent use.
type Decoder struct {
	reader *bufio.Reader
	line   []byte
	logger zerolog.Logger
	onDrop func(*DecodeError)
	stats  Stats
	err    error
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		reader: bufio.NewReader(r),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next record. It returns io.EOF once the stream has
// ended, and any transport error as-is. After an error every later call
// returns the same error.
func (d *Decoder) Next() (Event, error) {
	for d.err == nil {
		line, tooLong, err := d.readLine()
		if err != nil {
			d.err = err
			// An unterminated final line is still a candidate record.
			if len(line) == 0 {
				break
			}
		}
		d.stats.Lines++

		if tooLong {
			if bytes.HasPrefix(line, []byte(Prefix)) {
				d.drop(line, errLineTooLong)
			}
			continue
		}
		ev, ok := d.parseLine(line)
		if ok {
			d.stats.Records++
			return ev, nil
		}
	}
	return Event{}, d.err
}

// readLine reads through the next newline. A line longer than MaxLineSize
// is consumed without being buffered: only its first bytes are returned,
// with tooLong set. The returned slice is reused by the next call.
func (d *Decoder) readLine() ([]byte, bool, error) {
	d.line = d.line[:0]
	tooLong := false
	for {
		chunk, err := d.reader.ReadSlice('\n')
		switch {
		case tooLong:
		case len(d.line)+len(chunk) > MaxLineSize+len("\r\n"):
			tooLong = true
			if n := dropPreview - len(d.line); n > 0 {
				d.line = append(d.line, chunk[:min(n, len(chunk))]...)
			}
			d.line = d.line[:min(len(d.line), dropPreview)]
		default:
			d.line = append(d.line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return d.line, tooLong, err
	}
}

// All returns the remaining records as a sequence. Iteration stops at end
// of stream; a transport error is yielded once as the final element.
func (d *Decoder) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Stats returns counters for the lines read so far.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// parseLine decodes one line. Lines without the record prefix are skipped
// silently; record lines that fail to decode are dropped with a warning.
func (d *Decoder) parseLine(line []byte) (Event, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, []byte(Prefix)) {
		return Event{}, false
	}
	if len(line) > MaxLineSize {
		d.drop(line[:dropPreview], errLineTooLong)
		return Event{}, false
	}

	payload := line[len(Prefix):]
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		d.drop(payload, err)
		return Event{}, false
	}
	if !ev.Type.Valid() {
		d.drop(payload, fmt.Errorf("%w %q", errUnknownType, ev.Type))
		return Event{}, false
	}
	return ev, true
}

func (d *Decoder) drop(payload []byte, err error) {
	d.stats.Dropped++
	de := &DecodeError{Line: string(payload), Err: err}
	d.logger.Warn().
		Err(err).
		Int("line", d.stats.Lines).
		Int("bytes", len(payload)).
		Msg("STREAM_RECORD_DROPPED")
	if d.onDrop != nil {
		d.onDrop(de)
	}
}

// =============================================================================
// ENCODING
// =============================================================================

// Encode renders ev as one record line, newline included.
func Encode(ev Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode %s record: %w", ev.Type, err)
	}
	return Prefix + string(data) + "\n", nil
}

// WriteEvent writes ev followed by a blank separator line, the framing
// the backend uses on the wire.
func WriteEvent(w io.Writer, ev Event) error {
	line, err := Encode(ev)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, line+"\n")
	return err
}
