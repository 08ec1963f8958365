package workerpool

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// frameWriter serializes commands/events as newline-delimited JSON (the
// simplest framing explicitly allowed by spec §9 "length-prefixed
// serialization (JSON or binary)"); NDJSON keeps the child-side reader a
// plain bufio.Scanner, mirroring protocol.MarshalEvent's use in the existing
// CLI engine.
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: w}
}

func (f *frameWriter) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// frameReader reads newline-delimited JSON frames.
type frameReader struct {
	sc *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &frameReader{sc: sc}
}

// Next blocks for the next line; returns io.EOF when the stream closes.
func (f *frameReader) Next() ([]byte, error) {
	if f.sc.Scan() {
		line := make([]byte, len(f.sc.Bytes()))
		copy(line, f.sc.Bytes())
		return line, nil
	}
	if err := f.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// CommandDecoder reads framed commands from a parent, for use by the worker
// binary itself (the child side of the pipe the Pool's Spawner starts).
type CommandDecoder struct {
	r *frameReader
}

// NewCommandDecoder wraps r (typically os.Stdin in the worker binary).
func NewCommandDecoder(r io.Reader) *CommandDecoder {
	return &CommandDecoder{r: newFrameReader(r)}
}

// Decode blocks for the next command; returns io.EOF when the parent closes
// the pipe (e.g. after killing the process).
func (d *CommandDecoder) Decode() (Command, error) {
	line, err := d.r.Next()
	if err != nil {
		return nil, err
	}
	return DecodeCommand(line)
}

// EventEncoder writes framed events to a parent, for use by the worker
// binary itself (the child side of the pipe).
type EventEncoder struct {
	w *frameWriter
}

// NewEventEncoder wraps w (typically os.Stdout in the worker binary).
func NewEventEncoder(w io.Writer) *EventEncoder {
	return &EventEncoder{w: newFrameWriter(w)}
}

// Encode writes one event frame. Safe for concurrent use.
func (e *EventEncoder) Encode(ev Event) error {
	return e.w.WriteJSON(ev)
}
