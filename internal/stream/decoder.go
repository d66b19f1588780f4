// Package stream decodes Server-Sent Event completion streams into
// incremental content deltas.
package stream

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// chunkRecord is the wire shape of one streamed completion frame.
// Only the first choice's delta content is consumed.
type chunkRecord struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Decoder extracts content deltas from an SSE byte stream fed in
// arbitrary chunks. Partial lines are buffered across Feed calls, so the
// emitted delta sequence is the same for any chunking of the same bytes.
// A Decoder is single-use; construct a new one per stream.
type Decoder struct {
	pending []byte
	done    bool
}

// NewDecoder creates a decoder for a single stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Done reports whether the terminator sentinel has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed appends a chunk to the pending buffer and returns the content
// deltas of every frame that completed. Bytes after the sentinel are
// ignored.
func (d *Decoder) Feed(chunk []byte) []string {
	if d.done {
		return nil
	}
	d.pending = append(d.pending, chunk...)
	return d.drain(false)
}

// Finish drains whatever remains buffered once the stream has closed.
// A trailing line that still fails to parse is dropped rather than held.
func (d *Decoder) Finish() []string {
	if d.done {
		return nil
	}
	return d.drain(true)
}

func (d *Decoder) drain(flush bool) []string {
	var deltas []string

	for !d.done {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			break
		}
		rest := d.pending[idx+1:]

		line := strings.TrimSuffix(string(d.pending[:idx]), "\r")
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, dataPrefix) {
			d.pending = rest
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == doneSentinel {
			d.done = true
			d.pending = nil
			break
		}

		var rec chunkRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			// A frame split mid-record by the transport looks like a
			// parse failure. If nothing follows it yet, push the line
			// back and wait for more bytes; once a later line exists
			// (or the stream ended) it is genuinely malformed and is
			// skipped so one bad frame cannot stall the answer.
			if !flush && bytes.IndexByte(rest, '\n') < 0 {
				break // line stays at the front of the buffer
			}
			d.pending = rest
			continue
		}
		d.pending = rest

		if len(rec.Choices) > 0 && rec.Choices[0].Delta.Content != "" {
			deltas = append(deltas, rec.Choices[0].Delta.Content)
		}
	}

	if flush {
		d.pending = nil
	}
	return deltas
}

// Stream reads r in chunks, decoding as bytes arrive and invoking fn for
// each delta in order. It returns when the sentinel is seen, the stream
// closes, or fn returns an error.
func Stream(r io.Reader, fn func(delta string) error) error {
	d := NewDecoder()
	buf := make([]byte, 512)

	for !d.Done() {
		n, err := r.Read(buf)
		if n > 0 {
			for _, delta := range d.Feed(buf[:n]) {
				if fnErr := fn(delta); fnErr != nil {
					return fnErr
				}
			}
		}
		if err == io.EOF {
			for _, delta := range d.Finish() {
				if fnErr := fn(delta); fnErr != nil {
					return fnErr
				}
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}
