// Package chat runs one conversation: it persists both sides of each turn and
// renders the assistant reply as it streams in.
package chat

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/pysugar/assistant/internal/logging"
	"github.com/pysugar/assistant/internal/upstream"
	"github.com/pysugar/assistant/internal/util"
	"go.uber.org/zap"
)

const (
	dataPrefix = "data:"
	sentinel   = "[DONE]"
)

// ErrTruncated means the stream closed before its [DONE] marker, so the reply
// is incomplete.
var ErrTruncated = errors.New("reply stream ended before completion")

// Decoder turns an event stream into completion chunks.
type Decoder struct {
	scanner   *bufio.Scanner
	done      bool
	sentinel  bool
	malformed int
}

// NewDecoder reads records from r. Records may be split across reads.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	// Increase scanner buffer to handle large SSE frames (8MB limit)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next chunk. It returns io.EOF after the sentinel or when
// the stream ends. Comment, blank and non-data lines are skipped, and so are
// data lines that are not valid JSON.
func (d *Decoder) Next() (upstream.StreamChunk, error) {
	for !d.done && d.scanner.Scan() {
		line := strings.TrimRight(d.scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == sentinel {
			d.done, d.sentinel = true, true
			break
		}
		var chunk upstream.StreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			d.malformed++
			logging.L().Debug("⚠️ Skipping malformed stream record",
				zap.String("data", util.TruncateLog(payload, 200)), zap.Error(err))
			continue
		}
		return chunk, nil
	}
	d.done = true
	if err := d.scanner.Err(); err != nil {
		return upstream.StreamChunk{}, err
	}
	return upstream.StreamChunk{}, io.EOF
}

// SawSentinel reports whether the stream was terminated by the end marker.
func (d *Decoder) SawSentinel() bool { return d.sentinel }

// Malformed counts skipped records.
func (d *Decoder) Malformed() int { return d.malformed }
