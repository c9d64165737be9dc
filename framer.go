package mcpcheck

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/shaharia-lab/mcpcheck/observability"
)

// Generous limit so a single tools/list response with large schemas still
// fits on one line.
const maxFrameBytes = 4 * 1024 * 1024

// Framer splits a server's raw output stream into discrete JSON-RPC
// envelopes. Servers routinely interleave free-text diagnostics with
// protocol traffic on stdout, so anything that is not a well-formed
// envelope carrying the protocol tag and an id is silently discarded.
type Framer struct {
	scanner *bufio.Scanner
	logger  observability.Logger
}

// NewFramer creates a Framer reading newline-delimited messages from r.
func NewFramer(r io.Reader, logger observability.Logger) *Framer {
	if logger == nil {
		logger = observability.NewDefaultLogger()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	return &Framer{scanner: scanner, logger: logger}
}

// Next returns the next decodable response envelope, skipping log noise and
// malformed lines. It returns io.EOF once the stream ends.
func (f *Framer) Next() (*Message, error) {
	for f.scanner.Scan() {
		line := strings.TrimSpace(f.scanner.Text())
		if line == "" {
			continue
		}

		// Diagnostic output, not protocol traffic. Never attempt to parse.
		if line[0] != '{' && line[0] != '[' {
			f.logger.Debugf("discarding non-protocol output: %s", line)
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			f.logger.WithErr(err).Debug("discarding undecodable line")
			continue
		}

		if !msg.isResponse() {
			f.logger.Debug("discarding envelope without protocol tag or id")
			continue
		}

		return &msg, nil
	}

	if err := f.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
