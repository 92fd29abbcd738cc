package main

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	"github.com/Paranoid-AF/ghostline"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// entry is one TOML record of the REPL log.
type entry struct {
	Request  requestEntry  `toml:"request"`
	Response responseEntry `toml:"response"`
}

type requestEntry struct {
	Timestamp   time.Time `toml:"timestamp"`
	Kind        string    `toml:"kind"`
	RequestID   int       `toml:"request_id"`
	Session     string    `toml:"session"`
	Language    string    `toml:"language"`
	Prefix      string    `toml:"prefix"`
	Suffix      string    `toml:"suffix"`
	Selection   string    `toml:"selection,omitempty"`
	Instruction string    `toml:"instruction,omitempty"`
}

type responseEntry struct {
	State     string      `toml:"state,omitempty"`
	Text      string      `toml:"text,omitempty"`
	ElapsedMs int64       `toml:"elapsed_ms"`
	Error     *errorEntry `toml:"error,omitempty"`
}

type errorEntry struct {
	Code      string `toml:"code"`
	Message   string `toml:"message"`
	ElapsedMs int64  `toml:"elapsed_ms,omitempty"`
	TimeoutMs int64  `toml:"timeout_ms,omitempty"`
}

func errorEntryFor(e *ghostline.Error) *errorEntry {
	if e == nil {
		return nil
	}
	return &errorEntry{Code: e.Code, Message: e.Message, ElapsedMs: e.ElapsedMs, TimeoutMs: e.TimeoutMs}
}

func completionEntry(session string, req *ghostline.Request, resp *ghostline.Response, elapsed time.Duration) entry {
	return entry{
		Request: requestEntry{
			Timestamp: time.Now().UTC().Truncate(time.Second),
			Kind:      "completion",
			RequestID: req.RequestID,
			Session:   session,
			Language:  req.Language,
			Prefix:    req.Prefix,
			Suffix:    req.Suffix,
		},
		Response: responseEntry{
			State:     resp.State,
			Text:      resp.Completion,
			ElapsedMs: elapsed.Milliseconds(),
			Error:     errorEntryFor(resp.Error),
		},
	}
}

func editEntry(session string, req *ghostline.EditRequest, resp *ghostline.EditResponse, elapsed time.Duration) entry {
	return entry{
		Request: requestEntry{
			Timestamp:   time.Now().UTC().Truncate(time.Second),
			Kind:        "edit",
			RequestID:   req.RequestID,
			Session:     session,
			Language:    req.Language,
			Prefix:      req.Prefix,
			Suffix:      req.Suffix,
			Selection:   req.Selection,
			Instruction: req.Instruction,
		},
		Response: responseEntry{
			Text:      resp.Text,
			ElapsedMs: elapsed.Milliseconds(),
			Error:     errorEntryFor(resp.Error),
		},
	}
}

// writeEntry appends e to w as a TOML document separated by a comment rule.
func writeEntry(w io.Writer, e entry) error {
	if _, err := io.WriteString(w, "# ------------------------------------------------------------\n"); err != nil {
		return err
	}
	enc := toml.NewEncoder(w)
	if err := enc.Encode(e); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
