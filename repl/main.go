// Command ghostline-repl is an interactive test REPL for ghostline completions.
// It runs the engine in-process on a raw terminal line editor: the text
// before the cursor is the prefix and the text after it the suffix. Entered
// lines accumulate into a buffer that precedes the current line. Results are
// shown on the tty and written as TOML records to stdout.
//
// Usage:
//
//	./ghostline-repl             # interactive, TOML on screen
//	./ghostline-repl > log.toml  # prompt on screen, TOML to file
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/generate"
	"github.com/Paranoid-AF/ghostline/timeout"
)

const prompt = "> "

// session holds the REPL's editing state.
type session struct {
	id        string
	language  string
	multiline bool
	lines     []string
	reqID     int
}

func (s *session) buffer() string {
	if len(s.lines) == 0 {
		return ""
	}
	return strings.Join(s.lines, "\n") + "\n"
}

func main() {
	editor, err := NewEditor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer editor.Close()

	tty := editor.Tty()
	slog.SetDefault(slog.New(slog.NewTextHandler(&crlfWriter{w: os.Stderr}, &slog.HandlerOptions{Level: slog.LevelWarn})))
	ghostline.LoadEnvFiles(ghostline.EnvPath(), ".env")

	s := &session{id: "repl-" + uuid.NewString()[:8], language: "go"}

	fmt.Fprintf(tty, "\033[2J\033[H") // clear screen
	fmt.Fprintf(tty, "ghostline repl (session %s)\r\n", s.id)
	fmt.Fprintf(tty, "\r\ncommands:\r\n")
	fmt.Fprintf(tty, "  :lang <id>          set the buffer language (now %s)\r\n", s.language)
	fmt.Fprintf(tty, "  :multi              toggle multi-line completions\r\n")
	fmt.Fprintf(tty, "  :edit <instruction> rewrite the last buffer line\r\n")
	fmt.Fprintf(tty, "  :clear              empty the buffer\r\n")
	fmt.Fprintf(tty, "  :stats              show cache statistics\r\n")
	fmt.Fprintf(tty, "  :quit               exit\r\n\r\n")

	engine := generate.NewEngine(context.Background(),
		generate.WithRetryPrompter(ttyPrompter(editor)))
	defer engine.Close()

	// stdout writer: converts \n → \r\n when stdout is a terminal (raw mode),
	// passes \n through unchanged when redirected to a file.
	out := termWriter(os.Stdout)

	for {
		text, cursorPos, err := editor.ReadLine(prompt)
		if err == io.EOF || err == ErrInterrupt {
			break
		}
		if err != nil {
			fmt.Fprintf(tty, "read error: %v\r\n", err)
			break
		}

		if text == ":quit" || text == ":q" {
			break
		}
		if strings.HasPrefix(text, ":") {
			runCommand(tty, out, engine, s, text)
			continue
		}
		if text == "" {
			continue
		}

		s.reqID++
		req := &ghostline.Request{
			RequestID: s.reqID,
			SessionID: s.id,
			Language:  s.language,
			Prefix:    s.buffer() + text[:cursorPos],
			Suffix:    text[cursorPos:],
			Multiline: s.multiline,
		}

		start := time.Now()
		resp := engine.Complete(context.Background(), req)
		elapsed := time.Since(start)

		// Show brief summary on tty.
		switch {
		case resp.Error != nil:
			fmt.Fprintf(tty, "error [%s]: %s\r\n", resp.Error.Code, resp.Error.Message)
		case resp.Completion == "":
			fmt.Fprintf(tty, "(%s)\r\n", resp.State)
		default:
			// The completion is dimmed between the prefix and the suffix.
			fmt.Fprintf(tty, "  %s\x1b[2m%s\x1b[0m%s  [%s, %dms]\r\n",
				text[:cursorPos], strings.ReplaceAll(resp.Completion, "\n", "\r\n  "), text[cursorPos:],
				resp.State, elapsed.Milliseconds())
		}
		fmt.Fprintf(tty, "\r\n")

		s.lines = append(s.lines, text[:cursorPos]+resp.Completion+text[cursorPos:])

		// TOML output to stdout (crlfWriter handles raw mode).
		if err := writeEntry(out, completionEntry(s.id, req, resp, elapsed)); err != nil {
			fmt.Fprintf(tty, "write error: %v\r\n", err)
		}
	}
}

func runCommand(tty, out io.Writer, engine *generate.Engine, s *session, text string) {
	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case ":lang":
		if arg == "" {
			fmt.Fprintf(tty, "language: %s\r\n\r\n", s.language)
			return
		}
		s.language = arg
		fmt.Fprintf(tty, "language: %s\r\n\r\n", s.language)

	case ":multi":
		s.multiline = !s.multiline
		fmt.Fprintf(tty, "multi-line: %v\r\n\r\n", s.multiline)

	case ":clear":
		s.lines = nil
		fmt.Fprintf(tty, "buffer cleared\r\n\r\n")

	case ":stats":
		st, ok := engine.CacheStats(s.id)
		if !ok {
			fmt.Fprintf(tty, "no completions yet\r\n\r\n")
			return
		}
		fmt.Fprintf(tty, "cache: %d entries, %d hits, %d misses, %d evictions\r\n",
			st.Entries, st.Hits, st.Misses, st.Evictions)
		fmt.Fprintf(tty, "buffer: %d lines\r\n\r\n", len(s.lines))

	case ":edit":
		if arg == "" {
			fmt.Fprintf(tty, "usage: :edit <instruction>\r\n\r\n")
			return
		}
		if len(s.lines) == 0 {
			fmt.Fprintf(tty, "buffer is empty\r\n\r\n")
			return
		}
		last := len(s.lines) - 1
		s.reqID++
		req := &ghostline.EditRequest{
			Type:        ghostline.TypeEdit,
			RequestID:   s.reqID,
			SessionID:   s.id,
			Language:    s.language,
			Prefix:      strings.Join(s.lines[:last], "\n"),
			Selection:   s.lines[last],
			Instruction: arg,
		}
		if req.Prefix != "" {
			req.Prefix += "\n"
		}

		start := time.Now()
		resp := engine.Edit(context.Background(), req)
		elapsed := time.Since(start)

		switch {
		case resp.Error != nil:
			fmt.Fprintf(tty, "error [%s]: %s\r\n\r\n", resp.Error.Code, resp.Error.Message)
		case resp.Text == "":
			fmt.Fprintf(tty, "(no edit)\r\n\r\n")
		default:
			s.lines[last] = resp.Text
			fmt.Fprintf(tty, "  %s  [%dms]\r\n\r\n", strings.ReplaceAll(resp.Text, "\n", "\r\n  "), elapsed.Milliseconds())
		}
		if err := writeEntry(out, editEntry(s.id, req, resp, elapsed)); err != nil {
			fmt.Fprintf(tty, "write error: %v\r\n", err)
		}

	default:
		fmt.Fprintf(tty, "unknown command %s\r\n\r\n", name)
	}
}

// ttyPrompter asks on the terminal whether a timed-out operation should be
// retried with a longer deadline.
func ttyPrompter(editor *Editor) timeout.RetryPrompter {
	return func(_ context.Context, ev timeout.TimeoutEvent) bool {
		q := fmt.Sprintf("%s timed out after %s; retry with a longer timeout (%s)? [y/N] ",
			ev.Operation, ev.Elapsed.Round(time.Millisecond), ev.RetryTimeout)
		return editor.Confirm(q)
	}
}
