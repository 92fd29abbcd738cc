package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Paranoid-AF/ghostline"
)

func TestWriteEntryIsValidTOML(t *testing.T) {
	req := &ghostline.Request{RequestID: 3, Language: "go", Prefix: "fmt.\"x\"\n\tif ", Suffix: "}\n"}
	resp := &ghostline.Response{
		State: "timed_out",
		Error: &ghostline.Error{Code: "timeout", Message: "completion timed out", ElapsedMs: 2001, TimeoutMs: 2000},
	}

	var buf bytes.Buffer
	if err := writeEntry(&buf, completionEntry("repl-1", req, resp, 2001*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "# ") {
		t.Errorf("expected a separator comment, got %q", buf.String())
	}

	var got entry
	if _, err := toml.Decode(buf.String(), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, buf.String())
	}
	if got.Request.Prefix != req.Prefix || got.Request.Suffix != req.Suffix {
		t.Errorf("buffer text not preserved: %+v", got.Request)
	}
	if got.Request.Kind != "completion" || got.Request.Session != "repl-1" {
		t.Errorf("request = %+v", got.Request)
	}
	if got.Response.Error == nil || got.Response.Error.Code != "timeout" || got.Response.Error.TimeoutMs != 2000 {
		t.Errorf("error = %+v", got.Response.Error)
	}
	if got.Response.ElapsedMs != 2001 {
		t.Errorf("elapsed_ms = %d", got.Response.ElapsedMs)
	}
}

func TestWriteEditEntryOmitsEmpty(t *testing.T) {
	req := &ghostline.EditRequest{RequestID: 1, Language: "go", Selection: "x := 1", Instruction: "rename x to y"}
	resp := &ghostline.EditResponse{Text: "y := 1"}

	var buf bytes.Buffer
	if err := writeEntry(&buf, editEntry("s", req, resp, 10*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "[response.error]") {
		t.Errorf("nil error should be omitted:\n%s", out)
	}
	if !strings.Contains(out, `instruction = "rename x to y"`) {
		t.Errorf("missing instruction:\n%s", out)
	}
}

func TestCRLFWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &crlfWriter{w: &buf}
	n, err := w.Write([]byte("a\nb\n"))
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if buf.String() != "a\r\nb\r\n" {
		t.Errorf("got %q", buf.String())
	}
}
