package prompt

import (
	"testing"

	"github.com/Paranoid-AF/ghostline"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name   string
		cc     ghostline.CompletionContext
		raw    string
		want   string
		wantOK bool
	}{
		{
			name: "plain", cc: ghostline.CompletionContext{Prefix: "fmt.Pr"},
			raw: "intln(x)", want: "intln(x)", wantOK: true,
		},
		{
			name: "fenced", cc: ghostline.CompletionContext{Prefix: "x := "},
			raw: "```go\nfoo()\n```", want: "foo()", wantOK: true,
		},
		{
			name: "echoed current line", cc: ghostline.CompletionContext{Prefix: "func main() {\n\tfmt.Pr"},
			raw: "fmt.Println()", want: "intln()", wantOK: true,
		},
		{
			name: "suffix overlap", cc: ghostline.CompletionContext{Prefix: "foo(", Suffix: ")\n"},
			raw: "a, b)", want: "a, b", wantOK: true,
		},
		{
			name: "single line only", cc: ghostline.CompletionContext{Prefix: "x"},
			raw: " = 1\ny = 2", want: " = 1", wantOK: true,
		},
		{
			name: "multiline kept", cc: ghostline.CompletionContext{Prefix: "if x {", Multiline: true},
			raw: "\n\treturn\n}\n", want: "\n\treturn\n}", wantOK: true,
		},
		{
			name: "chatter only", cc: ghostline.CompletionContext{Prefix: "x"},
			raw: "Sure! I can help with that.", wantOK: false,
		},
		{
			name: "chatter then code", cc: ghostline.CompletionContext{Prefix: "x := ", Multiline: true},
			raw: "Here is the completion:\n42", want: "42", wantOK: true,
		},
		{
			name: "empty", cc: ghostline.CompletionContext{Prefix: "x"},
			raw: "  \n", wantOK: false,
		},
		{
			name: "only repeats suffix", cc: ghostline.CompletionContext{Prefix: "f(", Suffix: ")"},
			raw: ")", wantOK: false,
		},
		{
			name: "cursor marker echoed", cc: ghostline.CompletionContext{Prefix: "ls "},
			raw: "<CURSOR>-la", want: "-la", wantOK: true,
		},
		{
			name: "shell spaces collapsed", cc: ghostline.CompletionContext{Language: "bash", Prefix: "git "},
			raw: "commit  -m   x", want: "commit -m x", wantOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Clean(tt.cc, tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("Clean(%q) ok = %v, want %v (got %q)", tt.raw, ok, tt.wantOK, got)
			}
			if ok && got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCleanEdit(t *testing.T) {
	got, ok := CleanEdit("```go\n<SELECTION>const two = 2</SELECTION>\n```")
	if !ok || got != "const two = 2" {
		t.Errorf("unexpected edit %q %v", got, ok)
	}
	if _, ok := CleanEdit("\n\n"); ok {
		t.Error("expected empty edit rejected")
	}
}
