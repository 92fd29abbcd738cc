// Package prompt renders the messages sent to the completion backend and
// cleans what comes back.
package prompt

import (
	"log/slog"
	"os"
	"strings"
	"text/template"

	"github.com/Paranoid-AF/ghostline"
	defaults "github.com/Paranoid-AF/ghostline/default"
)

// CursorMarker marks the cursor position in the user message.
const CursorMarker = "<CURSOR>"

// Data holds the data passed to the prompt templates.
type Data struct {
	Language  string
	Filename  string
	Multiline bool
}

// Edit describes a rewrite of the selected text.
type Edit struct {
	Language    string
	Filename    string
	Prefix      string
	Selection   string
	Suffix      string
	Instruction string
}

var promptFuncs = template.FuncMap{
	"lower": strings.ToLower,
	"join": func(items []string, sep string) string {
		return strings.Join(items, sep)
	},
}

// Builder renders system and user messages. It is safe for concurrent use.
type Builder struct {
	completion *template.Template
	edit       *template.Template
	log        *slog.Logger
}

// NewBuilder parses the completion template custom, falling back to the
// built-in template when custom is empty or invalid.
func NewBuilder(custom string, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	b := &Builder{log: log}
	b.completion = mustParse("completion", defaults.DefaultPrompt)
	if custom != "" {
		t, err := template.New("completion").Funcs(promptFuncs).Parse(custom)
		if err != nil {
			log.Warn("failed to parse prompt template, falling back to default", "error", err)
		} else {
			b.completion = t
		}
	}
	b.edit = mustParse("edit", defaults.DefaultEditPrompt)
	return b
}

// LoadCustom reads a custom prompt template.
// Returns empty string if no custom prompt exists.
func LoadCustom(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	slog.Info("loaded custom prompt", "path", path)
	return string(data)
}

func mustParse(name, src string) *template.Template {
	return template.Must(template.New(name).Funcs(promptFuncs).Parse(src))
}

// Build returns the system prompt and the user message for cc.
func (b *Builder) Build(cc ghostline.CompletionContext) (system, user string) {
	data := Data{Language: cc.Language, Filename: cc.Filename, Multiline: cc.Multiline}
	system = b.render(b.completion, defaults.DefaultPrompt, data)

	prefix, suffix := cc.Prefix, cc.Suffix
	if IsShell(cc.Language) {
		prefix, suffix = RedactShell(prefix, suffix)
	}

	var sb strings.Builder
	sb.Grow(len(prefix) + len(suffix) + len(CursorMarker))
	sb.WriteString(prefix)
	sb.WriteString(CursorMarker)
	sb.WriteString(suffix)
	return system, sb.String()
}

// BuildEdit returns the system prompt and the user message for an edit.
func (b *Builder) BuildEdit(e Edit) (system, user string) {
	system = b.render(b.edit, defaults.DefaultEditPrompt, Data{Language: e.Language, Filename: e.Filename})

	prefix, selection, suffix := e.Prefix, e.Selection, e.Suffix
	if IsShell(e.Language) {
		prefix = regexRedact(prefix)
		selection = regexRedact(selection)
		suffix = regexRedact(suffix)
	}

	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteString("<SELECTION>")
	sb.WriteString(selection)
	sb.WriteString("</SELECTION>")
	sb.WriteString(suffix)
	sb.WriteString("\n\nInstruction: ")
	sb.WriteString(strings.TrimSpace(e.Instruction))
	return system, sb.String()
}

// Clean implements the coordinator's cleaning step with the package-level Clean.
func (b *Builder) Clean(cc ghostline.CompletionContext, raw string) (string, bool) {
	return Clean(cc, raw)
}

func (b *Builder) render(t *template.Template, fallback string, data Data) string {
	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		b.log.Warn("failed to execute prompt template, falling back to default", "template", t.Name(), "error", err)
		buf.Reset()
		mustParse(t.Name(), fallback).Execute(&buf, data)
	}
	return strings.TrimRight(buf.String(), " \t\n")
}
