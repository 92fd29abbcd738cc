package prompt

import (
	"strings"

	"github.com/Paranoid-AF/ghostline"
)

// conversational openers of a reply that talks about code instead of being code.
var chatter = []string{
	"sure", "here is", "here's", "certainly", "i can", "i'm", "i am",
	"as an ai", "the completion", "this code", "okay",
}

// Clean turns a raw backend reply into text insertable at the cursor of cc.
// It reports false when nothing usable is left.
func Clean(cc ghostline.CompletionContext, raw string) (string, bool) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = stripFences(text)
	text = strings.ReplaceAll(text, CursorMarker, "")
	text = dropChatter(text)

	text = stripEcho(text, cc.CurrentLine())
	text = stripSuffixOverlap(text, cc.Suffix)

	if !cc.Multiline {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[:i]
		}
		if IsShell(cc.Language) {
			text = collapseSpaces(text)
		}
	}
	text = strings.TrimRight(text, " \t\n")

	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// CleanEdit turns a raw backend reply into a replacement for a selection.
func CleanEdit(raw string) (string, bool) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = stripFences(text)
	text = strings.ReplaceAll(text, "<SELECTION>", "")
	text = strings.ReplaceAll(text, "</SELECTION>", "")
	text = strings.Trim(text, "\n")
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// stripFences keeps the body of the first markdown code fence, if any.
func stripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	// Skip the info string (language tag) up to the end of the fence line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		return strings.Trim(body, "`")
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSuffix(body, "\n")
}

// dropChatter removes a leading conversational line.
func dropChatter(s string) string {
	first, rest, found := strings.Cut(s, "\n")
	lower := strings.ToLower(strings.TrimSpace(first))
	for _, c := range chatter {
		if strings.HasPrefix(lower, c) {
			if !found {
				return ""
			}
			return strings.TrimLeft(rest, "\n")
		}
	}
	return s
}

// stripEcho removes a repetition of the current line at the start of text.
func stripEcho(text, line string) string {
	if strings.TrimSpace(line) == "" {
		return text
	}
	if strings.HasPrefix(text, line) {
		return text[len(line):]
	}
	trimmed := strings.TrimLeft(line, " \t")
	if strings.HasPrefix(strings.TrimLeft(text, " \t"), trimmed) {
		return strings.TrimLeft(text, " \t")[len(trimmed):]
	}
	return text
}

// stripSuffixOverlap removes the longest tail of text that repeats the start
// of the suffix.
func stripSuffixOverlap(text, suffix string) string {
	if suffix == "" || text == "" {
		return text
	}
	n := len(suffix)
	if len(text) < n {
		n = len(text)
	}
	for k := n; k > 0; k-- {
		if strings.HasSuffix(text, suffix[:k]) {
			return text[:len(text)-k]
		}
	}
	return text
}

// collapseSpaces replaces runs of multiple spaces with a single space.
func collapseSpaces(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' {
			if !prevSpace {
				buf.WriteByte(' ')
			}
			prevSpace = true
		} else {
			buf.WriteRune(r)
			prevSpace = false
		}
	}
	return buf.String()
}
