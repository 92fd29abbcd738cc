package ghostline

import "strings"

// DefaultContextLines bounds how many lines of prefix and suffix are kept.
const DefaultContextLines = 50

// CompletionContext describes what is being completed. Build it with
// NewCompletionContext and treat it as immutable afterwards.
type CompletionContext struct {
	Language  string
	Model     string
	Filename  string
	Prefix    string
	Suffix    string
	Multiline bool
}

// NewCompletionContext keeps the last maxLines lines of prefix and the first
// maxLines lines of suffix. maxLines <= 0 uses DefaultContextLines.
func NewCompletionContext(language, model, filename, prefix, suffix string, multiline bool, maxLines int) CompletionContext {
	if maxLines <= 0 {
		maxLines = DefaultContextLines
	}
	return CompletionContext{
		Language:  language,
		Model:     model,
		Filename:  filename,
		Prefix:    lastLines(prefix, maxLines),
		Suffix:    firstLines(suffix, maxLines),
		Multiline: multiline,
	}
}

// Size is the byte length of the text sent as context.
func (cc CompletionContext) Size() int {
	return len(cc.Prefix) + len(cc.Suffix)
}

// CurrentLine returns the text between the last newline of the prefix and the cursor.
func (cc CompletionContext) CurrentLine() string {
	if i := strings.LastIndexByte(cc.Prefix, '\n'); i >= 0 {
		return cc.Prefix[i+1:]
	}
	return cc.Prefix
}

func lastLines(s string, n int) string {
	end := len(s)
	for i := 0; i < n; i++ {
		idx := strings.LastIndexByte(s[:end], '\n')
		if idx < 0 {
			return s
		}
		end = idx
	}
	return s[end+1:]
}

func firstLines(s string, n int) string {
	start := 0
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(s[start:], '\n')
		if idx < 0 {
			return s
		}
		start += idx + 1
	}
	return s[:start-1]
}
