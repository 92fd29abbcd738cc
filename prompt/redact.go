package prompt

import (
	"regexp"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// safeVars are environment variables that are non-sensitive and useful for LLM context.
var safeVars = map[string]bool{
	"HOME": true, "USER": true, "PWD": true, "OLDPWD": true,
	"SHELL": true, "PATH": true, "LANG": true, "TERM": true,
	"EDITOR": true, "PAGER": true, "HOSTNAME": true, "LOGNAME": true,
	"TMPDIR": true, "XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true,
	"XDG_RUNTIME_DIR": true, "DISPLAY": true, "WAYLAND_DISPLAY": true,
	"HISTFILE": true, "HISTSIZE": true, "SHLVL": true,
	"COLUMNS": true, "LINES": true, "LC_ALL": true, "LC_CTYPE": true,
}

// specialParams are shell special parameters that should not be redacted.
var specialParams = map[string]bool{
	"?": true, "!": true, "#": true, "@": true, "*": true,
	"-": true, "$": true, "_": true,
	"0": true, "1": true, "2": true, "3": true, "4": true,
	"5": true, "6": true, "7": true, "8": true, "9": true,
}

var shellLanguages = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "ksh": true,
	"shell": true, "shellscript": true, "dotenv": true,
}

// IsShell reports whether language names a shell dialect.
func IsShell(language string) bool {
	return shellLanguages[strings.ToLower(language)]
}

type edit struct {
	start, end int
	text       string
}

// RedactShell replaces sensitive variable references and assignment values
// in a shell buffer split at the cursor. Both halves are parsed together so
// that constructs spanning the cursor are understood; the layout of the
// text is preserved. Safe variables (PATH, HOME, etc.) and special shell
// parameters ($?, $!, etc.) are kept.
func RedactShell(prefix, suffix string) (string, string) {
	src := prefix + suffix
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(true))
	prog, err := parser.Parse(strings.NewReader(src), "")
	if err != nil {
		return regexRedact(prefix), regexRedact(suffix)
	}

	var edits []edit
	syntax.Walk(prog, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.ParamExp:
			if n.Param != nil && !safeVars[n.Param.Value] && !specialParams[n.Param.Value] {
				edits = append(edits, edit{int(n.Param.Pos().Offset()), int(n.Param.End().Offset()), "REDACTED"})
			}
		case *syntax.Assign:
			if n.Name != nil && !safeVars[n.Name.Value] && n.Value != nil && len(n.Value.Parts) > 0 {
				edits = append(edits, edit{int(n.Value.Pos().Offset()), int(n.Value.End().Offset()), "***"})
			}
		}
		return true
	})
	if len(edits) == 0 {
		return prefix, suffix
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var out strings.Builder
	out.Grow(len(src))
	cursor := len(prefix)
	newCursor := -1
	last := 0
	for _, e := range edits {
		if e.start < last || e.end > len(src) || e.start > e.end {
			// Nested inside an edit already applied.
			continue
		}
		if newCursor < 0 && cursor <= e.start {
			newCursor = out.Len() + (cursor - last)
		}
		out.WriteString(src[last:e.start])
		out.WriteString(e.text)
		if newCursor < 0 && cursor < e.end {
			// The cursor sits inside a redacted span.
			newCursor = out.Len()
		}
		last = e.end
	}
	if newCursor < 0 {
		newCursor = out.Len() + (cursor - last)
	}
	out.WriteString(src[last:])

	redacted := out.String()
	return redacted[:newCursor], redacted[newCursor:]
}

// RedactCommand redacts a single shell command line.
func RedactCommand(cmd string) string {
	out, _ := RedactShell(cmd, "")
	return out
}

var (
	reBraceVar  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	reSimpleVar = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	reAssign    = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)
)

// regexRedact is a fallback for text that fails to parse.
func regexRedact(cmd string) string {
	// ${VAR} → ${REDACTED}
	cmd = reBraceVar.ReplaceAllStringFunc(cmd, func(m string) string {
		name := reBraceVar.FindStringSubmatch(m)[1]
		if safeVars[name] || specialParams[name] {
			return m
		}
		return "${REDACTED}"
	})

	// $VAR → $REDACTED
	cmd = reSimpleVar.ReplaceAllStringFunc(cmd, func(m string) string {
		name := reSimpleVar.FindStringSubmatch(m)[1]
		if name == "REDACTED" { // already redacted by brace pass
			return m
		}
		if safeVars[name] || specialParams[name] {
			return m
		}
		return "$REDACTED"
	})

	// VAR=value → VAR=***
	cmd = reAssign.ReplaceAllStringFunc(cmd, func(m string) string {
		parts := reAssign.FindStringSubmatch(m)
		name := parts[1]
		if safeVars[name] {
			return m
		}
		return name + "=***"
	})

	return cmd
}
