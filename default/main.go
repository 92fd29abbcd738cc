// Package defaults provides embedded default assets (prompt template and config).
package defaults

import _ "embed"

//go:embed default_prompt.md
var DefaultPrompt string

//go:embed default_edit_prompt.md
var DefaultEditPrompt string

//go:embed default_config.yaml
var DefaultConfigYAML []byte
