// Package ghostline defines the request/response types for ghostline IPC.
// Messages are JSON-encoded and sent over a Unix domain socket, one per line.
package ghostline

// Message types carried in the "type" field. An empty type is a completion.
const (
	TypeComplete = "complete"
	TypeEdit     = "edit"
	TypeCancel   = "cancel"
	TypeConfig   = "config"
)

// Error codes returned to editor clients.
const (
	CodeNotConfigured  = "not_configured"
	CodeInvalidRequest = "invalid_request"
	CodeTimeout        = "timeout"
	CodeRateLimited    = "rate_limited"
	CodeUnauthorized   = "unauthorized"
	CodeAPIError       = "api_error"
	CodeConfigError    = "config_error"
	CodeUnknownAction  = "unknown_action"
)

// Envelope is decoded first to route an incoming line to its handler.
type Envelope struct {
	Type   string `json:"type,omitempty"`
	Action string `json:"action,omitempty"`
}

// Request asks for an inline completion at the editor's cursor.
type Request struct {
	Type string `json:"type,omitempty"`
	// RequestID is a per-session incrementing identifier assigned by the editor.
	// The daemon echoes it back in the response for ordering.
	RequestID int `json:"request_id"`
	// SessionID identifies the editor instance. Requests of one session
	// supersede each other.
	SessionID string `json:"session_id"`
	// Language is the editor's language tag for the buffer (e.g. "go").
	Language string `json:"language"`
	// Filename is the buffer's file name, if it has one.
	Filename string `json:"filename,omitempty"`
	// Prefix is the buffer text before the cursor.
	Prefix string `json:"prefix"`
	// Suffix is the buffer text after the cursor.
	Suffix string `json:"suffix"`
	// Multiline allows completions spanning several lines.
	Multiline bool `json:"multiline,omitempty"`
	// Model overrides the configured model for this request.
	Model string `json:"model,omitempty"`
}

// Response is sent from the daemon back to the editor.
type Response struct {
	// RequestID is echoed from the request.
	RequestID int `json:"request_id"`
	// State is the terminal state the request reached
	// (completed, cache_hit, superseded, cancelled, filtered, timed_out, failed).
	State string `json:"state"`
	// Completion is the text to insert at the cursor. Empty unless State is
	// completed or cache_hit.
	Completion string `json:"completion,omitempty"`
	// Error is set for timed_out and failed requests.
	Error *Error `json:"error,omitempty"`
}

// Error describes a daemon-side error returned to the editor.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "timeout", "rate_limited").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
	// Operation names the operation kind that failed ("completion", "edit").
	Operation string `json:"operation,omitempty"`
	// ElapsedMs is how long the operation ran before timing out.
	ElapsedMs int64 `json:"elapsed_ms,omitempty"`
	// TimeoutMs is the deadline that was applied.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
}

// EditRequest asks for a rewrite of the selected text. Edits are not
// debounced or cached.
type EditRequest struct {
	Type        string `json:"type"`
	RequestID   int    `json:"request_id"`
	SessionID   string `json:"session_id"`
	Language    string `json:"language"`
	Filename    string `json:"filename,omitempty"`
	Prefix      string `json:"prefix"`
	Selection   string `json:"selection"`
	Suffix      string `json:"suffix"`
	Instruction string `json:"instruction"`
	Model       string `json:"model,omitempty"`
}

// EditResponse carries the replacement for the selection.
type EditResponse struct {
	RequestID int    `json:"request_id"`
	Text      string `json:"text"`
	Error     *Error `json:"error,omitempty"`
}

// CancelRequest cancels the in-flight request of a session, e.g. when the
// editor closes the buffer or moves focus away.
type CancelRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// CancelResponse reports whether a request was in flight.
type CancelResponse struct {
	OK        bool   `json:"ok"`
	Cancelled bool   `json:"cancelled"`
	Error     *Error `json:"error,omitempty"`
}

// ConfigRequest is sent from the editor client for configuration operations.
type ConfigRequest struct {
	Type string `json:"type,omitempty"`
	// Action is the config operation: "get", "reload", "defaults", or "validate".
	Action string `json:"action"`
}

// ConfigResponse is sent from the daemon in response to a ConfigRequest.
type ConfigResponse struct {
	// Config is the current configuration with secrets masked.
	Config *Config `json:"config,omitempty"`
	// Warnings contains configuration warnings (for "validate" action).
	Warnings []string `json:"warnings,omitempty"`
	// Error is set when the operation fails.
	Error *Error `json:"error,omitempty"`
}
