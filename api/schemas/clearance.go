package schemas

// -- Clearance Result Schemas --

// ClearanceResult is produced exactly once per acquisition attempt. Negative
// outcomes are reported through Success=false, never through a Go error.
type ClearanceResult struct {
	Success   bool           `json:"success"`
	Cookie    string         `json:"cookie,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Error     string         `json:"error,omitempty"`
	Debug     map[string]any `json:"debug,omitempty"`
}

// Failure builds a negative result carrying msg.
func Failure(msg string, debug map[string]any) ClearanceResult {
	return ClearanceResult{Success: false, Error: msg, Debug: debug}
}
