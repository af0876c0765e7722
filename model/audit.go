package model

// AuditEntry groups the redactions applied to one message. An entry is
// created only when a message yields at least one redaction.
type AuditEntry struct {
	MessageID string          `json:"messageId"`
	Items     []RedactionItem `json:"items"`
}

// SubjectInfo records the protected identity a run was executed for.
type SubjectInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AuditLog is the run-level output: every audit entry in completion order
// plus summary counters.
type AuditLog struct {
	RunID                  string       `json:"runId"`
	Subject                SubjectInfo  `json:"subject"`
	Model                  string       `json:"model,omitempty"`
	TotalMessages          int          `json:"totalMessages"`
	MessagesWithRedactions int          `json:"messagesWithRedactions"`
	TotalRedactions        int          `json:"totalRedactions"`
	Entries                []AuditEntry `json:"entries"`
}
