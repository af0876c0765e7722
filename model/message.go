package model

import "time"

// Party identifies one side of a message, typically a display name plus
// an email address. Either field may be empty.
type Party struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Recipients holds the raw recipient fields of a message. Each field is a
// delimiter-separated string of display entries, exactly as extracted.
type Recipients struct {
	To  string `json:"to"`
	Cc  string `json:"cc,omitempty"`
	Bcc string `json:"bcc,omitempty"`
}

// Message represents a single mailbox item. ID is assigned once at
// extraction and never reassigned; redaction replaces field values but
// must not change ID or the structural shape.
type Message struct {
	ID           string     `json:"id"`
	Sender       Party      `json:"sender"`
	Recipients   Recipients `json:"recipients"`
	Subject      string     `json:"subject"`
	Body         string     `json:"body"`
	Date         time.Time  `json:"date"`
	MessageClass string     `json:"messageClass,omitempty"`
	SourceFile   string     `json:"sourceFile,omitempty"`
}
