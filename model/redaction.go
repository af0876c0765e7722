package model

// RedactionType classifies what kind of personal data a redaction covers.
type RedactionType string

const (
	TypeName         RedactionType = "name"
	TypeCompany      RedactionType = "company"
	TypeEmail        RedactionType = "email"
	TypePhone        RedactionType = "phone"
	TypeAddress      RedactionType = "address"
	TypeReference    RedactionType = "reference"
	TypeCurrency     RedactionType = "currency"
	TypeRegistration RedactionType = "registration"
	TypeVAT          RedactionType = "vat"
	TypeOther        RedactionType = "other"
)

// RedactionSource records which stage produced a redaction.
type RedactionSource string

const (
	SourcePolicy    RedactionSource = "policy"
	SourcePattern   RedactionSource = "pattern"
	SourceHeuristic RedactionSource = "heuristic"
	SourceAI        RedactionSource = "ai"
)

// Field paths used in redaction items.
const (
	FieldBody          = "body"
	FieldSubject       = "subject"
	FieldSenderName    = "sender.name"
	FieldSenderEmail   = "sender.email"
	FieldRecipientsTo  = "recipients.to"
	FieldRecipientsCc  = "recipients.cc"
	FieldRecipientsBcc = "recipients.bcc"
)

// RedactionItem is one detected and substituted span. Items are
// append-only audit facts and are never mutated after creation.
type RedactionItem struct {
	Original    string          `json:"original"`
	Type        RedactionType   `json:"type"`
	Field       string          `json:"field"`
	Replacement string          `json:"replacement"`
	Reason      string          `json:"reason,omitempty"`
	Source      RedactionSource `json:"source"`
}
