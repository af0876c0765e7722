package redact

import (
	"github.com/dhcgn/dsar-redact/model"
	"github.com/dhcgn/dsar-redact/patterns"
	"github.com/dhcgn/dsar-redact/subject"
)

// DefaultPlaceholder is the marker substituted for third-party personal
// data when no custom placeholder is configured.
const DefaultPlaceholder = "[REDACTED]"

// Redactor runs one message through the deterministic stages in order:
// structured-field policy, pattern redaction, then the heuristic pass.
type Redactor struct {
	fields *FieldRedactor
	text   *TextRedactor
	heur   *HeuristicPass
}

// New builds the deterministic redaction pipeline for a protected identity.
func New(m *subject.Matcher, placeholder string) *Redactor {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	lib := patterns.NewLibrary()
	return &Redactor{
		fields: NewFieldRedactor(m, placeholder),
		text:   NewTextRedactor(lib, m, placeholder),
		heur:   NewHeuristicPass(m, placeholder),
	}
}

// Process returns a redacted copy of msg plus the redaction items
// applied. The message ID and structural shape are never changed.
func (r *Redactor) Process(msg model.Message) (model.Message, []model.RedactionItem) {
	out := msg
	var items []model.RedactionItem

	sender, senderItems := r.fields.RedactSender(msg.Sender)
	out.Sender = sender
	items = append(items, senderItems...)

	to, toItems := r.fields.RedactRecipients(msg.Recipients.To, model.FieldRecipientsTo)
	out.Recipients.To = to
	items = append(items, toItems...)

	cc, ccItems := r.fields.RedactRecipients(msg.Recipients.Cc, model.FieldRecipientsCc)
	out.Recipients.Cc = cc
	items = append(items, ccItems...)

	bcc, bccItems := r.fields.RedactRecipients(msg.Recipients.Bcc, model.FieldRecipientsBcc)
	out.Recipients.Bcc = bcc
	items = append(items, bccItems...)

	out.Subject, items = r.redactText(out.Subject, model.FieldSubject, items)
	out.Body, items = r.redactText(out.Body, model.FieldBody, items)

	return out, items
}

func (r *Redactor) redactText(text, field string, items []model.RedactionItem) (string, []model.RedactionItem) {
	redacted, patternItems := r.text.Redact(text, field)
	items = append(items, patternItems...)

	redacted, heurItems := r.heur.Redact(redacted, field)
	items = append(items, heurItems...)

	return redacted, items
}
