package redact

import (
	"strings"

	"github.com/dhcgn/dsar-redact/model"
	"github.com/dhcgn/dsar-redact/subject"
)

// FieldRedactor applies the structured-field policy to sender and
// recipient fields: deny by default, with the data subject as the only
// exemption.
type FieldRedactor struct {
	subject     *subject.Matcher
	placeholder string
}

// NewFieldRedactor builds a FieldRedactor for the given protected identity.
func NewFieldRedactor(m *subject.Matcher, placeholder string) *FieldRedactor {
	return &FieldRedactor{subject: m, placeholder: placeholder}
}

// RedactSender replaces both sender fields unless the sender is the data
// subject, in which case both are left untouched.
func (f *FieldRedactor) RedactSender(p model.Party) (model.Party, []model.RedactionItem) {
	if f.subject.Is(p.Name) || f.subject.Is(p.Email) {
		return p, nil
	}

	var items []model.RedactionItem
	out := p
	if p.Name != "" {
		items = append(items, model.RedactionItem{
			Original:    p.Name,
			Type:        model.TypeName,
			Field:       model.FieldSenderName,
			Replacement: f.placeholder,
			Source:      model.SourcePolicy,
		})
		out.Name = f.placeholder
	}
	if p.Email != "" {
		items = append(items, model.RedactionItem{
			Original:    p.Email,
			Type:        model.TypeEmail,
			Field:       model.FieldSenderEmail,
			Replacement: f.placeholder,
			Source:      model.SourcePolicy,
		})
		out.Email = f.placeholder
	}
	return out, items
}

// RedactRecipients processes one delimiter-separated recipient field.
// Entries matching the data subject are normalized to the canonical name
// or email; every other entry is replaced with the placeholder.
// Consecutive duplicate placeholders are collapsed and at most one data
// subject entry is retained.
func (f *FieldRedactor) RedactRecipients(value, field string) (string, []model.RedactionItem) {
	if strings.TrimSpace(value) == "" {
		return value, nil
	}

	var items []model.RedactionItem
	var out []string
	subjectSeen := false

	for _, entry := range splitEntries(value) {
		if f.subject.Is(entry) || f.subject.Contains(entry) {
			if subjectSeen {
				continue
			}
			subjectSeen = true
			if strings.Contains(entry, "@") {
				out = append(out, f.subject.Email())
			} else {
				out = append(out, f.subject.Name())
			}
			continue
		}

		items = append(items, model.RedactionItem{
			Original:    entry,
			Type:        entryType(entry),
			Field:       field,
			Replacement: f.placeholder,
			Source:      model.SourcePolicy,
		})
		// Collapse runs of placeholders so the rendered field does not
		// read "[REDACTED]; [REDACTED]; [REDACTED]".
		if len(out) > 0 && out[len(out)-1] == f.placeholder {
			continue
		}
		out = append(out, f.placeholder)
	}

	return strings.Join(out, "; "), items
}

func splitEntries(value string) []string {
	var entries []string
	for _, entry := range strings.FieldsFunc(value, func(r rune) bool {
		return r == ';' || r == ','
	}) {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			entries = append(entries, entry)
		}
	}
	return entries
}

func entryType(entry string) model.RedactionType {
	if strings.Contains(entry, "@") {
		return model.TypeEmail
	}
	return model.TypeName
}
