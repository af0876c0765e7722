package redact

import (
	"strings"

	"github.com/dhcgn/dsar-redact/model"
	"github.com/dhcgn/dsar-redact/patterns"
	"github.com/dhcgn/dsar-redact/subject"
)

// TextRedactor runs the pattern library over free text (subject/body).
type TextRedactor struct {
	lib         *patterns.Library
	subject     *subject.Matcher
	placeholder string
}

// NewTextRedactor builds a TextRedactor around the given pattern library.
func NewTextRedactor(lib *patterns.Library, m *subject.Matcher, placeholder string) *TextRedactor {
	return &TextRedactor{lib: lib, subject: m, placeholder: placeholder}
}

// Redact substitutes every selected pattern span in text, except spans
// that represent the data subject and spans that already contain the
// placeholder marker (so already-redacted text is never redacted twice).
// field is the audit field path for emitted items.
func (t *TextRedactor) Redact(text, field string) (string, []model.RedactionItem) {
	if text == "" {
		return text, nil
	}

	var kept []patterns.Span
	for _, span := range t.lib.Detect(text) {
		if strings.Contains(span.Text, t.placeholder) {
			continue
		}
		if t.subject.Is(span.Text) {
			continue
		}
		kept = append(kept, span)
	}
	if len(kept) == 0 {
		return text, nil
	}

	var b strings.Builder
	items := make([]model.RedactionItem, 0, len(kept))
	last := 0
	for _, span := range kept {
		b.WriteString(text[last:span.Start])
		b.WriteString(t.placeholder)
		last = span.End
		items = append(items, model.RedactionItem{
			Original:    span.Text,
			Type:        span.Type,
			Field:       field,
			Replacement: t.placeholder,
			Reason:      span.Pattern,
			Source:      model.SourcePattern,
		})
	}
	b.WriteString(text[last:])

	return b.String(), items
}
