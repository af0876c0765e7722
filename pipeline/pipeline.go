package pipeline

import (
	"context"
	"log/slog"

	"github.com/dhcgn/dsar-redact/model"
	"github.com/dhcgn/dsar-redact/redact"
)

// AIRedactor is the batch-level AI stage. It is optional; a nil value
// means deterministic and heuristic passes only.
type AIRedactor interface {
	RedactBatch(ctx context.Context, msgs []model.Message) ([]model.Message, map[string][]model.RedactionItem)
}

// Pipeline chains the deterministic redactor and the optional AI stage
// into a single batch processor.
type Pipeline struct {
	redactor *redact.Redactor
	ai       AIRedactor
	logger   *slog.Logger
}

func New(redactor *redact.Redactor, aiStage AIRedactor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{redactor: redactor, ai: aiStage, logger: logger}
}

// ProcessBatch redacts every message in the batch and returns the
// redacted copies plus one audit entry per message that received at
// least one redaction. Output order matches input order.
func (p *Pipeline) ProcessBatch(ctx context.Context, msgs []model.Message) ([]model.Message, []model.AuditEntry) {
	out := make([]model.Message, 0, len(msgs))
	itemsByID := make(map[string][]model.RedactionItem, len(msgs))

	for _, msg := range msgs {
		redacted, items := p.redactor.Process(msg)
		out = append(out, redacted)
		if len(items) > 0 {
			itemsByID[msg.ID] = items
		}
	}

	if p.ai != nil {
		aiMsgs, aiItems := p.ai.RedactBatch(ctx, out)
		out = aiMsgs
		for id, items := range aiItems {
			itemsByID[id] = append(itemsByID[id], items...)
		}
	}

	entries := make([]model.AuditEntry, 0, len(itemsByID))
	for _, msg := range msgs {
		items, ok := itemsByID[msg.ID]
		if !ok {
			continue
		}
		entries = append(entries, model.AuditEntry{MessageID: msg.ID, Items: items})
	}

	return out, entries
}
