package ai

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dhcgn/dsar-redact/model"
	"github.com/dhcgn/dsar-redact/redact"
	"github.com/dhcgn/dsar-redact/subject"
)

// Stage selects one redaction category per call. Focused single-category
// prompts detect more reliably than one catch-all prompt.
type Stage string

const (
	StageNames     Stage = "names"
	StageCompanies Stage = "companies"
	StageContact   Stage = "contact"
)

// AllStages is the default stage sequence.
var AllStages = []Stage{StageNames, StageCompanies, StageContact}

// Completer is the LLM dependency of the stage. *Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Model() string
}

// Options tunes the AI redaction stage.
type Options struct {
	Retries     int           // attempts after the first failure
	RetryDelay  time.Duration // linear backoff unit
	Stages      []Stage
	Placeholder string

	// OnDegrade is called when a stage gives up on a batch, with the
	// stage and the number of messages that keep only their
	// deterministic redactions. May be nil.
	OnDegrade func(stage Stage, messages int)
}

// Redactor applies LLM-detected redactions to message batches.
type Redactor struct {
	client      Completer
	subject     *subject.Matcher
	retries     int
	retryDelay  time.Duration
	stages      []Stage
	placeholder string
	onDegrade   func(stage Stage, messages int)
	logger      *slog.Logger
}

// NewRedactor builds the AI stage around the given completer.
func NewRedactor(client Completer, m *subject.Matcher, opts Options, logger *slog.Logger) *Redactor {
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	stages := opts.Stages
	if len(stages) == 0 {
		stages = AllStages
	}
	placeholder := opts.Placeholder
	if placeholder == "" {
		placeholder = redact.DefaultPlaceholder
	}
	return &Redactor{
		client:      client,
		subject:     m,
		retries:     retries,
		retryDelay:  retryDelay,
		stages:      stages,
		placeholder: placeholder,
		onDegrade:   opts.OnDegrade,
		logger:      logger,
	}
}

// RedactBatch runs every configured stage over the batch and returns the
// further-redacted messages plus the applied items keyed by message ID.
// Errors never fail the batch: a stage that exhausts its retries
// contributes nothing and the messages keep their deterministic
// redactions.
func (r *Redactor) RedactBatch(ctx context.Context, msgs []model.Message) ([]model.Message, map[string][]model.RedactionItem) {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	items := make(map[string][]model.RedactionItem)

	byID := make(map[string]int, len(out))
	for i, m := range out {
		byID[m.ID] = i
	}

	for _, stage := range r.stages {
		raw, err := r.completeWithRetry(ctx, stagePrompt(stage, r.subject, r.placeholder), payload(out))
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("ai stage degraded, keeping deterministic redactions", "stage", string(stage), "err", err)
			}
			r.degrade(stage, len(out))
			continue
		}

		resp, err := decodeResponse(raw)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("ai response unparseable after repair, treating as empty", "stage", string(stage), "err", err)
			}
			r.degrade(stage, len(out))
			continue
		}

		for _, result := range resp.Results {
			idx, ok := byID[string(result.MessageID)]
			if !ok {
				continue
			}
			applied := r.apply(&out[idx], result.all())
			items[out[idx].ID] = append(items[out[idx].ID], applied...)
		}
	}

	return out, items
}

func (r *Redactor) degrade(stage Stage, messages int) {
	if r.onDegrade != nil {
		r.onDegrade(stage, messages)
	}
}

// apply filters the returned detections and substitutes the survivors
// longest-text-first, so a short name that is a substring of a longer one
// never causes a malformed partial replacement.
func (r *Redactor) apply(msg *model.Message, detections []aiItem) []model.RedactionItem {
	var accepted []aiItem
	for _, d := range detections {
		text := strings.TrimSpace(d.text())
		if len(text) < 2 {
			continue
		}
		if strings.Contains(text, r.placeholder) {
			continue
		}
		if r.subject.Is(text) || r.subject.Contains(text) {
			continue
		}
		if redact.IsCommonWord(text) {
			continue
		}
		d.Text = text
		accepted = append(accepted, d)
	}

	sort.Slice(accepted, func(i, j int) bool {
		return len(accepted[i].Text) > len(accepted[j].Text)
	})

	var applied []model.RedactionItem
	for _, d := range accepted {
		re, err := wholeMatchPattern(d.Text)
		if err != nil {
			continue
		}
		for _, field := range []struct {
			value *string
			path  string
		}{
			{&msg.Subject, model.FieldSubject},
			{&msg.Body, model.FieldBody},
		} {
			count := len(re.FindAllStringIndex(*field.value, -1))
			if count == 0 {
				continue
			}
			*field.value = re.ReplaceAllString(*field.value, r.placeholder)
			for i := 0; i < count; i++ {
				applied = append(applied, model.RedactionItem{
					Original:    d.Text,
					Type:        redactionType(d.Type),
					Field:       field.path,
					Replacement: r.placeholder,
					Reason:      d.Reason,
					Source:      model.SourceAI,
				})
			}
		}
	}
	return applied
}

func (r *Redactor) completeWithRetry(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * r.retryDelay):
			}
		}

		raw, err := r.client.Complete(ctx, system, user)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if r.logger != nil {
			r.logger.Debug("ai call failed", "attempt", attempt+1, "err", err)
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", r.retries+1, lastErr)
}

// wholeMatchPattern builds a case-insensitive pattern matching text as a
// whole token, with word boundaries only where text itself starts or ends
// with a word character.
func wholeMatchPattern(text string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`(?i)`)
	if isWordByte(text[0]) {
		b.WriteString(`\b`)
	}
	b.WriteString(regexp.QuoteMeta(text))
	if isWordByte(text[len(text)-1]) {
		b.WriteString(`\b`)
	}
	return regexp.Compile(b.String())
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func redactionType(t string) model.RedactionType {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "name", "person":
		return model.TypeName
	case "company", "organisation", "organization":
		return model.TypeCompany
	case "email":
		return model.TypeEmail
	case "phone":
		return model.TypePhone
	case "address":
		return model.TypeAddress
	case "reference":
		return model.TypeReference
	case "currency":
		return model.TypeCurrency
	case "registration":
		return model.TypeRegistration
	case "vat":
		return model.TypeVAT
	default:
		return model.TypeOther
	}
}
