package redact

import (
	"regexp"
	"sort"
	"strings"

	"github.com/dhcgn/dsar-redact/model"
	"github.com/dhcgn/dsar-redact/subject"
)

// HeuristicPass catches person names that bare pattern matching cannot
// reliably isolate: greetings, signatures, parenthetical mentions, titled
// names, labeled names and standalone capitalized lines. It runs after
// deterministic pattern redaction and before the AI stage so the AI only
// has to catch what regex missed.
type HeuristicPass struct {
	subject     *subject.Matcher
	placeholder string
}

// NewHeuristicPass builds a HeuristicPass for the given protected identity.
func NewHeuristicPass(m *subject.Matcher, placeholder string) *HeuristicPass {
	return &HeuristicPass{subject: m, placeholder: placeholder}
}

const capName = `[A-Z][a-z]+`

var (
	reGreeting      = regexp.MustCompile(`\b(?:Hi|Hello|Dear|Hey)[ \t]+(` + capName + `)\b`)
	reClosing       = regexp.MustCompile(`\b(?:Kind regards|Best regards|Many thanks|Thank you|Regards|Thanks|Cheers|Best|Sincerely)[,.]?[ \t]*\n?[ \t]*(` + capName + `(?:[ \t]+` + capName + `)?)\b`)
	reParenthetical = regexp.MustCompile(`\((` + capName + `(?:[ \t]+` + capName + `)?)\)`)
	reTitled        = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr|Prof)\.?[ \t]+(` + capName + `(?:[ \t]+` + capName + `)?)\b`)
	reLabeled       = regexp.MustCompile(`\b(?:From|To|Cc|Contact|Name|Attn|Attention)[ \t]*[:\-][ \t]*(` + capName + `[ \t]+` + capName + `)\b`)
	reStandalone    = regexp.MustCompile(`(?m)^[ \t]*(` + capName + `(?:[ \t]+` + capName + `)?)[ \t]*$`)
	reLineStart     = regexp.MustCompile(`(?m)^(` + capName + `(?:[ \t]+` + capName + `)?)[ \t]*[-|,:]?[ \t]*(.*)$`)

	reJobTitle  = regexp.MustCompile(`(?i)\b(?:manager|director|officer|engineer|executive|coordinator|consultant|accountant|administrator|supervisor|assistant|analyst|planner|driver|owner|partner)\b`)
	rePhoneLike = regexp.MustCompile(`\d[\d ()-]{7,}`)
)

type nameSpan struct {
	start, end int
	text       string
	reason     string
}

// Redact applies the heuristics to free text and substitutes accepted
// name candidates. field is the audit field path for emitted items.
func (h *HeuristicPass) Redact(text, field string) (string, []model.RedactionItem) {
	if text == "" {
		return text, nil
	}

	var spans []nameSpan
	collect := func(re *regexp.Regexp, reason string) {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			if loc[2] < 0 {
				continue
			}
			spans = append(spans, nameSpan{start: loc[2], end: loc[3], text: text[loc[2]:loc[3]], reason: reason})
		}
	}

	collect(reGreeting, "greeting")
	collect(reClosing, "signature")
	collect(reParenthetical, "parenthetical")
	collect(reTitled, "titled")
	collect(reLabeled, "labeled")

	for _, loc := range reStandalone.FindAllStringSubmatchIndex(text, -1) {
		candidate := text[loc[2]:loc[3]]
		if !h.standaloneLineOK(text, loc[0]) || hasCompanySuffix(candidate) {
			continue
		}
		spans = append(spans, nameSpan{start: loc[2], end: loc[3], text: candidate, reason: "standalone-line"})
	}

	for _, loc := range reLineStart.FindAllStringSubmatchIndex(text, -1) {
		tail := text[loc[4]:loc[5]]
		if len(tail) > 50 {
			tail = tail[:50]
		}
		if !reJobTitle.MatchString(tail) && !strings.Contains(tail, "@") && !rePhoneLike.MatchString(tail) {
			continue
		}
		spans = append(spans, nameSpan{start: loc[2], end: loc[3], text: text[loc[2]:loc[3]], reason: "name-context"})
	}

	accepted := spans[:0]
	for _, s := range spans {
		if IsCommonWord(s.text) {
			continue
		}
		if h.subject.Is(s.text) || h.subject.Contains(s.text) {
			continue
		}
		accepted = append(accepted, s)
	}
	selected := selectNameSpans(accepted)
	if len(selected) == 0 {
		return text, nil
	}

	var b strings.Builder
	items := make([]model.RedactionItem, 0, len(selected))
	last := 0
	for _, s := range selected {
		b.WriteString(text[last:s.start])
		b.WriteString(h.placeholder)
		last = s.end
		items = append(items, model.RedactionItem{
			Original:    s.text,
			Type:        model.TypeName,
			Field:       field,
			Replacement: h.placeholder,
			Reason:      s.reason,
			Source:      model.SourceHeuristic,
		})
	}
	b.WriteString(text[last:])

	return b.String(), items
}

// standaloneLineOK rejects a standalone capitalized line when the
// preceding line ends mid-sentence, i.e. without terminal punctuation.
// A flagged precision/recall tuning point: recall is preferred and human
// review is expected downstream.
func (h *HeuristicPass) standaloneLineOK(text string, lineStart int) bool {
	if lineStart == 0 {
		return true
	}
	prev := strings.TrimRight(text[:lineStart], "\n")
	if prev == "" {
		return true
	}
	if idx := strings.LastIndexByte(prev, '\n'); idx >= 0 {
		prev = prev[idx+1:]
	}
	prev = strings.TrimSpace(prev)
	if prev == "" {
		return true
	}
	switch prev[len(prev)-1] {
	case '.', ',', '!', '?', ':', ';':
		return true
	}
	return false
}

// selectNameSpans keeps a longest-first non-overlapping subset, returned
// in start order.
func selectNameSpans(spans []nameSpan) []nameSpan {
	sort.Slice(spans, func(i, j int) bool {
		li, lj := spans[i].end-spans[i].start, spans[j].end-spans[j].start
		if li != lj {
			return li > lj
		}
		return spans[i].start < spans[j].start
	})

	var kept []nameSpan
	for _, s := range spans {
		overlaps := false
		for _, k := range kept {
			if s.start < k.end && k.start < s.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })
	return kept
}
