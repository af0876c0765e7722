// Package patterns is the stateless detector library for deterministic
// redaction. Each detector returns spans over the original text; Detect
// merges all detector output with a longest-match-first, non-overlapping
// selection so that an earlier substitution can never shift the offsets
// seen by a later pattern.
package patterns

import (
	"regexp"
	"sort"

	"github.com/dhcgn/dsar-redact/model"
)

// Span is one detected region of text, with byte offsets into the
// original string.
type Span struct {
	Start   int
	End     int
	Text    string
	Type    model.RedactionType
	Pattern string

	prec int
}

type detector struct {
	name string
	typ  model.RedactionType
	re   *regexp.Regexp
	// valid, when set, rejects matches the regex alone cannot rule out.
	valid func(string) bool
}

// Library holds the compiled detectors in precedence order. Ordering is
// load-bearing: address detectors run before the bare postcode detectors
// so a full address is not fragmented into an address placeholder plus a
// stray postcode placeholder, and URLs run last so the domain part of an
// email is not independently flagged as a bare URL.
type Library struct {
	detectors []detector
}

const (
	ukPostcode = `[A-Z]{1,2}\d{1,2}[A-Z]?\s*\d[A-Z]{2}`
	eircode    = `[A-Z]\d{2}\s?[A-Z0-9]{4}`
)

// NewLibrary compiles the default detector set.
func NewLibrary() *Library {
	return &Library{detectors: []detector{
		{
			name: "full-address",
			typ:  model.TypeAddress,
			re: regexp.MustCompile(`(?m)^[ \t]*\d{1,4}[A-Za-z]?[ \t]+[A-Z][A-Za-z .'-]+,?\n(?:[ \t]*[A-Z][A-Za-z .'-]+,?\n){0,3}[ \t]*(?:` + ukPostcode + `|` + eircode + `)\b`),
		},
		{
			name: "unit-address",
			typ:  model.TypeAddress,
			re: regexp.MustCompile(`\b(?:Unit|Suite|Flat|Apt\.?|Apartment|Block)\s+[A-Za-z0-9]+(?:,\s*[A-Z][A-Za-z0-9'&.-]*(?:\s+[A-Z0-9][A-Za-z0-9'&.-]*)*)+(?:,\s*(?:` + ukPostcode + `|` + eircode + `))?`),
		},
		{
			name: "street-address",
			typ:  model.TypeAddress,
			re: regexp.MustCompile(`\b\d{1,4}[A-Za-z]?\s+(?:[A-Z][A-Za-z'.-]+\s+){0,3}(?:Street|Road|Avenue|Lane|Drive|Close|Court|Way|Place|Park|Gardens|Grove|Terrace|Crescent|Row|Hill|Green|Quay|Square|St|Rd|Ave|Ln|Dr)\b(?:,\s*[A-Z][A-Za-z .'-]+){0,3}(?:,?\s*(?:` + ukPostcode + `|` + eircode + `))?`),
		},
		{
			name: "postcode",
			typ:  model.TypeAddress,
			re:   regexp.MustCompile(`\b` + ukPostcode + `\b`),
		},
		{
			name: "eircode",
			typ:  model.TypeAddress,
			re:   regexp.MustCompile(`\b` + eircode + `\b`),
		},
		{
			name: "email",
			typ:  model.TypeEmail,
			re:   regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		},
		{
			name: "phone",
			typ:  model.TypePhone,
			re:   regexp.MustCompile(`(?:\+\d{1,3}[ .-]?\(?\d{1,4}\)?|\(?0\d{2,4}\)?)[ .-]?\d{3,4}[ .-]?\d{3,4}\b`),
			valid: func(s string) bool {
				n := digitCount(s)
				return n >= 9 && n <= 14
			},
		},
		{
			name: "reference",
			typ:  model.TypeReference,
			re:   regexp.MustCompile(`(?i)\b(?:ref(?:erence)?|order|invoice|account|quote|booking|case|ticket|tracking)\s*(?:no\.?|number|#)?\s*[:#]?\s*[A-Z0-9][A-Z0-9/-]{3,}\b`),
			valid: func(s string) bool {
				return digitCount(s) >= 2
			},
		},
		{
			name: "currency",
			typ:  model.TypeCurrency,
			re:   regexp.MustCompile(`(?:£|€|\$|\b(?:GBP|EUR|USD)\s?)\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?\b`),
		},
		{
			name: "vat",
			typ:  model.TypeVAT,
			re:   regexp.MustCompile(`(?i)\bVAT(?:\s*reg(?:istration)?)?(?:\s*(?:no\.?|number))?\s*[:#]?\s*(?:GB|IE)?\s*\d{7,9}[A-Z]?\b`),
		},
		{
			name: "company-registration",
			typ:  model.TypeRegistration,
			re:   regexp.MustCompile(`(?i)\b(?:(?:company|co\.?)\s*(?:reg(?:istration)?\.?\s*)?(?:no\.?|number)|registered\s+(?:in\s+[A-Za-z ]+\s+)?(?:no\.?|number))\s*[:#]?\s*\d{6,8}\b`),
		},
		{
			name: "url",
			typ:  model.TypeOther,
			re:   regexp.MustCompile(`\bhttps?://[^\s<>"')]+|\bwww\.[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)+(?:/[^\s<>"')]*)?`),
		},
	}}
}

// Detect runs every detector over text and returns the selected
// non-overlapping spans, ordered by start offset. Longer spans win over
// shorter overlapping ones; on equal length the earlier detector wins.
func (l *Library) Detect(text string) []Span {
	var all []Span
	for i, d := range l.detectors {
		for _, loc := range d.re.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			if d.valid != nil && !d.valid(match) {
				continue
			}
			all = append(all, Span{
				Start:   loc[0],
				End:     loc[1],
				Text:    match,
				Type:    d.typ,
				Pattern: d.name,
				prec:    i,
			})
		}
	}
	return selectSpans(all)
}

func selectSpans(spans []Span) []Span {
	sort.Slice(spans, func(i, j int) bool {
		li, lj := spans[i].End-spans[i].Start, spans[j].End-spans[j].Start
		if li != lj {
			return li > lj
		}
		if spans[i].prec != spans[j].prec {
			return spans[i].prec < spans[j].prec
		}
		return spans[i].Start < spans[j].Start
	})

	var kept []Span
	for _, s := range spans {
		overlaps := false
		for _, k := range kept {
			if s.Start < k.End && k.Start < s.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
