// Package filter provides the pre-redaction passes: regex include/exclude
// filtering and hash-based deduplication of the extracted collection.
package filter

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/dhcgn/dsar-redact/model"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeSubject []string
	IncludeBody    []string
	ExcludeSubject []string
	ExcludeBody    []string
}

// Filter holds compiled regex patterns for filtering messages.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeSubject []*regexp.Regexp
	includeBody    []*regexp.Regexp
	excludeSubject []*regexp.Regexp
	excludeBody    []*regexp.Regexp
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeSubject, err := compilePatterns(opts.IncludeSubject)
	if err != nil {
		return nil, fmt.Errorf("compile include-subject pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeSubject, err := compilePatterns(opts.ExcludeSubject)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-subject pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeSubject) > 0 || len(includeBody) > 0
	excludeActive := len(excludeSubject) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeSubject: includeSubject,
		includeBody:    includeBody,
		excludeSubject: excludeSubject,
		excludeBody:    excludeBody,
	}, nil
}

// Allows returns true if the message passes the filter criteria.
func (f *Filter) Allows(msg model.Message) bool {
	if f.includeMode {
		return matchAny(f.includeSubject, msg.Subject) || matchAny(f.includeBody, msg.Body)
	}

	if f.excludeMode {
		if matchAny(f.excludeSubject, msg.Subject) || matchAny(f.excludeBody, msg.Body) {
			return false
		}
	}

	return true
}

// Deduper drops messages whose content hash has already been seen.
type Deduper struct {
	seen map[string]string
}

// NewDeduper creates an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]string)}
}

// Seen records the message and reports whether an identical one was
// already recorded.
func (d *Deduper) Seen(msg model.Message) bool {
	hash := Hash(msg)
	if _, ok := d.seen[hash]; ok {
		return true
	}
	d.seen[hash] = msg.ID
	return false
}

// Hash derives a stable content hash over the identifying fields of a
// message. The message ID is deliberately excluded so re-extracted
// duplicates with fresh IDs still collide.
func Hash(msg model.Message) string {
	var b strings.Builder
	b.WriteString(msg.Sender.Email)
	b.WriteByte('\n')
	b.WriteString(msg.Recipients.To)
	b.WriteByte('\n')
	b.WriteString(msg.Subject)
	b.WriteByte('\n')
	b.WriteString(msg.Date.UTC().Format("2006-01-02T15:04:05"))
	b.WriteByte('\n')
	b.WriteString(msg.Body)

	sum := sha256.Sum256([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
