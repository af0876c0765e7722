// Package subject decides whether a piece of text names or represents the
// protected data subject. Every redaction stage consults it before
// substituting anything: text matching the data subject is never replaced.
package subject

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the immutable protected-identity configuration. Variations
// are accepted surface forms (nicknames, initials, titled forms) matched
// case-insensitively in addition to the canonical name and email.
type Config struct {
	Name       string   `yaml:"name"`
	Email      string   `yaml:"email"`
	Variations []string `yaml:"variations"`
}

// LoadFile reads a subject Config from a YAML file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read subject config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse subject config: %w", err)
	}
	return cfg, nil
}

// Matcher answers whether text represents the data subject.
type Matcher struct {
	name       string
	email      string
	normName   string
	normEmail  string
	variations []string
}

// New builds a Matcher from the given config. Name and email are required.
func New(cfg Config) (*Matcher, error) {
	name := strings.TrimSpace(cfg.Name)
	email := strings.TrimSpace(cfg.Email)
	if name == "" {
		return nil, fmt.Errorf("subject name is empty")
	}
	if email == "" {
		return nil, fmt.Errorf("subject email is empty")
	}

	m := &Matcher{
		name:      name,
		email:     email,
		normName:  normalize(name),
		normEmail: normalize(email),
	}

	seen := map[string]bool{m.normName: true, m.normEmail: true}
	m.variations = []string{m.normName, m.normEmail}
	for _, v := range cfg.Variations {
		norm := normalize(v)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		m.variations = append(m.variations, norm)
	}

	return m, nil
}

// Name returns the canonical display name.
func (m *Matcher) Name() string { return m.name }

// Email returns the canonical email address.
func (m *Matcher) Email() string { return m.email }

// Is reports whether text, taken as a whole, represents the data subject:
// it equals the canonical email, equals any accepted variation, or
// contains the canonical full name as a substring.
func (m *Matcher) Is(text string) bool {
	norm := normalize(text)
	if norm == "" {
		return false
	}
	if norm == m.normEmail {
		return true
	}
	for _, v := range m.variations {
		if norm == v {
			return true
		}
	}
	return strings.Contains(norm, m.normName)
}

// Contains is the relaxed predicate: it additionally matches when any
// accepted variation appears anywhere within a longer string, e.g. inside
// a recipient list entry.
func (m *Matcher) Contains(text string) bool {
	norm := normalize(text)
	if norm == "" {
		return false
	}
	for _, v := range m.variations {
		if strings.Contains(norm, v) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
