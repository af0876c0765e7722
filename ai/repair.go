package ai

import "strings"

// repairJSON cleans up a model response that failed to parse: markdown
// code fences are stripped, the text is cut down to its outermost object,
// and unterminated strings, braces and brackets are closed. The result is
// a best-effort candidate for a second parse attempt, not guaranteed
// valid.
func repairJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Strip ```json ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.IndexByte(s, '\n'); idx >= 0 {
			s = s[idx+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// Cut to the outermost object.
	if idx := strings.IndexByte(s, '{'); idx > 0 {
		s = s[idx:]
	} else if idx < 0 {
		return s
	}

	return balanceDelimiters(s)
}

// balanceDelimiters appends the closers for any JSON delimiters left open
// at the end of s, tracking string state so braces inside values are not
// miscounted.
func balanceDelimiters(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}', ']':
			if !inString && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		switch stack[i] {
		case '{':
			b.WriteByte('}')
		case '[':
			b.WriteByte(']')
		}
	}
	return b.String()
}
