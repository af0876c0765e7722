package redact

import "strings"

// commonWords is the deny-list of capitalized tokens that look like names
// to the heuristics and the AI stage but never are: days, months,
// department names, greetings and business jargon. A candidate is denied
// when every one of its words is on the list.
var commonWords = map[string]struct{}{}

func init() {
	words := []string{
		// days and months
		"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
		"january", "february", "march", "april", "may", "june", "july",
		"august", "september", "october", "november", "december",
		// greetings and sign-offs
		"hi", "hello", "dear", "hey", "regards", "thanks", "thank", "cheers",
		"best", "kind", "many", "sincerely", "morning", "afternoon", "evening",
		"all", "team", "everyone", "sir", "madam",
		// departments and org words
		"sales", "accounts", "finance", "support", "service", "services",
		"customer", "admin", "office", "reception", "dispatch", "operations",
		"transport", "logistics", "warehouse", "department", "dept",
		// business jargon
		"invoice", "order", "payment", "delivery", "collection", "quote",
		"quotation", "booking", "reference", "account", "statement", "credit",
		"update", "urgent", "meeting", "reminder", "confirmation", "attached",
		"attachment", "please", "forwarded", "subject", "email", "phone",
		"mobile", "tel", "fax", "web", "website", "from", "sent", "to", "cc",
		"date", "re", "fw", "fwd",
		// company suffixes
		"ltd", "limited", "plc", "llp", "inc", "llc", "group", "company",
		"solutions", "holdings",
	}
	for _, w := range words {
		commonWords[w] = struct{}{}
	}
}

// IsCommonWord reports whether s consists entirely of deny-listed words.
// Shared by the heuristic pass and the AI stage.
func IsCommonWord(s string) bool {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		f = strings.Trim(f, ".,:;!?()")
		if f == "" {
			continue
		}
		if _, ok := commonWords[f]; !ok {
			return false
		}
	}
	return true
}

// hasCompanySuffix reports whether the last word of s is a company suffix.
func hasCompanySuffix(s string) bool {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return false
	}
	last := strings.Trim(fields[len(fields)-1], ".,")
	switch last {
	case "ltd", "limited", "plc", "llp", "inc", "llc", "gmbh", "group":
		return true
	}
	return false
}
