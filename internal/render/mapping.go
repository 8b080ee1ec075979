package render

import "strings"

// Canonical recipient fields a recipient-list upload is mapped onto.
const (
	FieldAddress    = "address"
	FieldName       = "name"
	FieldSalutation = "salutation"
	FieldCompany    = "company"
)

var fieldSynonyms = map[string][]string{
	FieldAddress:    {"email", "e-mail", "mail", "address", "emailaddress"},
	FieldName:       {"name", "fullname", "firstname", "vorname", "recipient"},
	FieldSalutation: {"salutation", "greeting", "anrede", "title"},
	FieldCompany:    {"company", "organisation", "organization", "firma", "employer"},
}

// SuggestMapping proposes which spreadsheet column feeds which recipient
// field, by normalized synonym matching over the header row. Stateless
// heuristic; the operator confirms or overrides the suggestion before a
// campaign is created. Returns canonical field -> header name for every
// field a column could be found for.
func SuggestMapping(headers []string) map[string]string {
	suggestion := make(map[string]string)

	for _, field := range []string{FieldAddress, FieldName, FieldSalutation, FieldCompany} {
		for _, header := range headers {
			if _, taken := suggestionValue(suggestion, header); taken {
				continue
			}
			if matchesField(field, header) {
				suggestion[field] = header
				break
			}
		}
	}

	return suggestion
}

func matchesField(field, header string) bool {
	normalized := normalizeHeader(header)
	if normalized == "" {
		return false
	}

	for _, synonym := range fieldSynonyms[field] {
		if normalized == synonym || strings.Contains(normalized, synonym) {
			return true
		}
	}
	return false
}

func normalizeHeader(header string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(header)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func suggestionValue(suggestion map[string]string, header string) (string, bool) {
	for field, mapped := range suggestion {
		if mapped == header {
			return field, true
		}
	}
	return "", false
}
