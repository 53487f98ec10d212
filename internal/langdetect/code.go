package langdetect

import "strings"

// PrimaryCode reduces a language tag such as "en_US" or "PT-br" to its
// lower-case primary subtag. Tags with non-letter subtags yield "".
func PrimaryCode(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return ""
	}

	primary := ""
	for _, part := range strings.FieldsFunc(tag, func(r rune) bool { return r == '-' || r == '_' }) {
		for _, r := range part {
			if r < 'a' || r > 'z' {
				return ""
			}
		}
		if primary == "" {
			primary = part
		}
	}
	return primary
}
