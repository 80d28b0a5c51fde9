package utils

// Input validation for names and descriptions that flow into downstream
// logging and storage layers. The character classes are deliberately
// restrictive; widening them is an API change, not a bug fix.

const maxNameLen = 128

// ValidDescription reports whether s is safe to store and echo in logs:
// letters, digits, spaces and ". _ -" only.
func ValidDescription(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == ' ' || c == '.' || c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// ValidName reports whether s is a well-formed unique name for a group,
// role, permission or policy: non-empty, bounded, lowercase alphanumeric
// with ". _ - :" separators, and must start with a letter or digit.
func ValidName(s string) bool {
	if s == "" || len(s) > maxNameLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-' || c == ':':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
