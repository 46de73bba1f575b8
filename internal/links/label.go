package links

// ValidateLinkLabel checks that a label is an ASCII identifier that does
// not start or end with an underscore. Double underscores are allowed and
// act as namespace separators.
func ValidateLinkLabel(label string) error {
	if label == "" {
		return newError(CodeLabel, "link label must not be empty")
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return newError(CodeLabel, "link label %q must not start with a digit", label)
			}
		default:
			return newError(CodeLabel, "link label %q contains invalid character %q", label, c)
		}
	}
	if label[0] == '_' || label[len(label)-1] == '_' {
		return newError(CodeLabel, "link label %q must not start or end with an underscore", label)
	}
	return nil
}
