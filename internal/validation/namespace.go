package validation

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

// MaxNamespaceLen bounds a normalized namespace in bytes.
const MaxNamespaceLen = 64

// DefaultNamespace is used when a caller supplies none.
const DefaultNamespace = "default"

// NormalizeNamespace folds raw into canonical namespace form: valid UTF-8,
// NFKC, trimmed, lower-cased, every rune outside [a-z0-9_-] replaced by '-',
// runs of '-' collapsed and leading or trailing '-' removed.
// Empty input yields empty output. NormalizeNamespace is idempotent.
func NormalizeNamespace(raw string) string {
	s := strings.ToValidUTF8(raw, "�")
	s = norm.NFKC.String(s)
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s))
	lastDash := true // drops leading dashes
	for _, r := range s {
		if !isNamespaceByte(r) {
			r = '-'
		}
		if r == '-' {
			if lastDash {
				continue
			}
			lastDash = true
		} else {
			lastDash = false
		}
		b.WriteRune(r)
	}

	return strings.TrimRight(b.String(), "-")
}

// ValidateNamespace checks an already normalized namespace. It rejects empty
// values, values over MaxNamespaceLen, bytes outside [a-z0-9_-], and
// non-canonical dash placement, so every accepted value is a fixed point of
// NormalizeNamespace.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return kberrors.ValidationError(kberrors.ErrCodeInvalidNamespace, "namespace is empty")
	}
	if len(ns) > MaxNamespaceLen {
		return kberrors.ValidationError(kberrors.ErrCodeInvalidNamespace, "namespace exceeds maximum length").
			WithDetail("max_bytes", strconv.Itoa(MaxNamespaceLen))
	}
	for i := 0; i < len(ns); i++ {
		if !isNamespaceByte(rune(ns[i])) {
			return kberrors.ValidationError(kberrors.ErrCodeInvalidNamespace, "namespace contains a disallowed character").
				WithSuggestion("Use lowercase letters, digits, '-' and '_'")
		}
	}
	if ns[0] == '-' || ns[len(ns)-1] == '-' || strings.Contains(ns, "--") {
		return kberrors.ValidationError(kberrors.ErrCodeInvalidNamespace, "namespace is not in normalized form")
	}
	return nil
}

// NormalizeAndValidateNamespace is NormalizeNamespace followed by
// ValidateNamespace. It returns the normalized value on success.
func NormalizeAndValidateNamespace(raw string) (string, error) {
	ns := NormalizeNamespace(raw)
	if err := ValidateNamespace(ns); err != nil {
		return "", err
	}
	return ns, nil
}

func isNamespaceByte(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}
