package validation

import (
	"strconv"
	"strings"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

// MaxQueryBytes bounds a search query. Longer queries are rejected before
// either index is consulted.
const MaxQueryBytes = 4096

// NormalizeQuery checks the byte bound first, then repairs invalid UTF-8 and
// trims surrounding whitespace. Empty queries are rejected.
func NormalizeQuery(q string) (string, error) {
	if len(q) > MaxQueryBytes {
		return "", kberrors.ValidationError(kberrors.ErrCodeQueryTooLong, "query exceeds maximum length").
			WithDetail("max_bytes", strconv.Itoa(MaxQueryBytes)).
			WithDetail("got_bytes", strconv.Itoa(len(q)))
	}

	q = strings.TrimSpace(strings.ToValidUTF8(q, " "))
	if q == "" {
		return "", kberrors.ValidationError(kberrors.ErrCodeQueryEmpty, "query is empty")
	}
	return q, nil
}

// ValidateQuery reports whether q would be accepted by NormalizeQuery.
func ValidateQuery(q string) error {
	_, err := NormalizeQuery(q)
	return err
}
