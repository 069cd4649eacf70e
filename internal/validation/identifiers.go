package validation

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

const (
	// MaxTicketIDLen bounds a ticket identifier in bytes.
	MaxTicketIDLen = 32

	// MaxURLLen bounds a URL in bytes.
	MaxURLLen = 2048
)

// ticketPattern matches project-key style identifiers such as "KB-1042".
var ticketPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{0,15}-[0-9]{1,10}$`)

// ValidateTicketID accepts identifiers of the form KEY-123. Surrounding
// whitespace is ignored.
func ValidateTicketID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return kberrors.ValidationError(kberrors.ErrCodeInvalidTicketID, "ticket id is empty")
	}
	if len(id) > MaxTicketIDLen {
		return kberrors.ValidationError(kberrors.ErrCodeInvalidTicketID, "ticket id exceeds maximum length")
	}
	if !ticketPattern.MatchString(id) {
		return kberrors.ValidationError(kberrors.ErrCodeInvalidTicketID, "ticket id must look like KEY-123")
	}
	return nil
}

// ValidateURL accepts absolute http and https URLs with a host and no
// embedded credentials.
func ValidateURL(raw string) error {
	_, err := parseURL(raw)
	return err
}

// ValidateHTTPSURL is ValidateURL restricted to the https scheme.
func ValidateHTTPSURL(raw string) error {
	u, err := parseURL(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "https" {
		return kberrors.ValidationError(kberrors.ErrCodeInsecureURL, "url must use https").
			WithDetail("scheme", u.Scheme)
	}
	return nil
}

func parseURL(raw string) (*url.URL, error) {
	invalid := func(msg string) error {
		return kberrors.ValidationError(kberrors.ErrCodeInvalidURL, msg)
	}

	if raw == "" {
		return nil, invalid("url is empty")
	}
	if len(raw) > MaxURLLen {
		return nil, invalid("url exceeds maximum length")
	}
	if !utf8.ValidString(raw) {
		return nil, invalid("url is not valid UTF-8")
	}
	if strings.IndexFunc(raw, func(r rune) bool { return unicode.IsControl(r) || unicode.IsSpace(r) }) >= 0 {
		return nil, invalid("url contains whitespace or control characters")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, invalid("url does not parse")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, invalid("url scheme must be http or https")
	}
	u.Scheme = scheme
	if u.Hostname() == "" {
		return nil, invalid("url has no host")
	}
	if u.User != nil {
		return nil, invalid("url must not embed credentials")
	}
	return u, nil
}
