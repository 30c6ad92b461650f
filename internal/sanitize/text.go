package sanitize

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	htmlTagRe = regexp.MustCompile(`<[^>]*>`)
	emailRe   = regexp.MustCompile(`^[A-Za-z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]{0,61}[A-Za-z0-9])?)+$`)
)

// Text sanitizes free text: strip HTML tags, drop zero-width/format and
// control characters (newline and tab survive), NFC-normalize, trim. When
// escape is set the result is HTML-escaped. Returns "" when nothing usable
// remains.
func Text(value any, escape bool) string {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case fmt.Stringer:
		s = v.String()
	default:
		return ""
	}

	s = htmlTagRe.ReplaceAllString(s, "")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		// Cf covers zero-width and directional format characters.
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) || r == unicode.ReplacementChar {
			continue
		}
		b.WriteRune(r)
	}

	s = norm.NFC.String(b.String())
	s = strings.TrimSpace(s)
	if escape {
		s = html.EscapeString(s)
	}
	return s
}

// URL validates an absolute http(s) URL: at most 2048 chars, ASCII host with
// no trailing dot, no control characters. Credentials are stripped from the
// result.
func URL(value any) (string, bool) {
	raw, okStr := value.(string)
	if !okStr {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 2048 {
		return "", false
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			return "", false
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}

	host := u.Hostname()
	if host == "" || strings.HasSuffix(host, ".") {
		return "", false
	}
	for _, r := range host {
		if r > unicode.MaxASCII {
			return "", false
		}
	}

	u.User = nil
	return u.String(), true
}

// Email validates and normalizes an email address: single @, ASCII local
// part up to 64 chars, domain up to 255 with 1-63 char labels. Both sides
// are lowercased.
func Email(value any) (string, bool) {
	raw, okStr := value.(string)
	if !okStr {
		return "", false
	}
	raw = strings.TrimSpace(raw)

	at := strings.Count(raw, "@")
	if at != 1 {
		return "", false
	}
	parts := strings.SplitN(raw, "@", 2)
	local, domain := parts[0], parts[1]

	if local == "" || len(local) > 64 || domain == "" || len(domain) > 255 {
		return "", false
	}
	for _, r := range local {
		if r > unicode.MaxASCII {
			return "", false
		}
	}
	for _, label := range strings.Split(domain, ".") {
		if len(label) < 1 || len(label) > 63 {
			return "", false
		}
	}

	normalized := strings.ToLower(local) + "@" + strings.ToLower(domain)
	if !emailRe.MatchString(normalized) {
		return "", false
	}
	return normalized, true
}
