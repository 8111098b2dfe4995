package mapping

import "net/url"

const redacted = "REDACTED"

// Redact masks the named query parameters of rawURL. Unparseable input is
// returned as a fixed placeholder rather than echoed.
func Redact(rawURL string, keys []string) string {
	if len(keys) == 0 {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return redacted
	}
	q := u.Query()
	changed := false
	for _, k := range keys {
		if _, ok := q[k]; ok {
			q.Set(k, redacted)
			changed = true
		}
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}
