package cidr

import (
	"encoding/json"
	"net/netip"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrMalformedPrefix marks a CIDR string that cannot be parsed as a valid
// network (bad address or out-of-range mask). Callers treat it as a
// per-record error, not a whole-file failure.
var ErrMalformedPrefix = eris.New("malformed prefix")

var (
	cidrV4Re = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}/\d{1,2}\b`)
	cidrV6Re = regexp.MustCompile(`\b[0-9A-Fa-f:]{2,}/\d{1,3}\b`)
)

// ParsePrefix parses a CIDR string and normalizes it so host bits beyond
// the mask are zero. A bare address is accepted as a /32 or /128.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Prefix{}, eris.Wrap(ErrMalformedPrefix, "empty prefix")
	}

	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, eris.Wrapf(ErrMalformedPrefix, "%q", s)
		}
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}

	pfx, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, eris.Wrapf(ErrMalformedPrefix, "%q", s)
	}
	return pfx.Masked(), nil
}

// ParseRangeList extracts CIDR strings from a cell that may be a bracketed
// quoted list, a JSON array, a comma-separated list, or a pipe-separated
// list. All four forms normalize to the same token set. Malformed tokens
// are left in the result for the caller to report per-record.
func ParseRangeList(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	// CSV escaping can double the quotes inside a cell.
	s = strings.ReplaceAll(s, `""`, `"`)

	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		var arr []string
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			return cleanTokens(arr)
		}
		// Not valid JSON: bracketed list with single quotes or repr noise.
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		return cleanTokens(strings.Split(inner, ","))
	}

	if strings.Contains(s, "|") {
		return cleanTokens(strings.Split(s, "|"))
	}
	if strings.Contains(s, ",") {
		return cleanTokens(strings.Split(s, ","))
	}
	if tok := cleanToken(s); tok != "" && !strings.ContainsAny(tok, " \t") {
		return []string{tok}
	}

	// Free text: pull out anything CIDR-shaped.
	out := cidrV4Re.FindAllString(s, -1)
	for _, m := range cidrV6Re.FindAllString(s, -1) {
		if strings.Contains(m, ":") {
			out = append(out, m)
		}
	}
	return out
}

func cleanTokens(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if c := cleanToken(t); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func cleanToken(t string) string {
	t = strings.TrimSpace(t)
	// Legacy exports wrap tokens like u'10.0.0.0/8'.
	t = strings.TrimPrefix(t, "u'")
	t = strings.Trim(t, `'"`)
	return strings.TrimSpace(t)
}
