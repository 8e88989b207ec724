// Package strings cleans the free-form code lists vendors send back.
package strings

import (
	"strings"
)

// VendorCodes trims each code and drops blanks and repeats, keeping the
// order the vendor reported them in. Case is preserved because some vendors
// give "R123" and "r123" different meanings.
//
//	VendorCodes([]string{" R831", "decision:reject", "R831", ""})
//	// []string{"R831", "decision:reject"}
func VendorCodes(values []string) []string {
	return clean(values, strings.TrimSpace)
}

// FoldedCodes is VendorCodes with each code lowercased, for matching against
// a fixed lowercase taxonomy such as rejection reasons.
//
//	FoldedCodes([]string{"EXPIRED", " expired", "Unreadable"})
//	// []string{"expired", "unreadable"}
func FoldedCodes(values []string) []string {
	return clean(values, func(v string) string {
		return strings.ToLower(strings.TrimSpace(v))
	})
}

func clean(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = normalize(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
