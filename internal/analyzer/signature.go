package analyzer

import "strings"

// signatureRule maps an error-text fragment to a stable signature so
// the same root cause clusters across differently-worded messages.
type signatureRule struct {
	contains  []string
	signature string
}

// Ordered, first match wins. Broad fragments go last.
var signatureRules = []signatureRule{
	{[]string{"connection", "timeout"}, "connection_error"},
	{[]string{"404", "not found"}, "not_found"},
	{[]string{"permission", "forbidden"}, "permission_error"},
	{[]string{"memory"}, "out_of_memory"},
	{[]string{"7z", "corrupt", "archive"}, "corrupt_archive"},
	{[]string{"quota", "rate limit"}, "sink_quota"},
	{[]string{"empty output"}, "empty_output"},
	{[]string{"credential", "unauthorized"}, "auth"},
}

// Signature normalizes an error message to a cluster key. Messages no
// rule matches fall back to their first three words, which still
// groups repeats of the same message.
func Signature(errMsg string) string {
	s := strings.ToLower(errMsg)
	for _, rule := range signatureRules {
		for _, frag := range rule.contains {
			if strings.Contains(s, frag) {
				return rule.signature
			}
		}
	}

	words := strings.Fields(s)
	if len(words) > 3 {
		words = words[:3]
	}
	if len(words) == 0 {
		return "unknown"
	}
	return strings.Join(words, "_")
}
