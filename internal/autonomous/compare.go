package autonomous

import (
	"encoding/json"
	"strings"

	"github.com/google/go-cmp/cmp"
)

// outputsAgree decides whether two tool outputs mean the same thing. The
// cascade tries, in order: exact match, whitespace-normalized match,
// JSON-decoded map comparison ignoring key order, JSON-decoded list
// comparison. Numeric JSON values compare by float64 value.
func outputsAgree(a, b string) bool {
	if a == b {
		return true
	}
	if normalizeOutput(a) == normalizeOutput(b) {
		return true
	}

	av, aok := decodeJSON(a)
	bv, bok := decodeJSON(b)
	if !aok || !bok {
		return false
	}
	return cmp.Equal(av, bv)
}

func normalizeOutput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

func decodeJSON(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, false
	}
	return v, true
}
