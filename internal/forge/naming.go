package forge

import "strings"

// stopWords are dropped from capability text when deriving tool names.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "from": true,
	"get": true, "in": true, "me": true, "my": true, "of": true,
	"on": true, "or": true, "please": true, "that": true, "the": true,
	"to": true, "with": true,
}

const maxNameWords = 4

// DeriveName turns capability text into a tool name: lowercase, stop words
// removed, snake_case, at most four words, with a _tool suffix.
func DeriveName(capability string) string {
	lowered := strings.ToLower(capability)

	var sb strings.Builder
	for _, r := range lowered {
		if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte(' ')
		}
	}

	var words []string
	for _, w := range strings.Fields(sb.String()) {
		if stopWords[w] {
			continue
		}
		words = append(words, w)
		if len(words) == maxNameWords {
			break
		}
	}
	if len(words) == 0 {
		words = []string{"forged"}
	}
	return strings.Join(words, "_") + "_tool"
}
