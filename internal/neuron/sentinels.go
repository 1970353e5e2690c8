package neuron

import "strings"

// Sentinel prefixes signal tool-path failures to the orchestrator without
// raising errors; the recovery policy interprets them.
const (
	SentinelNoMatchingTool   = "NO_MATCHING_TOOL"
	SentinelNoToolsAvailable = "NO_TOOLS_AVAILABLE"
	SentinelToolNotFound     = "TOOL_NOT_FOUND"
	SentinelToolError        = "TOOL_ERROR"
	SentinelToolException    = "TOOL_EXCEPTION"
)

// Sentinel formats a sentinel string with its detail.
func Sentinel(kind, detail string) string {
	if detail == "" {
		return kind
	}
	return kind + ":" + detail
}

// ParseSentinel splits a neuron result into sentinel kind and detail.
// ok is false for ordinary results.
func ParseSentinel(s string) (kind, detail string, ok bool) {
	for _, k := range []string{
		SentinelNoMatchingTool,
		SentinelNoToolsAvailable,
		SentinelToolNotFound,
		SentinelToolError,
		SentinelToolException,
	} {
		if s == k {
			return k, "", true
		}
		if strings.HasPrefix(s, k+":") {
			return k, s[len(k)+1:], true
		}
	}
	return "", "", false
}
