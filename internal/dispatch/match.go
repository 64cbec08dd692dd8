// Package dispatch selects a backend for a request and queues the request
// against that backend's bounded concurrency gate.
package dispatch

import (
	"regexp"
	"strings"
)

// MatchModel reports whether candidate (a model name a backend advertises,
// e.g. "llama3:latest") satisfies a request for model M, per spec §4.2:
// ^M(:<version>)?$, and if M carries no version, ":latest" also matches.
func MatchModel(requested, candidate string) bool {
	if requested == "" {
		return true
	}
	pattern := "^" + regexp.QuoteMeta(requested) + "(:[^:]+)?$"
	re := regexp.MustCompile(pattern)
	if re.MatchString(candidate) {
		return true
	}
	if !strings.Contains(requested, ":") && candidate == requested+":latest" {
		return true
	}
	return false
}

// ResolvePrefix substitutes the first model name in candidates that starts
// with requested when requested itself is not an exact member, so that a
// client that omitted :version still maps onto the versioned name the
// backend actually advertises (spec §4.2 step 5).
func ResolvePrefix(requested string, candidates []string) string {
	for _, c := range candidates {
		if c == requested {
			return requested
		}
	}
	for _, c := range candidates {
		if strings.HasPrefix(c, requested) {
			return c
		}
	}
	return requested
}
