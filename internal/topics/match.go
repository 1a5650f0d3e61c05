// Package topics routes broadcast messages to consumers by topic pattern.
//
// A pattern is an exact topic, "*" for everything, or a prefix ending in "*"
// such as "arbitrage.*".
package topics

import "strings"

// Matches reports whether any filter admits topic.
func Matches(filters []string, topic string) bool {
	for _, f := range filters {
		if matchOne(f, topic) {
			return true
		}
	}
	return false
}

func matchOne(filter, topic string) bool {
	if filter == "*" || filter == topic {
		return true
	}
	if prefix, ok := strings.CutSuffix(filter, "*"); ok {
		return strings.HasPrefix(topic, prefix)
	}
	return false
}

// Category is the first dotted segment of topic.
func Category(topic string) string {
	head, _, _ := strings.Cut(topic, ".")
	return head
}
