package common

import "strings"

// ContainsFold reports whether s contains any of subs, ignoring case.
func ContainsFold(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
