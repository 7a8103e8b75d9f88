// Package strutil holds the small string helpers shared by the cgroup,
// userns, and CLI code: splitting a "key=value" pair and validating a
// bare filename taken from untrusted input.
package strutil

import "strings"

// SplitOnce splits s on the first occurrence of sep, returning the two
// halves and true. If sep does not occur in s, it returns two empty
// strings and false.
func SplitOnce(s, sep string) (head, tail string, ok bool) {
	head, tail, ok = strings.Cut(s, sep)
	if !ok {
		return "", "", false
	}
	return head, tail, true
}

// IsPlainFilename reports whether s is safe to use as a single path
// component taken from untrusted input: non-empty, not "." or "..", and
// free of any "/".
func IsPlainFilename(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsRune(s, '/')
}
