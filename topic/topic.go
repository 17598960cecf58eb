// Package topic implements the wildcard matching rules for Anachro
// topic paths: '/'-separated segments, '+' for a single segment and
// '#' as a tail wildcard legal only in the final position.
package topic

import (
	"strings"

	"github.com/juju/errors"
)

const (
	// SingleWildcard matches exactly one path segment.
	SingleWildcard = "+"
	// TailWildcard matches the remainder of a path, including zero
	// segments. Legal only as the final segment of a pattern.
	TailWildcard = "#"
)

// Split breaks a topic path into its '/'-separated segments.
func Split(path string) []string {
	return strings.Split(path, "/")
}

// Match reports whether the concrete topic matches pattern. Both are
// split on '/' and walked pairwise; see the package doc for the
// wildcard rules.
func Match(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}

	pSegs := Split(pattern)
	tSegs := Split(topic)

	for {
		switch {
		case len(pSegs) > 0 && pSegs[0] == TailWildcard:
			return true
		case len(pSegs) == 0 && len(tSegs) == 0:
			return true
		case len(pSegs) == 0 || len(tSegs) == 0:
			return false
		case pSegs[0] == SingleWildcard:
			pSegs, tSegs = pSegs[1:], tSegs[1:]
		case pSegs[0] == tSegs[0]:
			pSegs, tSegs = pSegs[1:], tSegs[1:]
		default:
			return false
		}
	}
}

// HasWildcard reports whether path contains a '+' or '#' segment.
func HasWildcard(path string) bool {
	for _, seg := range Split(path) {
		if seg == SingleWildcard || seg == TailWildcard {
			return true
		}
	}
	return false
}

// Validate checks that path is a well-formed Anachro topic path: no
// empty segments, and (when allowWildcards is false) no '+' or '#'
// anywhere. When allowWildcards is true, '#' is only legal as the
// final segment.
func Validate(path string, allowWildcards bool) error {
	segs := Split(path)
	for i, seg := range segs {
		if seg == "" {
			return errors.Errorf("anachro: empty segment in topic path %q", path)
		}
		switch seg {
		case SingleWildcard:
			if !allowWildcards {
				return errors.Errorf("anachro: wildcard %q not allowed in %q", seg, path)
			}
		case TailWildcard:
			if !allowWildcards {
				return errors.Errorf("anachro: wildcard %q not allowed in %q", seg, path)
			}
			if i != len(segs)-1 {
				return errors.Errorf("anachro: %q wildcard must be the final segment in %q", TailWildcard, path)
			}
		}
	}
	return nil
}
