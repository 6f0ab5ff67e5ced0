// Package navigation holds redirect safety checks and the per-session
// navigation state used by the guard: redirect history and the return path.
package navigation

import (
	"net/url"
	"strings"
)

// DefaultLanding is where unsafe or looping navigation ends up.
const DefaultLanding = "/"

// AllowedRoots are the only path roots a redirect or return path may target.
var AllowedRoots = []string{
	"/auth",
	"/profile",
	"/professional",
	"/forbidden",
	"/practitioner",
	"/pharmacy",
	"/admin",
}

const maxUnescapeRounds = 3

// IsSafeTarget reports whether target is a same-origin path under an allowed root.
// Percent-encoded forms are checked after decoding; targets that need more
// than maxUnescapeRounds decodes are rejected.
func IsSafeTarget(target string) bool {
	if target == "" || !hasSafeShape(target) {
		return false
	}
	decoded := target
	for round := 0; ; round++ {
		next, err := url.PathUnescape(decoded)
		if err != nil {
			return false
		}
		if next == decoded {
			break
		}
		if round == maxUnescapeRounds {
			// Still encoded after the last allowed round.
			return false
		}
		decoded = next
		if !hasSafeShape(decoded) {
			return false
		}
	}
	return underAllowedRoot(pathOf(decoded))
}

// SanitizeTarget returns target when safe and DefaultLanding otherwise.
func SanitizeTarget(target string) string {
	if IsSafeTarget(target) {
		return target
	}
	return DefaultLanding
}

func hasSafeShape(s string) bool {
	if !strings.HasPrefix(s, "/") {
		return false
	}
	if strings.Contains(s, "//") || strings.Contains(s, `\`) || strings.Contains(s, "://") {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	for _, seg := range strings.Split(pathOf(s), "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

func pathOf(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}

func underAllowedRoot(p string) bool {
	for _, root := range AllowedRoots {
		if p == root || strings.HasPrefix(p, root+"/") {
			return true
		}
	}
	return false
}
