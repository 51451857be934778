// Package mention finds @-mentions in comment text and resolves them to
// workspace users.
package mention

import (
	"regexp"
	"strings"

	"github.com/ldi/sprintboard/pkg/models"
)

// pattern accepts @"Quoted Full Name" or a bare @Token. The alternatives are
// exclusive, so a single scan never produces overlapping matches.
var pattern = regexp.MustCompile(`@"([^"]+)"|@([^\s"]+)`)

const trailingPunct = ".,;:!?)"

// Extract returns the mentioned names in the order they appear. An @ that
// follows a word character, as inside an email address, is not a mention.
func Extract(text string) []string {
	var names []string
	for _, m := range pattern.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > 0 && inWord(text[m[0]-1]) {
			continue
		}
		var name string
		if m[2] >= 0 {
			name = text[m[2]:m[3]]
		} else {
			name = strings.TrimRight(text[m[4]:m[5]], trailingPunct)
		}
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

func inWord(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '_' || b == '.' || b == '+' || b == '-' || b >= 0x80:
		return true
	}
	return false
}

// Match resolves mentions against users. A mention matches a user when it
// equals the full name or the first name, ignoring case. Each user is
// returned once, in order of first mention.
func Match(mentions []string, users []models.User) []models.User {
	var matched []models.User
	seen := make(map[string]bool)
	for _, name := range mentions {
		for _, u := range users {
			if seen[u.ID] || !matches(name, u) {
				continue
			}
			seen[u.ID] = true
			matched = append(matched, u)
		}
	}
	return matched
}

// Recipients returns the users mentioned in text, excluding the author.
func Recipients(text string, users []models.User, authorID string) []models.User {
	var out []models.User
	for _, u := range Match(Extract(text), users) {
		if u.ID == authorID {
			continue
		}
		out = append(out, u)
	}
	return out
}

func matches(name string, u models.User) bool {
	full := strings.TrimSpace(u.FullName)
	if full == "" {
		return false
	}
	if strings.EqualFold(name, full) {
		return true
	}
	first, _, _ := strings.Cut(full, " ")
	return strings.EqualFold(name, first)
}
