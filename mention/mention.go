// Package mention finds, suggests, inserts and parses @mentions in message
// text. Caret positions are byte offsets into the text.
package mention

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mqy/minichat/chatstore"
)

// MaxSuggestions caps the result of Suggest.
const MaxSuggestions = 5

// A mention starts at the beginning of the text or after whitespace, so
// addresses like a@b.com are plain text. A bare name starts and ends with a
// letter, digit or underscore; anything else is written bracketed, with '\'
// and ']' escaped by a backslash.
const bareName = `[\p{L}\p{N}_](?:[\p{L}\p{N}_.\-]*[\p{L}\p{N}_])?`

var (
	triggerRe = regexp.MustCompile(`(?:^|\s)(@)(\S*)$`)
	bareRe    = regexp.MustCompile(`^` + bareName + `$`)
	mentionRe = regexp.MustCompile(`(?:^|\s)(@)(?:\[((?:[^\]\\]|\\.)+)\]|(` + bareName + `))`)
	escapeRe  = regexp.MustCompile(`\\(.)`)
)

// Trigger reports whether the text before caret ends with an @token and
// returns the token (without '@') and the byte offset of the '@'.
func Trigger(text string, caret int) (query string, start int, ok bool) {
	caret = clamp(text, caret)
	m := triggerRe.FindStringSubmatchIndex(text[:caret])
	if m == nil {
		return "", 0, false
	}
	return text[m[4]:m[5]], m[2], true
}

// Suggest returns up to MaxSuggestions members whose name contains query,
// case-insensitively, in membership order. selfID is never suggested.
func Suggest(members []chatstore.Member, selfID, query string) []chatstore.Member {
	q := strings.ToLower(query)
	var out []chatstore.Member
	for _, m := range members {
		if m.UserID == selfID {
			continue
		}
		if !strings.Contains(strings.ToLower(m.Name), q) {
			continue
		}
		out = append(out, m)
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out
}

// Token renders the mention of name: "@name" when name is a bare name,
// "@[Full Name]" otherwise.
func Token(name string) string {
	if bareRe.MatchString(name) {
		return "@" + name
	}
	name = strings.ReplaceAll(name, `\`, `\\`)
	return "@[" + strings.ReplaceAll(name, "]", `\]`) + "]"
}

// Insert replaces the @token ending at caret with the mention of name
// followed by one space. It returns the new text and the caret just after the
// inserted space. Without a pending @token the text is returned unchanged.
func Insert(text string, caret int, name string) (string, int) {
	caret = clamp(text, caret)
	_, start, ok := Trigger(text, caret)
	if !ok {
		return text, caret
	}
	ins := Token(name) + " "
	return text[:start] + ins + text[caret:], start + len(ins)
}

// Segment is a piece of parsed text. For mentions Text holds the display form
// ("@Full Name") and Name the bare name.
type Segment struct {
	Text    string
	Mention bool
	Name    string
}

// Parse splits text into plain and mention segments. It recognizes exactly
// what Token emits: "@[Full Name]" and bare "@name". Trailing punctuation is
// not part of a bare name.
func Parse(text string) []Segment {
	var out []Segment
	var last int
	for _, m := range mentionRe.FindAllStringSubmatchIndex(text, -1) {
		if m[2] > last {
			out = append(out, Segment{Text: text[last:m[2]]})
		}
		var name string
		if m[4] >= 0 {
			name = escapeRe.ReplaceAllString(text[m[4]:m[5]], "$1")
		} else {
			name = text[m[6]:m[7]]
		}
		out = append(out, Segment{Text: "@" + name, Mention: true, Name: name})
		last = m[1]
	}
	if last < len(text) {
		out = append(out, Segment{Text: text[last:]})
	}
	return out
}

// clamp bounds caret to text and moves it back to a rune boundary.
func clamp(text string, caret int) int {
	if caret < 0 {
		return 0
	}
	if caret > len(text) {
		return len(text)
	}
	for caret > 0 && caret < len(text) && !utf8.RuneStart(text[caret]) {
		caret--
	}
	return caret
}
