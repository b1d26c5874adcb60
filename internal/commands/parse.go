package commands

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// newReqID returns a short correlation id for request logs and audit rows.
func newReqID() string {
	id := uuid.NewString()
	return id[:8] + id[9:13]
}

// tokenize splits command text into tokens, honouring single and double
// quotes and backslash escapes:
//
//	/cmd a "b c" 'd e'
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ && ch == qChar:
			inQ = false
		case inQ:
			buf.WriteByte(ch)
		case ch == '"' || ch == '\'':
			inQ, qChar = true, ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// splitCommand separates "<prefix>word@bot rest" into word, the addressed
// bot name (if any) and the untouched remainder of the line.
func splitCommand(text, prefix string) (word, bot, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", "", "", false
	}
	text = text[len(prefix):]
	head, tail := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		head, tail = text[:i], text[i:]
	}
	word, bot, _ = strings.Cut(head, "@")
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return "", "", "", false
	}
	return word, bot, strings.TrimSpace(tail), true
}

// sanitizeMenuName converts a command name into Telegram's [a-z0-9_]{1,32}.
func sanitizeMenuName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '.':
			b.WriteByte('_')
		}
		if b.Len() >= 32 {
			break
		}
	}
	return strings.Trim(b.String(), "_")
}
