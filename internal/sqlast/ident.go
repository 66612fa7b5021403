package sqlast

import "strings"

type identPart struct {
	text   string
	quoted bool
}

// matches reports whether the source spelling folds to the parser's name.
func (p identPart) matches(pgName string) bool {
	if p.quoted {
		return p.text == pgName
	}
	return asciiLower(p.text) == pgName
}

// recoverNames returns the source spelling of a dotted name that the parser
// reported as pgNames, starting at byte offset loc. Parts that cannot be
// matched against the source keep the parser's spelling.
func recoverNames(src string, loc int, pgNames []string) []string {
	out := append([]string(nil), pgNames...)
	if loc < 0 || loc >= len(src) || len(pgNames) == 0 {
		return out
	}
	chain := readIdentChain(src, loc)
	if len(chain) == 0 {
		return out
	}

	// Syntax-sugar calls such as EXTRACT are reported with an implicit
	// pg_catalog prefix that the source does not spell out.
	offset := 0
	if len(chain) < len(pgNames) {
		offset = len(pgNames) - len(chain)
	}
	for i := offset; i < len(pgNames); i++ {
		j := i - offset
		if j >= len(chain) {
			break
		}
		if chain[j].matches(pgNames[i]) {
			out[i] = chain[j].text
		}
	}
	return out
}

// recoverKeyword returns the word at loc when it spells want (ignoring case),
// otherwise want itself.
func recoverKeyword(src string, loc int, want string) string {
	if loc < 0 || loc >= len(src) {
		return want
	}
	part, _, ok := readIdent(src, loc)
	if !ok || part.quoted || !strings.EqualFold(part.text, want) {
		return want
	}
	return part.text
}

func readIdentChain(src string, pos int) []identPart {
	var parts []identPart
	for pos < len(src) {
		part, next, ok := readIdent(src, pos)
		if !ok {
			break
		}
		parts = append(parts, part)
		pos = skipSpace(src, next)
		if pos >= len(src) || src[pos] != '.' {
			break
		}
		pos = skipSpace(src, pos+1)
	}
	return parts
}

func readIdent(src string, pos int) (identPart, int, bool) {
	if pos >= len(src) {
		return identPart{}, pos, false
	}
	if src[pos] == '"' {
		var b strings.Builder
		for i := pos + 1; i < len(src); i++ {
			if src[i] != '"' {
				b.WriteByte(src[i])
				continue
			}
			if i+1 < len(src) && src[i+1] == '"' {
				b.WriteByte('"')
				i++
				continue
			}
			return identPart{text: b.String(), quoted: true}, i + 1, true
		}
		return identPart{}, pos, false
	}

	end := pos
	for end < len(src) && isIdentByte(src[end], end == pos) {
		end++
	}
	if end == pos {
		return identPart{}, pos, false
	}
	return identPart{text: src[pos:end]}, end, true
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c >= 0x80:
		return true
	case c >= '0' && c <= '9', c == '$':
		return !first
	}
	return false
}

// skipSpace skips whitespace and comments. Block comments nest, as in
// PostgreSQL; an unterminated comment runs to the end of src.
func skipSpace(src string, pos int) int {
	for pos < len(src) {
		switch {
		case strings.IndexByte(" \t\n\r\f\v", src[pos]) >= 0:
			pos++
		case strings.HasPrefix(src[pos:], "--"):
			nl := strings.IndexByte(src[pos:], '\n')
			if nl < 0 {
				return len(src)
			}
			pos += nl + 1
		case strings.HasPrefix(src[pos:], "/*"):
			pos = skipBlockComment(src, pos)
		default:
			return pos
		}
	}
	return pos
}

func skipBlockComment(src string, pos int) int {
	depth := 0
	for pos < len(src) {
		switch {
		case strings.HasPrefix(src[pos:], "/*"):
			depth++
			pos += 2
		case strings.HasPrefix(src[pos:], "*/"):
			depth--
			pos += 2
			if depth == 0 {
				return pos
			}
		default:
			pos++
		}
	}
	return pos
}

// asciiLower folds A-Z only, like PostgreSQL's identifier downcasing in a
// multibyte encoding.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
