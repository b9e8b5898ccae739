package sanitize

import "strings"

// Normalize removes comments, collapses whitespace outside quoted text to a
// single space and terminates the statement with exactly one semicolon.
// Quoted strings, quoted identifiers and dollar-quoted bodies are copied
// verbatim.
func Normalize(sql string) string {
	var b strings.Builder
	b.Grow(len(sql) + 1)
	pendingSpace := false
	emit := func(s string) {
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteString(s)
	}

	n := len(sql)
	for i := 0; i < n; {
		c := sql[i]
		switch {
		case c == '-' && i+1 < n && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				i = n
			} else {
				i += end + 1
			}
			pendingSpace = true
		case c == '/' && i+1 < n && sql[i+1] == '*':
			i = skipBlockComment(sql, i)
			pendingSpace = true
		case isSpace(c):
			pendingSpace = true
			i++
		case c == '\'':
			escapes := i > 0 && (sql[i-1] == 'E' || sql[i-1] == 'e') && (i < 2 || !isIdentByte(sql[i-2]))
			end := scanQuoted(sql, i, '\'', escapes)
			emit(sql[i:end])
			i = end
		case c == '"':
			end := scanQuoted(sql, i, '"', false)
			emit(sql[i:end])
			i = end
		case c == '$':
			if tag := dollarTag(sql, i); tag != "" {
				end := strings.Index(sql[i+len(tag):], tag)
				if end < 0 {
					end = n
				} else {
					end = i + len(tag) + end + len(tag)
				}
				emit(sql[i:end])
				i = end
				continue
			}
			emit("$")
			i++
		default:
			emit(sql[i : i+1])
			i++
		}
	}

	out := strings.TrimSpace(b.String())
	for strings.HasSuffix(out, ";") {
		out = strings.TrimSpace(strings.TrimSuffix(out, ";"))
	}
	return out + ";"
}

func skipBlockComment(sql string, start int) int {
	depth := 0
	n := len(sql)
	for i := start; i < n; {
		switch {
		case i+1 < n && sql[i] == '/' && sql[i+1] == '*':
			depth++
			i += 2
		case i+1 < n && sql[i] == '*' && sql[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return n
}

// scanQuoted returns the index just past the closing quote. A doubled quote is
// an escaped quote; with backslashEscapes a backslash escapes the next byte.
func scanQuoted(sql string, start int, quote byte, backslashEscapes bool) int {
	n := len(sql)
	for i := start + 1; i < n; i++ {
		switch sql[i] {
		case '\\':
			if backslashEscapes {
				i++
			}
		case quote:
			if i+1 < n && sql[i+1] == quote {
				i++
				continue
			}
			return i + 1
		}
	}
	return n
}

func dollarTag(sql string, start int) string {
	n := len(sql)
	if start+1 < n && sql[start+1] == '$' {
		if start > 0 && isIdentByte(sql[start-1]) {
			return ""
		}
		return "$$"
	}
	i := start + 1
	if i >= n || !(isLetter(sql[i]) || sql[i] == '_') {
		return ""
	}
	if start > 0 && isIdentByte(sql[start-1]) {
		return ""
	}
	for i < n && (isLetter(sql[i]) || isDigit(sql[i]) || sql[i] == '_') {
		i++
	}
	if i < n && sql[i] == '$' {
		return sql[start : i+1]
	}
	return ""
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentByte(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '_' || c == '$'
}
