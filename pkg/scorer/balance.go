package scorer

import "strings"

// hashComment lists languages where '#' starts a line comment.
var hashComment = map[string]bool{"python": true, "ruby": true, "php": true}

// noSlashComment lists languages where "//" and "/*" are operators, not
// comment openers: floor division in Python, an empty regex in Ruby.
var noSlashComment = map[string]bool{"python": true, "ruby": true}

// charLiterals lists languages where single quotes always delimit a literal.
// Rust is absent because of lifetimes.
var charLiterals = map[string]bool{
	"python": true, "javascript": true, "typescript": true, "java": true,
	"go": true, "cpp": true, "csharp": true, "ruby": true, "php": true,
	"kotlin": true, "swift": true,
}

// balanced reports whether (), [] and {} nest correctly outside string
// literals and comments.
func balanced(code, lang string) bool {
	var stack []byte
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}

	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c == '/' && i+1 < len(code) && code[i+1] == '/' && !noSlashComment[lang]:
			i = skipLine(code, i)
		case c == '#' && hashComment[lang]:
			i = skipLine(code, i)
		case c == '/' && i+1 < len(code) && code[i+1] == '*' && !noSlashComment[lang]:
			i = skipBlock(code, i+2)
		case c == '`' && strings.HasPrefix(code[i:], "```"):
			i = skipLine(code, i)
		case c == '"' || c == '`' || (c == '\'' && charLiterals[lang]):
			i = skipString(code, i+1, c)
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, c)
		case c == ')' || c == ']' || c == '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}

// skipLine returns the index of the next newline, or the last index.
func skipLine(code string, i int) int {
	for i < len(code) && code[i] != '\n' {
		i++
	}
	return i
}

// skipBlock returns the index of the '/' closing a block comment.
func skipBlock(code string, i int) int {
	for i+1 < len(code) {
		if code[i] == '*' && code[i+1] == '/' {
			return i + 1
		}
		i++
	}
	return len(code)
}

// skipString returns the index of the closing quote. Backslash escapes the
// next byte in every quote style except backticks.
func skipString(code string, i int, quote byte) int {
	for i < len(code) {
		switch code[i] {
		case '\\':
			if quote != '`' {
				i++
			}
		case quote:
			return i
		}
		i++
	}
	return len(code)
}
