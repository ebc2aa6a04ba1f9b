package runner

import "strings"

// rewriteToolCalls turns the author-facing call syntax
// `tools.<service>.<method>(arg1, arg2, ...)` into
// `tools.call("<service>", "<method>", [arg1, arg2, ...])` before the
// script reaches otto.
//
// otto implements ECMAScript 5, which has no Proxy — there is no way
// to intercept an arbitrary `tools.X.Y` property access generically,
// only named properties declared up front. Rather than require task
// authors to enumerate every service a handler might call, the runner
// does a small source-to-source rewrite so the sandbox only ever needs
// to expose one native function, `tools.call`, as the external-call
// intercept (spec.md §4.3). Wrapping the original argument list in an
// array literal (rather than splicing a variadic call) sidesteps
// having to special-case zero-argument calls.
func rewriteToolCalls(code string) string {
	var out strings.Builder
	i := 0
	n := len(code)
	for i < n {
		if m := matchToolCall(code, i); m != nil {
			out.WriteString(`tools.call("`)
			out.WriteString(m.service)
			out.WriteString(`", "`)
			out.WriteString(m.method)
			out.WriteString(`", [`)
			out.WriteString(m.args)
			out.WriteString(`])`)
			i = m.end
			continue
		}
		out.WriteByte(code[i])
		i++
	}
	return out.String()
}

type toolCallMatch struct {
	service string
	method  string
	args    string
	end     int
}

// matchToolCall reports whether code[start:] begins with
// `tools.<ident>.<ident>(` and, if so, scans forward tracking paren
// depth and string-literal state to find the matching close paren.
func matchToolCall(code string, start int) *toolCallMatch {
	const prefix = "tools."
	if !strings.HasPrefix(code[start:], prefix) {
		return nil
	}
	pos := start + len(prefix)

	service, pos, ok := scanIdent(code, pos)
	if !ok {
		return nil
	}
	if pos >= len(code) || code[pos] != '.' {
		return nil
	}
	pos++

	method, pos, ok := scanIdent(code, pos)
	if !ok {
		return nil
	}
	pos = skipSpace(code, pos)
	if pos >= len(code) || code[pos] != '(' {
		return nil
	}
	argsStart := pos + 1

	argsEnd, end, ok := scanBalancedParen(code, pos)
	if !ok {
		return nil
	}

	return &toolCallMatch{
		service: service,
		method:  method,
		args:    code[argsStart:argsEnd],
		end:     end,
	}
}

func scanIdent(code string, pos int) (string, int, bool) {
	start := pos
	if pos >= len(code) || !isIdentStart(code[pos]) {
		return "", pos, false
	}
	pos++
	for pos < len(code) && isIdentPart(code[pos]) {
		pos++
	}
	return code[start:pos], pos, true
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func skipSpace(code string, pos int) int {
	for pos < len(code) && (code[pos] == ' ' || code[pos] == '\t' || code[pos] == '\n' || code[pos] == '\r') {
		pos++
	}
	return pos
}

// scanBalancedParen starts at the index of an opening '(' and returns
// the index of its matching ')' (argsEnd) and the index just past it
// (end), tracking nesting and skipping over string literals so parens
// inside quoted arguments don't throw off the count.
func scanBalancedParen(code string, openParenPos int) (argsEnd int, end int, ok bool) {
	depth := 0
	i := openParenPos
	for i < len(code) {
		c := code[i]
		switch c {
		case '(':
			depth++
			i++
		case ')':
			depth--
			i++
			if depth == 0 {
				return i - 1, i, true
			}
		case '\'', '"', '`':
			j, skipOK := skipStringLiteral(code, i)
			if !skipOK {
				return 0, 0, false
			}
			i = j
		default:
			i++
		}
	}
	return 0, 0, false
}

// skipStringLiteral returns the index just past the closing quote of
// the string literal starting at i (where code[i] is the opening
// quote), handling backslash escapes.
func skipStringLiteral(code string, i int) (int, bool) {
	quote := code[i]
	i++
	for i < len(code) {
		switch code[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1, true
		default:
			i++
		}
	}
	return 0, false
}
