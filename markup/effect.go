package markup

import (
	"fmt"
	"strings"
)

// EffectStatement is one `;`-separated unit of an effect-mode body (an event handler body
// evaluated for its side effects). A statement with a Target is an assignment;
// otherwise it runs purely for effect (e.g. a bare function call).
type EffectStatement struct {
	Target *AssignTarget
	Expr   *CompiledExpr
}

// AssignTarget names the handle and field path an assignment statement writes to.
type AssignTarget struct {
	Root string
	Path []string
}

// CompileEffectBody splits body on top-level semicolons, and for each resulting statement,
// detects a top-level `=` to split it further into an assignment target and a value
// expression. Detection is depth-aware so `a = b == c` assigns once, `a.items[i == j]` doesn't
// misfire on the `==` inside the index, and string contents are never scanned.
func CompileEffectBody(body string, scope *Scope, compiler *Compiler) ([]EffectStatement, error) {
	body = stripEffectWrapper(body)
	var stmts []EffectStatement
	for _, raw := range splitTopLevel(body, ';') {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		lhs, rhs, isAssign := splitTopLevelAssign(text)
		if !isAssign {
			ce, err := compiler.Compile(text, scope)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, EffectStatement{Expr: ce})
			continue
		}
		target, err := parseAssignTarget(lhs)
		if err != nil {
			return nil, err
		}
		ce, err := compiler.Compile(rhs, scope)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, EffectStatement{Target: target, Expr: ce})
	}
	return stmts, nil
}

// stripEffectWrapper removes the `@{ ... }` effect-form delimiters an event-handler attribute
// value carries; a body already unwrapped passes through unchanged.
func stripEffectWrapper(body string) string {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "@{") && strings.HasSuffix(trimmed, "}") {
		return strings.TrimSpace(trimmed[2 : len(trimmed)-1])
	}
	return trimmed
}

// Run evaluates stmts in order against scope, applying any assignment to the named handle. The
// handle is switched to effect mode before the write: handlers run inside an effect body even
// when the alias was bound pure for rendering, which is the entire point of the two-mode split.
func Run(stmts []EffectStatement, scope *Scope) error {
	for _, st := range stmts {
		env := scope.Env()
		v, err := st.Expr.Eval(env)
		if err != nil {
			return err
		}
		if hp, ok := v.(HandleProxy); ok {
			v = hp.Value()
		}
		if st.Target == nil {
			continue
		}
		h, ok := scope.ResolveHandle(st.Target.Root)
		if !ok {
			return fmt.Errorf("assignment to unbound handle %q", st.Target.Root)
		}
		h = h.WithMode(false)
		for _, seg := range st.Target.Path {
			h = h.Child(seg)
		}
		if err := h.Set(v); err != nil {
			return err
		}
	}
	return nil
}

// parseAssignTarget parses `ident`, `ident.field`, or `ident.field[0].sub` into a root name and
// a flat field path, treating bracketed indices as ordinary path segments the same way
// Handle.Index does.
func parseAssignTarget(s string) (*AssignTarget, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "@")
	if s == "" || !isIdentStart(rune(s[0])) {
		return nil, &SyntaxShapeError{Attr: "assignment", Msg: fmt.Sprintf("invalid assignment target %q", s)}
	}
	i := 0
	for i < len(s) && isIdentPart(rune(s[i])) {
		i++
	}
	root := s[:i]
	var path []string
	for i < len(s) {
		switch s[i] {
		case '.':
			i++
			start := i
			for i < len(s) && isIdentPart(rune(s[i])) {
				i++
			}
			if i == start {
				return nil, &SyntaxShapeError{Attr: "assignment", Msg: "expected field name after '.'"}
			}
			path = append(path, s[start:i])
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end == -1 {
				return nil, &SyntaxShapeError{Attr: "assignment", Msg: "unterminated '['"}
			}
			path = append(path, strings.TrimSpace(s[i+1:i+end]))
			i = i + end + 1
		default:
			return nil, &SyntaxShapeError{Attr: "assignment", Msg: fmt.Sprintf("unexpected character %q in assignment target", s[i])}
		}
	}
	return &AssignTarget{Root: root, Path: path}, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

// splitTopLevel splits s on sep, ignoring occurrences inside string literals or nested
// brackets/parens/braces.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	inString := false
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' && i+1 < len(s) {
				i++
				continue
			}
			if c == quote {
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			inString = true
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		default:
			if c == sep && depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// splitTopLevelAssign finds a top-level single `=` (not `==`, `!=`, `<=`, `>=`) and splits s
// into (lhs, rhs, true); returns ("", s, false) if none is found.
func splitTopLevelAssign(s string) (lhs, rhs string, ok bool) {
	depth := 0
	inString := false
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' && i+1 < len(s) {
				i++
				continue
			}
			if c == quote {
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			inString = true
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			prev := byte(0)
			if i > 0 {
				prev = s[i-1]
			}
			next := byte(0)
			if i+1 < len(s) {
				next = s[i+1]
			}
			if prev == '=' || prev == '!' || prev == '<' || prev == '>' || next == '=' {
				continue
			}
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
		}
	}
	return "", s, false
}
