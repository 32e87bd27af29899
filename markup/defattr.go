package markup

import "strings"

// defDeclKind distinguishes the three declaration forms the def="" grammar allows.
type defDeclKind int

const (
	defValue defDeclKind = iota
	defHandleAlias
	defLocal
)

// defDecl is one parsed declaration from a def="" attribute.
type defDecl struct {
	kind defDeclKind
	name string
	expr string // defValue: the braced expression body; defHandleAlias: the "@Handle.path" text
}

// parseDefAttr splits a def="" attribute on top-level commas (depth-aware, the same scanner
// effect.go's statement splitter uses, since a `$NAME := {EXPR}` right-hand side may itself
// contain commas inside an object/array literal) and parses each declaration.
func parseDefAttr(s string) ([]defDecl, error) {
	var out []defDecl
	for _, raw := range splitTopLevel(s, ',') {
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		d, err := parseOneDefDecl(text)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func parseOneDefDecl(text string) (defDecl, error) {
	if strings.HasPrefix(text, "@") {
		if idx := findTopLevelAsLocal(text); idx != -1 {
			name := strings.TrimSpace(text[1:idx])
			if name == "" {
				return defDecl{}, &SyntaxShapeError{Attr: "def", Msg: "missing name before 'as local' in def declaration"}
			}
			return defDecl{kind: defLocal, name: name}, nil
		}
	}

	lhs, rhs, ok := splitTopLevelColonEquals(text)
	if !ok {
		return defDecl{}, &SyntaxShapeError{Attr: "def", Msg: "malformed def declaration: " + text}
	}
	lhs = strings.TrimSpace(lhs)
	rhs = strings.TrimSpace(rhs)

	switch {
	case strings.HasPrefix(lhs, "$"):
		name := strings.TrimSpace(lhs[1:])
		body, ok := stripBraces(rhs)
		if !ok {
			return defDecl{}, &SyntaxShapeError{Attr: "def", Msg: "expected {EXPR} on right-hand side of $" + name + " := ..."}
		}
		return defDecl{kind: defValue, name: name, expr: body}, nil
	case strings.HasPrefix(lhs, "@"):
		name := strings.TrimSpace(lhs[1:])
		if !strings.HasPrefix(rhs, "@") {
			return defDecl{}, &SyntaxShapeError{Attr: "def", Msg: "expected @HANDLE.path on right-hand side of @" + name + " := ..."}
		}
		return defDecl{kind: defHandleAlias, name: name, expr: strings.TrimPrefix(rhs, "@")}, nil
	default:
		return defDecl{}, &SyntaxShapeError{Attr: "def", Msg: "def declaration must start with '$' or '@': " + text}
	}
}

// findTopLevelAsLocal returns the index of a top-level " as local" suffix (the whole remainder
// of text, trimmed, must equal "local"), or -1 if text is not that declaration form.
func findTopLevelAsLocal(text string) int {
	const sep = " as "
	idx := strings.Index(text, sep)
	if idx == -1 {
		return -1
	}
	if strings.TrimSpace(text[idx+len(sep):]) != "local" {
		return -1
	}
	return idx
}

// splitTopLevelColonEquals finds a top-level ":=" and splits text into (lhs, rhs, true);
// returns ("", text, false) if none is found. Depth/string-aware like splitTopLevelAssign.
func splitTopLevelColonEquals(s string) (lhs, rhs string, ok bool) {
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
		case ':':
			if depth == 0 && i+1 < len(s) && s[i+1] == '=' {
				return s[:i], s[i+2:], true
			}
		}
	}
	return "", s, false
}

// stripBraces returns the text between a leading '{' and its matching trailing '}', requiring
// the braces to wrap the entire (trimmed) string.
func stripBraces(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return "", false
	}
	return strings.TrimSpace(s[1 : len(s)-1]), true
}

// applyDefAttr parses and applies a def="" attribute's declarations to child in order: each
// declaration may reference names bound by an earlier declaration in the same list, since they
// accumulate into the same forked scope as they're processed.
func (r *Renderer) applyDefAttr(raw string, parent, child *Scope, sid SID) error {
	decls, err := parseDefAttr(raw)
	if err != nil {
		return err
	}
	for _, d := range decls {
		switch d.kind {
		case defValue:
			ce, err := r.Compiler.Compile(d.expr, child)
			if err != nil {
				return err
			}
			v, err := ce.Eval(child.Env())
			if err != nil {
				return err
			}
			if err := child.BindValue(d.name, v); err != nil {
				return err
			}
		case defHandleAlias:
			h, err := resolveHandleExpr(child, d.expr)
			if err != nil {
				return err
			}
			if err := child.BindHandle(d.name, h); err != nil {
				return err
			}
		case defLocal:
			store := r.Registry.StoreFor(string(sid), nil)
			if err := child.BindHandle(d.name, RootHandle(store, true)); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveHandleExpr resolves a dotted/bracketed "Handle.path" text (no leading '@', already
// trimmed by the caller) against scope: the first segment must name a visible handle alias, and
// the remaining segments extend it one field at a time, reusing the same dot/bracket grammar
// form.go's field-path parser uses for <input name="..."> bindings.
func resolveHandleExpr(scope *Scope, text string) (Handle, error) {
	text = strings.TrimSpace(text)
	dot := strings.IndexAny(text, ".[")
	root := text
	rest := ""
	if dot != -1 {
		root = text[:dot]
		if text[dot] == '.' {
			rest = text[dot+1:]
		} else {
			rest = text[dot:] // leading '[' stays part of the first path segment
		}
	}
	h, ok := scope.ResolveHandle(root)
	if !ok {
		return Handle{}, &SyntaxShapeError{Attr: "def", Msg: "unresolved handle alias in def declaration: " + root}
	}
	if rest == "" {
		return h, nil
	}
	for _, seg := range FieldPath(rest) {
		h = h.Child(seg)
	}
	return h, nil
}
