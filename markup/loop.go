package markup

import (
	"strconv"
	"strings"
)

// loopBinding is one `$VAR` or `$VAR as ROLE` entry from a Loop's binding list.
type loopBinding struct {
	name string
	role string // "", "index", "value", "isFirst", "isLast", or "field" (object iteration)
}

// loopGrammar is the parsed form of a Loop node's each="" attribute:
// "BINDINGS of {EXPR} marked by MARKER".
type loopGrammar struct {
	bindings       []loopBinding
	collectionExpr string
	markerKeyword  string // "index" or "field", when MARKER was a bare keyword
	markerExpr     string // raw expression text, when MARKER was "{EXPR}"
}

// parseLoopGrammar parses "BINDINGS of {EXPR} marked by MARKER". The "of {…}" part ends at the
// '}' that balances its opening '{'; every brace counts, including braces inside string
// literals, and the first-that-compiles rule is not applied to this clause.
func parseLoopGrammar(each string) (*loopGrammar, error) {
	each = strings.TrimSpace(each)
	ofIdx := strings.Index(each, " of ")
	if ofIdx == -1 {
		return nil, &SyntaxShapeError{Attr: "each", Msg: "missing ' of ' clause"}
	}
	bindingsPart := each[:ofIdx]
	rest := strings.TrimSpace(each[ofIdx+4:])

	if !strings.HasPrefix(rest, "{") {
		return nil, &SyntaxShapeError{Attr: "each", Msg: "expected '{' after 'of'"}
	}
	depth := 0
	end := -1
	for i, r := range rest {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end != -1 {
			break
		}
	}
	if end == -1 {
		return nil, &SyntaxShapeError{Attr: "each", Msg: "unterminated '{' in 'of' clause"}
	}
	collExpr := rest[1:end]
	tail := strings.TrimSpace(rest[end+1:])

	g := &loopGrammar{collectionExpr: collExpr}

	for _, b := range strings.Split(bindingsPart, ",") {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if !strings.HasPrefix(b, "$") {
			return nil, &SyntaxShapeError{Attr: "each", Msg: "loop bindings must start with '$'"}
		}
		asIdx := strings.Index(b, " as ")
		if asIdx == -1 {
			g.bindings = append(g.bindings, loopBinding{name: strings.TrimPrefix(b, "$")})
			continue
		}
		name := strings.TrimPrefix(strings.TrimSpace(b[:asIdx]), "$")
		role := strings.TrimSpace(b[asIdx+4:])
		g.bindings = append(g.bindings, loopBinding{name: name, role: role})
	}

	markedIdx := strings.Index(tail, "marked by ")
	if markedIdx == -1 {
		return nil, &SyntaxShapeError{Attr: "each", Msg: "missing 'marked by' clause"}
	}
	marker := strings.TrimSpace(tail[markedIdx+len("marked by "):])
	switch {
	case marker == "index", marker == "field":
		g.markerKeyword = marker
	case strings.HasPrefix(marker, "{") && strings.HasSuffix(marker, "}"):
		g.markerExpr = marker[1 : len(marker)-1]
	default:
		return nil, &SyntaxShapeError{Attr: "each", Msg: "marker must be 'index', 'field', or '{EXPR}'"}
	}

	return g, nil
}

// bind applies one iteration's values into a forked scope, by role.
func (g *loopGrammar) bind(scope *Scope, idx int, key string, value any, isFirst, isLast bool) {
	for _, b := range g.bindings {
		switch b.role {
		case "index":
			_ = scope.BindValue(b.name, idx)
		case "isFirst":
			_ = scope.BindValue(b.name, isFirst)
		case "isLast":
			_ = scope.BindValue(b.name, isLast)
		case "field":
			_ = scope.BindValue(b.name, key)
		case "value", "":
			_ = scope.BindValue(b.name, value)
		}
	}
}

// computeMarker evaluates the row marker: a keyword substitution, or a compiled expression
// evaluated in a throwaway scope that already has this row's bindings applied, except that
// isFirst/isLast bindings read as false there.
func (g *loopGrammar) computeMarker(compiler *Compiler, parent *Scope, idx int, key string, value any) (any, error) {
	switch g.markerKeyword {
	case "index":
		return strconv.Itoa(idx), nil
	case "field":
		return key, nil
	}
	markerScope := parent.Spawn()
	g.bind(markerScope, idx, key, value, false, false)
	ce, err := compiler.Compile(g.markerExpr, markerScope)
	if err != nil {
		return nil, err
	}
	return ce.Eval(markerScope.Env())
}
