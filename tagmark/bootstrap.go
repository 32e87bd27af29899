package tagmark

import (
	"strings"

	"github.com/tagmark/tagmark/markup"
)

// ExtractGlobalInit validates a page's global-init structure, evaluates the init expression of
// its single permitted global-init element (which must precede any declarative root), and
// removes the element from the tree. It returns the evaluated init object, or nil when the
// page has no global-init tag, without touching the global namespace: the element has to be
// stripped from every fresh parse of the document, but the merge itself must happen exactly
// once per process (Handler guards it with a sync.Once), or a reconnect would reset global
// keys the user has since mutated.
func ExtractGlobalInit(doc *markup.Node, compiler *markup.Compiler) (map[string]any, error) {
	var found *markup.Node
	seenRoot := false
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if isGlobalInitTag(c) {
			if found != nil {
				return nil, &markup.StructuralViolation{Msg: "a page may contain at most one global-init tag"}
			}
			if seenRoot {
				return nil, &markup.StructuralViolation{Msg: "global-init must precede any declarative root"}
			}
			found = c
			continue
		}
		seenRoot = true
	}
	if found == nil {
		return nil, nil
	}

	initExpr, _ := found.AttrFold("init")
	scope := markup.NewRootScope()
	in, err := markup.CompileInterpolation(initExpr, scope, compiler)
	if err != nil {
		return nil, err
	}
	v, err := in.EvalValue(scope.Env())
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &markup.InitShapeError{Msg: "global-init must evaluate to an object"}
	}
	doc.RemoveChild(found)
	return obj, nil
}

// ApplyGlobalInit extracts the global-init object and deep-merges it into the global
// namespace immediately, for callers that parse a document once and own their own
// once-per-process discipline.
func ApplyGlobalInit(doc *markup.Node, reg *markup.Registry, compiler *markup.Compiler) error {
	init, err := ExtractGlobalInit(doc, compiler)
	if err != nil {
		return err
	}
	if init != nil {
		reg.Global().Merge(init)
	}
	return nil
}

func isGlobalInitTag(n *markup.Node) bool {
	return strings.EqualFold(n.Tag, "GlobalInit")
}
