package markup

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/net/html/atom"

	"github.com/tagmark/tagmark/vdom"
)

// Renderer walks an authored declarative tree and produces a vdom.Node tree. It always renders
// from the parsed source, never from previously rendered output, and threads a *Scope down
// through children explicitly; the registry, compiler, component definitions (Defs) and
// init-run set are the only render-pass-spanning state.
type Renderer struct {
	Registry *Registry
	Compiler *Compiler
	Defs     map[string]*Node // component templates known globally, keyed lower-case

	// Imports is the ambient table an import="" attribute draws external identifiers from:
	// "looking up one of these in a scope consults the ambient external binding by the same
	// name". This is the Go-native stand-in for whatever host-global bindings the browser
	// environment would otherwise expose (utility functions, constants); callers wire their
	// own entries in before mounting.
	Imports map[string]any

	// Logger receives non-fatal render diagnostics, such as tolerated text-interpolation
	// errors. Nil means silent.
	Logger *slog.Logger

	// initRun tracks which SIDs have already evaluated their init expression. It lives for
	// the renderer's lifetime (one renderer per session), not per pass: init never re-runs
	// for the same SID.
	initRun map[SID]bool
}

func NewRenderer(reg *Registry) *Renderer {
	return &Renderer{
		Registry: reg,
		Compiler: NewCompiler(),
		Defs:     make(map[string]*Node),
		Imports:  make(map[string]any),
		initRun:  make(map[SID]bool),
	}
}

// HandlerBinding pairs an event handler's effect body with the scope it was rendered under, so
// dispatch can resolve the handle aliases (component self-handles, loop variables, Form) that
// were visible where the author wrote the expression.
type HandlerBinding struct {
	Body  string
	Scope *Scope
}

// RenderInfo collects the per-pass side channels a transport session consumes: the flattened
// event-handler table for O(1) dispatch of inbound {sid, attr, event} envelopes, the <Url>
// annotations encountered, and the SIDs whose elements asked for clear-on-unmount.
type RenderInfo struct {
	Handlers       map[string]map[string]HandlerBinding // sid -> attr -> binding
	URLAnnotations []URLAnnotation
	ClearOnUnmount map[string]bool
}

// renderCtx carries the per-render-pass pieces that don't belong on Scope.
type renderCtx struct {
	info *RenderInfo
}

// Render renders root's children against scope, returning a single fragment vdom.Node.
func (r *Renderer) Render(root *Node, scope *Scope, parentSID SID, ctx *renderCtx) (*vdom.Node, error) {
	if ctx == nil {
		ctx = &renderCtx{}
	}
	children, err := r.renderChildren(root, scope, parentSID, ctx)
	if err != nil {
		return nil, err
	}
	return vdom.FragmentNode(string(parentSID), children...), nil
}

// RenderSession is the entry point a transport session uses each pass.
func (r *Renderer) RenderSession(root *Node, scope *Scope) (*vdom.Node, *RenderInfo, error) {
	info := &RenderInfo{
		Handlers:       make(map[string]map[string]HandlerBinding),
		ClearOnUnmount: make(map[string]bool),
	}
	tree, err := r.Render(root, scope, "root", &renderCtx{info: info})
	if err != nil {
		return nil, nil, err
	}
	return tree, info, nil
}

func (r *Renderer) renderChildren(parent *Node, scope *Scope, parentSID SID, ctx *renderCtx) ([]*vdom.Node, error) {
	var out []*vdom.Node
	for c := parent.FirstChild; c != nil; {
		// A When/Else chain is consumed as one unit starting at the When node; Else nodes
		// are skipped when reached directly since they only render as part of the chain.
		if c.Type == ElseNode {
			c = c.NextSibling
			continue
		}
		nodes, next, err := r.renderNode(c, scope, parentSID, ctx)
		if err != nil {
			return nil, newNodeError(c, err)
		}
		out = append(out, nodes...)
		c = next
	}
	return out, nil
}

// renderNode renders one source node (which may consume following siblings, for a When/Else
// chain) and returns the vdom nodes it produced plus the next sibling to continue from.
func (r *Renderer) renderNode(n *Node, scope *Scope, parentSID SID, ctx *renderCtx) ([]*vdom.Node, *Node, error) {
	switch n.Type {
	case TextNode:
		return r.renderText(n, scope, parentSID)
	case CommentNode:
		return nil, n.NextSibling, nil
	case WhenNode:
		return r.renderConditionalChain(n, scope, parentSID, ctx)
	case LoopNode:
		nodes, err := r.renderLoop(n, scope, parentSID, ctx)
		return nodes, n.NextSibling, err
	case DefNode:
		if err := scope.BindDef(n.DefName, n); err != nil {
			return nil, nil, err
		}
		r.Defs[strings.ToLower(n.DefName)] = n
		return nil, n.NextSibling, nil
	case SlotNode:
		nodes, err := r.renderSlot(n, scope, parentSID, ctx)
		return nodes, n.NextSibling, err
	case URLNode:
		nodes, err := r.renderURLAnnotation(n, scope, parentSID, ctx)
		return nodes, n.NextSibling, err
	case ElementNode:
		nodes, err := r.renderElement(n, scope, parentSID, ctx)
		return nodes, n.NextSibling, err
	default:
		return nil, n.NextSibling, nil
	}
}

func (r *Renderer) renderText(n *Node, scope *Scope, parentSID SID) ([]*vdom.Node, *Node, error) {
	sid := ComputeSID(parentSID, SourceSegment("#text", n.SourceIndex), "")
	in, err := CompileInterpolation(n.Data, scope, r.Compiler)
	if err != nil {
		return nil, nil, err
	}
	text, err := in.Eval(scope.Env())
	if err != nil {
		// Text-interpolation errors are tolerated locally: render a bracketed marker and
		// report, rather than failing the enclosing component.
		if r.Logger != nil {
			r.Logger.Warn("text interpolation failed", "text", n.Data, "error", err)
		}
		text = fmt.Sprintf("[Error: %s]", err.Error())
	}
	return []*vdom.Node{vdom.TextNode(string(sid), text)}, n.NextSibling, nil
}

// evalTest evaluates a test=""-style attribute value (an interpolation whose lone expression
// decides the branch) to a boolean.
func (r *Renderer) evalTest(text string, scope *Scope) (bool, error) {
	in, err := CompileInterpolation(text, scope, r.Compiler)
	if err != nil {
		return false, err
	}
	v, err := in.EvalValue(scope.Env())
	if err != nil {
		return false, err
	}
	return isTruthy(v), nil
}

// renderConditionalChain evaluates a <When>/<Else> chain starting at n, rendering the first
// branch whose test is truthy (or the first test-less <Else>), and returns the sibling
// following the whole chain. Each branch's SID segment comes from its fixed position in the
// source chain, so a different branch matching cannot move a neighbor's SID.
func (r *Renderer) renderConditionalChain(n *Node, scope *Scope, parentSID SID, ctx *renderCtx) ([]*vdom.Node, *Node, error) {
	branch := n
	idx := 0
	var end *Node
	for branch != nil && (branch.Type == WhenNode || branch.Type == ElseNode) {
		end = branch.NextSibling
		matched := true
		if branch.Cond != "" {
			var err error
			matched, err = r.evalTest(branch.Cond, scope)
			if err != nil {
				return nil, nil, err
			}
		}
		if matched {
			sid := ComputeSID(parentSID, SourceSegment("branch", idx), "")
			child := scope.Spawn()
			nodes, err := r.renderChildren(branch, child, sid, ctx)
			if err != nil {
				return nil, nil, err
			}
			return nodes, end, nil
		}
		idx++
		branch = branch.NextSibling
		if branch == nil || branch.Type != ElseNode {
			break
		}
	}
	return nil, end, nil
}

func isTruthy(v any) bool {
	switch vv := v.(type) {
	case nil:
		return false
	case bool:
		return vv
	case string:
		return vv != "" && vv != "false"
	case float64:
		return vv != 0
	case int:
		return vv != 0
	case int64:
		return vv != 0
	case []any:
		return len(vv) > 0
	case map[string]any:
		return len(vv) > 0
	case HandleProxy:
		return isTruthy(vv.Value())
	default:
		return true
	}
}

// renderLoop expands a <Loop each="BINDINGS of {EXPR} marked by MARKER"> into a fragment, one
// forked scope per row.
func (r *Renderer) renderLoop(n *Node, scope *Scope, parentSID SID, ctx *renderCtx) ([]*vdom.Node, error) {
	grammar, err := parseLoopGrammar(n.Each)
	if err != nil {
		return nil, err
	}
	ce, err := r.Compiler.Compile(grammar.collectionExpr, scope)
	if err != nil {
		return nil, err
	}
	collVal, err := ce.Eval(scope.Env())
	if err != nil {
		return nil, err
	}
	if hp, ok := collVal.(HandleProxy); ok {
		collVal = hp.Value()
	}

	var out []*vdom.Node
	markers := make(map[string]bool)

	emit := func(idx int, key string, value any, isFirst, isLast bool) error {
		marker, err := grammar.computeMarker(r.Compiler, scope, idx, key, value)
		if err != nil {
			return err
		}
		markerStr := stringify(marker)
		if markers[markerStr] {
			return &DuplicateMarkerError{Marker: markerStr}
		}
		markers[markerStr] = true

		child := scope.Spawn()
		grammar.bind(child, idx, key, value, isFirst, isLast)
		sid := ComputeSID(parentSID, nodeSegment(n), markerStr)
		nodes, err := r.renderChildren(n, child, sid, ctx)
		if err != nil {
			return err
		}
		out = append(out, nodes...)
		return nil
	}

	switch coll := collVal.(type) {
	case []any:
		if grammar.markerKeyword == "field" {
			return nil, &SyntaxShapeError{Attr: "each", Msg: "'marked by field' requires an object collection"}
		}
		for i, v := range coll {
			if err := emit(i, "", v, i == 0, i == len(coll)-1); err != nil {
				return nil, err
			}
		}
	case map[string]any:
		if grammar.markerKeyword == "index" {
			return nil, &SyntaxShapeError{Attr: "each", Msg: "'marked by index' requires an array collection"}
		}
		// Go maps have no insertion order to honor; keys are sorted so row order, markers,
		// and SIDs are deterministic across renders.
		keys := make([]string, 0, len(coll))
		for k := range coll {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			if err := emit(i, k, coll[k], i == 0, i == len(keys)-1); err != nil {
				return nil, err
			}
		}
	}
	if len(out) == 0 && n.NextSibling != nil && n.NextSibling.Type == ElseNode {
		child := scope.Spawn()
		return r.renderChildren(n.NextSibling, child, parentSID, ctx)
	}
	return out, nil
}

// renderSlot renders a component template's slot placeholder: the caller-supplied content for
// this slot name if present in scope, else the template's own fallback children. The content
// is wrapped in a neutral fragment keyed by the slot's SID.
func (r *Renderer) renderSlot(n *Node, scope *Scope, parentSID SID, ctx *renderCtx) ([]*vdom.Node, error) {
	slotName := strings.ToLower(n.DefName)
	// A slot named after its own enclosing component ("<Card:Slot/>" inside Card:Template)
	// is the default slot, fed by the use-site's unclassified children.
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == DefNode && strings.EqualFold(p.DefName, n.DefName) {
			slotName = "default"
			break
		}
	}
	if slotName == "" {
		slotName = "default"
	}
	sid := ComputeSID(parentSID, nodeSegment(n), "")
	if content, ok := scope.ResolveValue("slot:" + slotName); ok {
		if nodes, ok := content.([]*vdom.Node); ok && len(nodes) > 0 {
			return []*vdom.Node{vdom.FragmentNode(string(sid), nodes...)}, nil
		}
	}
	return r.renderChildren(n, scope.Spawn(), sid, ctx)
}

// renderURLAnnotation evaluates an <Url> tag's included/transient key lists and records them
// on ctx for the synchronizer, emitting a neutral container carrying the lists as data
// attributes.
func (r *Renderer) renderURLAnnotation(n *Node, scope *Scope, parentSID SID, ctx *renderCtx) ([]*vdom.Node, error) {
	var included, transient []string
	if v, ok := n.AttrFold("included"); ok {
		included = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}
	if v, ok := n.AttrFold("transient"); ok {
		transient = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}
	if ctx.info != nil {
		ctx.info.URLAnnotations = append(ctx.info.URLAnnotations, URLAnnotation{Included: included, Transient: transient})
	}
	sid := ComputeSID(parentSID, nodeSegment(n), "")
	props := map[string]any{
		"data-url-included":  strings.Join(included, ","),
		"data-url-transient": strings.Join(transient, ","),
	}
	kids, err := r.renderChildren(n, scope.Spawn(), sid, ctx)
	if err != nil {
		return nil, err
	}
	return []*vdom.Node{vdom.Elem(string(sid), "span", props, kids...)}, nil
}

// booleanAttrs lists the designated boolean attributes that omit on any falsy variant and
// render as a bare truthy marker otherwise.
var booleanAttrs = map[string]bool{
	"disabled": true, "checked": true, "readonly": true, "required": true,
	"selected": true, "multiple": true, "hidden": true, "autofocus": true, "open": true,
}

// looksLikeComponentTag reports whether an unrecognized tag should be treated as a component
// use-site rather than a plain element: not a standard HTML element (atom.Lookup misses), not a
// custom element (dash convention), not the declarative root container.
func looksLikeComponentTag(tag string) bool {
	lower := strings.ToLower(tag)
	if lower == "root" || strings.ContainsAny(lower, "-:") {
		return false
	}
	return atom.Lookup([]byte(lower)) == 0
}

// renderElement renders a plain element, or - if its tag matches a known component template -
// expands it as a use-site.
func (r *Renderer) renderElement(n *Node, scope *Scope, parentSID SID, ctx *renderCtx) ([]*vdom.Node, error) {
	if def, ok := r.resolveDef(scope, n.Tag); ok {
		return r.renderUseSite(n, def, scope, parentSID, ctx)
	}
	if looksLikeComponentTag(n.Tag) {
		return nil, &TemplateNotFoundError{Name: n.Tag}
	}

	sid := ComputeSID(parentSID, nodeSegment(n), "")

	isForm := strings.EqualFold(n.Tag, "form")
	_, hasBind := n.AttrFold("bind")
	_, hasInit := n.AttrFold("init")
	if isForm && hasBind && hasInit {
		return nil, &InitShapeError{Msg: "init is not allowed on a bound form"}
	}

	child := scope
	if err := r.applyReservedAttrs(n, scope, &child, sid, ctx); err != nil {
		return nil, err
	}

	if n.Cond != "" {
		matched, err := r.evalTest(n.Cond, child)
		if err != nil {
			return nil, err
		}
		if !matched {
			return nil, nil
		}
	}

	if _, clear := n.AttrFold("clear-on-unmount"); clear && ctx.info != nil {
		ctx.info.ClearOnUnmount[string(sid)] = true
	}

	if isForm {
		formHandle, err := r.resolveFormHandle(n, scope, sid)
		if err != nil {
			return nil, err
		}
		_ = child.BindHandle("Form", formHandle)
	}

	props := make(map[string]any)
	handlers := make(map[string]string)
	r.wireFormField(n, child, props, handlers)

	for _, a := range n.Attr {
		if isReservedAttr(a.Key) || strings.EqualFold(a.Key, "bind") {
			continue
		}
		lowerKey := strings.ToLower(a.Key)
		if strings.HasPrefix(lowerKey, "on") && strings.HasPrefix(strings.TrimSpace(a.Val), "@{") {
			if _, already := handlers[lowerKey]; !already {
				handlers[lowerKey] = a.Val
			}
			continue
		}
		if _, bound := props[lowerKey]; bound {
			continue
		}
		v, emitted, err := r.evalAttr(lowerKey, a.Val, child)
		if err != nil {
			return nil, err
		}
		if emitted {
			props[lowerKey] = v
		}
	}

	if isForm {
		// The server emits no client script and does not intercept submission itself; the sid
		// identifies the form to a connected client that routes a submit event over the socket.
		props["data-form-sid"] = string(sid)
	}

	if len(handlers) > 0 && ctx.info != nil {
		bindings := make(map[string]HandlerBinding, len(handlers))
		for attr, body := range handlers {
			bindings[attr] = HandlerBinding{Body: body, Scope: child}
		}
		ctx.info.Handlers[string(sid)] = bindings
	}

	kids, err := r.renderChildren(n, child, sid, ctx)
	if err != nil {
		return nil, err
	}
	out := vdom.Elem(string(sid), n.Tag, props, kids...)
	out.Handlers = handlers
	return []*vdom.Node{out}, nil
}

// evalAttr evaluates a non-special attribute value, applying the omission rules: a whole-value
// expression evaluating to nil is omitted; a designated boolean attribute omits on any falsy
// variant and emits a truthy marker otherwise; partial interpolations always emit as text.
func (r *Renderer) evalAttr(key, raw string, scope *Scope) (any, bool, error) {
	in, err := CompileInterpolation(raw, scope, r.Compiler)
	if err != nil {
		return nil, false, err
	}
	env := scope.Env()
	if booleanAttrs[key] {
		v, err := in.EvalValue(env)
		if err != nil {
			return nil, false, err
		}
		if !isTruthy(v) {
			return nil, false, nil
		}
		return true, true, nil
	}
	if in.IsSingleExpr() {
		v, err := in.EvalValue(env)
		if err != nil {
			return nil, false, err
		}
		if v == nil {
			return nil, false, nil
		}
		return coerceAttrValue(v), true, nil
	}
	s, err := in.Eval(env)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// coerceAttrValue picks a value's wire form for the patch boundary by its inferred shape:
// arrays and objects cross as JSON text (an attribute cannot carry a structured value),
// scalars pass through as themselves.
func coerceAttrValue(v any) any {
	switch ShapeFrom(v).Kind {
	case ShapeArray, ShapeObject:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return v
	}
}

// applyReservedAttrs processes an element's reserved attributes in the fixed order - import,
// init, def - into a forked child scope (test is checked by the caller once this returns;
// each/params/bind/marker/clear-on-unmount are handled by their own specialized call sites).
func (r *Renderer) applyReservedAttrs(n *Node, parent *Scope, child **Scope, sid SID, ctx *renderCtx) error {
	*child = parent.Spawn()

	if importAttr, ok := n.AttrFold("import"); ok {
		for _, name := range strings.Split(importAttr, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if v, ok := r.Imports[name]; ok {
				(*child).BindImport(name, v)
			}
		}
	}

	if initExpr, ok := n.AttrFold("init"); ok {
		init, err := r.evalInitOnce(initExpr, parent, sid)
		if err != nil {
			return err
		}
		store := r.Registry.StoreFor(string(sid), init)
		if err := (*child).BindHandle("local", RootHandle(store, true)); err != nil {
			return err
		}
	}

	if defAttr, ok := n.AttrFold("def"); ok {
		if err := r.applyDefAttr(defAttr, parent, *child, sid); err != nil {
			return err
		}
	}
	return nil
}

// evalInitOnce evaluates an init expression exactly once per SID, returning the initializer
// object for the SID's local namespace (nil when init already ran, which leaves an existing
// store untouched).
func (r *Renderer) evalInitOnce(initExpr string, scope *Scope, sid SID) (map[string]any, error) {
	if r.initRun[sid] {
		return nil, nil
	}
	r.initRun[sid] = true
	in, err := CompileInterpolation(initExpr, scope, r.Compiler)
	if err != nil {
		return nil, err
	}
	v, err := in.EvalValue(scope.Env())
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &InitShapeError{Msg: "init must evaluate to an object"}
	}
	return obj, nil
}

// resolveFormHandle picks a form's state handle: a caller-provided bind target, or the form's
// own local namespace keyed by its SID.
func (r *Renderer) resolveFormHandle(n *Node, scope *Scope, sid SID) (Handle, error) {
	if bindAttr, ok := n.AttrFold("bind"); ok {
		return resolveHandleExpr(scope, strings.TrimPrefix(strings.TrimSpace(bindAttr), "@"))
	}
	store := r.Registry.StoreFor(string(sid), nil)
	return RootHandle(store, true), nil
}

// wireFormField implements the auto-binding table for input/select/textarea elements that carry
// their own bind attribute or sit inside any form (bound or not): it resolves the field's handle (explicit bind attribute, or Form.name), computes
// the type-specific read-side prop and registers a built-in write-side handler, short-circuiting
// the generic attribute loop in renderElement for the attributes it takes over.
func (r *Renderer) wireFormField(n *Node, scope *Scope, props map[string]any, handlers map[string]string) {
	tag := strings.ToLower(n.Tag)
	if tag != "input" && tag != "select" && tag != "textarea" {
		return
	}

	var fieldHandle Handle
	haveField := false
	if bindAttr, ok := n.AttrFold("bind"); ok {
		if h, err := resolveHandleExpr(scope, strings.TrimPrefix(strings.TrimSpace(bindAttr), "@")); err == nil {
			fieldHandle, haveField = h, true
		}
	} else if name, ok := n.AttrFold("name"); ok && name != "" {
		if form, ok := scope.ResolveHandle("Form"); ok {
			fieldHandle, haveField = BindField(form, name), true
		}
	}
	if !haveField {
		return
	}

	kind := classifyInputKind(n)
	switch kind {
	case InputCheckbox:
		if isTruthy(fieldHandle.Value()) {
			props["checked"] = true
		}
		handlers["onchange"] = EncodeFieldHandler(fieldHandle, kind)
	case InputRadio:
		radioVal, _ := n.AttrFold("value")
		if fmt.Sprint(fieldHandle.Value()) == radioVal {
			props["checked"] = true
		}
		handlers["onchange"] = EncodeFieldHandler(fieldHandle, kind)
	case InputFile:
		handlers["onchange"] = EncodeFieldHandler(fieldHandle, kind)
	case InputSelectMultiple:
		handlers["onchange"] = EncodeFieldHandler(fieldHandle, kind)
	default:
		if v := fieldHandle.Value(); v != nil {
			props["value"] = coerceAttrValue(v)
		}
		handlers["oninput"] = EncodeFieldHandler(fieldHandle, kind)
	}
}

// classifyInputKind maps an input/select/textarea element to its type-specific semantics.
func classifyInputKind(n *Node) InputKind {
	switch strings.ToLower(n.Tag) {
	case "select":
		if _, multiple := n.AttrFold("multiple"); multiple {
			return InputSelectMultiple
		}
		return InputSelectSingle
	case "textarea":
		return InputText
	}
	typ, _ := n.AttrFold("type")
	switch strings.ToLower(typ) {
	case "checkbox":
		return InputCheckbox
	case "radio":
		return InputRadio
	case "number", "range":
		return InputNumber
	case "file":
		return InputFile
	default:
		return InputText
	}
}

// collectSlotNames gathers the lower-cased slot names a component template declares, by
// walking its tree for SlotNode tags ("Name:Slot").
func collectSlotNames(def *Node) map[string]bool {
	names := make(map[string]bool)
	var walk func(*Node)
	walk = func(n *Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == SlotNode && !strings.EqualFold(c.DefName, def.DefName) {
				names[strings.ToLower(c.DefName)] = true
			}
			walk(c)
		}
	}
	walk(def)
	return names
}

func (r *Renderer) resolveDef(scope *Scope, tag string) (*Node, bool) {
	if def, ok := scope.ResolveDef(tag); ok {
		return def, true
	}
	def, ok := r.Defs[strings.ToLower(tag)]
	return def, ok
}

// declaredParams parses a template's params="" attribute into the set of lower-cased declared
// parameter names (sigils stripped).
func declaredParams(def *Node) map[string]bool {
	out := make(map[string]bool)
	raw, ok := def.AttrFold("params")
	if !ok {
		return out
	}
	for _, p := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		p = strings.TrimLeft(strings.TrimSpace(p), "$@")
		if p != "" {
			out[strings.ToLower(p)] = true
		}
	}
	return out
}

// renderUseSite expands a component use-site: binds parameters (handle params prefixed `@`,
// value params otherwise), classifies children into named slots vs. the default slot, and
// renders the template's children in a fresh scope. The fresh scope contains only the implicit
// self-handle, the global and url handles, and the bound parameters: a component does not
// lexically close over its call site.
func (r *Renderer) renderUseSite(n *Node, def *Node, scope *Scope, parentSID SID, ctx *renderCtx) ([]*vdom.Node, error) {
	sid := ComputeSID(parentSID, nodeSegment(n), "")
	tscope := NewRootScope()
	if g, ok := scope.ResolveHandle("global"); ok {
		_ = tscope.BindHandle("global", g)
	}
	if u, ok := scope.ResolveHandle("url"); ok {
		_ = tscope.BindHandle("url", u)
	}

	tmplInit, hasTmplInit := def.AttrFold("init")
	useInit, hasUseInit := n.AttrFold("init")
	if hasTmplInit && hasUseInit {
		return nil, &InitShapeError{Msg: "init declared on both the component template and its use-site"}
	}

	params := declaredParams(def)
	passthrough := make(map[string]any)
	var valueParams []Attribute
	for _, a := range n.Attr {
		if isReservedAttr(a.Key) {
			continue
		}
		if strings.HasPrefix(a.Key, "@") {
			h, err := resolveHandleExpr(scope, strings.TrimPrefix(strings.TrimSpace(a.Val), "@"))
			if err != nil {
				return nil, err
			}
			if err := tscope.BindHandle(strings.TrimPrefix(a.Key, "@"), h); err != nil {
				return nil, err
			}
			continue
		}
		if len(params) > 0 && !params[strings.ToLower(a.Key)] {
			v, emitted, err := r.evalAttr(strings.ToLower(a.Key), a.Val, scope)
			if err != nil {
				return nil, err
			}
			if emitted {
				passthrough[strings.ToLower(a.Key)] = v
			}
			continue
		}
		valueParams = append(valueParams, a)
	}
	for _, a := range valueParams {
		in, err := CompileInterpolation(a.Val, scope, r.Compiler)
		if err != nil {
			return nil, err
		}
		var v any
		if in.IsSingleExpr() {
			if v, err = in.EvalValue(scope.Env()); err != nil {
				return nil, err
			}
		} else {
			v = a.Val
		}
		if err := tscope.BindValue(a.Key, v); err != nil {
			return nil, err
		}
	}

	// The use-site init runs in the caller's scope; a template init runs in the component's
	// own scope so it can read the bound parameters. Either way it runs once per SID.
	var init map[string]any
	var err error
	if hasUseInit {
		init, err = r.evalInitOnce(useInit, scope, sid)
	} else if hasTmplInit {
		init, err = r.evalInitOnce(tmplInit, tscope, sid)
	}
	if err != nil {
		return nil, err
	}
	store := r.Registry.StoreFor(string(sid), init)
	if err := tscope.BindHandle(def.DefName, RootHandle(store, true)); err != nil {
		return nil, err
	}

	slotNames := collectSlotNames(def)
	var defaultSlot []*vdom.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		key := strings.ToLower(c.Tag)
		if c.Type == ElementNode && slotNames[key] {
			nodes, err := r.renderChildren(c, scope.Spawn(), sid, ctx)
			if err != nil {
				return nil, err
			}
			_ = tscope.BindValue("slot:"+key, nodes)
			continue
		}
		nodes, _, err := r.renderNode(c, scope, sid, ctx)
		if err != nil {
			return nil, err
		}
		defaultSlot = append(defaultSlot, nodes...)
	}
	if len(defaultSlot) > 0 {
		_ = tscope.BindValue("slot:default", defaultSlot)
	}

	out, err := r.renderChildren(def, tscope, sid, ctx)
	if err != nil {
		return nil, err
	}
	if len(passthrough) > 0 {
		for _, node := range out {
			if node.Type == vdom.Element {
				if node.Props == nil {
					node.Props = make(map[string]any)
				}
				for k, v := range passthrough {
					if _, taken := node.Props[k]; !taken {
						node.Props[k] = v
					}
				}
				break
			}
		}
	}
	return out, nil
}
