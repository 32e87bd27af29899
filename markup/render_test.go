package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tagmark/tagmark/vdom"
)

type renderFixture struct {
	t        *testing.T
	doc      *Node
	renderer *Renderer
	scope    *Scope
	registry *Registry
}

func newFixture(t *testing.T, src string) *renderFixture {
	t.Helper()
	doc, err := NewParser(strings.NewReader(src), "test.tagmark").Parse()
	require.NoError(t, err)
	reg := NewRegistry()
	r := NewRenderer(reg)
	scope := NewRootScope()
	require.NoError(t, scope.BindHandle("global", RootHandle(reg.Global(), true)))
	require.NoError(t, scope.BindHandle("url", RootHandle(reg.URL(), true)))
	return &renderFixture{t: t, doc: doc, renderer: r, scope: scope, registry: reg}
}

func (f *renderFixture) render() (*vdom.Node, *RenderInfo) {
	f.t.Helper()
	tree, info, err := f.renderer.RenderSession(f.doc, f.scope)
	require.NoError(f.t, err)
	return tree, info
}

// fire dispatches the first registered handler for attr the way a session would, compiling the
// effect body against the scope captured at render time.
func (f *renderFixture) fire(info *RenderInfo, attr string) {
	f.t.Helper()
	for _, byAttr := range info.Handlers {
		b, ok := byAttr[attr]
		if !ok {
			continue
		}
		if _, _, _, isField := DecodeFieldHandler(b.Body); isField {
			continue
		}
		child := b.Scope.Spawn()
		stmts, err := CompileEffectBody(b.Body, child, f.renderer.Compiler)
		require.NoError(f.t, err)
		require.NoError(f.t, Run(stmts, child))
		return
	}
	f.t.Fatalf("no %s handler found", attr)
}

func collectTexts(n *vdom.Node, out *[]string) {
	if n == nil {
		return
	}
	if n.Type == vdom.Text && strings.TrimSpace(n.Text) != "" {
		*out = append(*out, strings.TrimSpace(n.Text))
	}
	for _, c := range n.Children {
		collectTexts(c, out)
	}
}

func texts(n *vdom.Node) []string {
	var out []string
	collectTexts(n, &out)
	return out
}

func findTags(n *vdom.Node, tag string, out *[]*vdom.Node) {
	if n == nil {
		return
	}
	if n.Type == vdom.Element && strings.EqualFold(n.Tag, tag) {
		*out = append(*out, n)
	}
	for _, c := range n.Children {
		findTags(c, tag, out)
	}
}

func TestRender_ToggleComponent(t *testing.T) {
	f := newFixture(t, `
		<Counter:Template init="{ { open: false } }">
			<button onclick="@{ @Counter.open = !@Counter.open }">toggle</button>
			<When test="{@Counter.open}"><p>open</p></When>
			<Else><p>closed</p></Else>
		</Counter:Template>
		<Counter/>`)

	tree, info := f.render()
	require.Contains(t, texts(tree), "closed")

	f.fire(info, "onclick")
	tree, info = f.render()
	require.Contains(t, texts(tree), "open")
	require.NotContains(t, texts(tree), "closed")

	f.fire(info, "onclick")
	tree, _ = f.render()
	require.Contains(t, texts(tree), "closed")
}

func TestRender_ConditionalChain(t *testing.T) {
	f := newFixture(t, `
		<When test="{@Global.mode == 'a'}"><p>alpha</p></When>
		<Else test="{@Global.mode == 'b'}"><p>beta</p></Else>
		<Else><p>fallback</p></Else>`)
	require.NoError(t, f.registry.Global().Set([]string{"mode"}, ""))

	tree, _ := f.render()
	require.Equal(t, []string{"fallback"}, texts(tree))

	require.NoError(t, f.registry.Global().Set([]string{"mode"}, "a"))
	tree, _ = f.render()
	require.Equal(t, []string{"alpha"}, texts(tree))

	require.NoError(t, f.registry.Global().Set([]string{"mode"}, "b"))
	tree, _ = f.render()
	require.Equal(t, []string{"beta"}, texts(tree))
}

// TestRender_LoopStableRowIdentity exercises the keyed-iteration invariant: reordering the
// collection must keep each row's SID attached to its marker, so diffing yields a move, not a
// rebuild.
func TestRender_LoopStableRowIdentity(t *testing.T) {
	f := newFixture(t, `
		<Loop each="$u of {@Global.users} marked by {$u.id}">
			<span>{$u.name}</span>
		</Loop>`)

	users := []any{
		map[string]any{"id": 1, "name": "A"},
		map[string]any{"id": 2, "name": "B"},
	}
	require.NoError(t, f.registry.Global().Set([]string{"users"}, users))

	tree, _ := f.render()
	var spans []*vdom.Node
	findTags(tree, "span", &spans)
	require.Len(t, spans, 2)
	keyByName := map[string]string{
		texts(spans[0])[0]: spans[0].Key,
		texts(spans[1])[0]: spans[1].Key,
	}

	require.NoError(t, f.registry.Global().Set([]string{"users"}, []any{users[1], users[0]}))
	tree, _ = f.render()
	spans = nil
	findTags(tree, "span", &spans)
	require.Len(t, spans, 2)
	require.Equal(t, "B", texts(spans[0])[0], "rows must follow collection order")
	require.Equal(t, keyByName["B"], spans[0].Key, "row SID must follow its marker across reorder")
	require.Equal(t, keyByName["A"], spans[1].Key)
}

func TestRender_LoopDuplicateMarkersRejected(t *testing.T) {
	f := newFixture(t, `
		<Loop each="$u of {@Global.users} marked by {$u.id}">
			<span>{$u.name}</span>
		</Loop>`)
	require.NoError(t, f.registry.Global().Set([]string{"users"}, []any{
		map[string]any{"id": 1, "name": "A"},
		map[string]any{"id": 1, "name": "B"},
	}))

	_, _, err := f.renderer.RenderSession(f.doc, f.scope)
	require.Error(t, err)
	var dup *DuplicateMarkerError
	require.ErrorAs(t, err, &dup)
}

func TestRender_LoopElseFallbackOnEmpty(t *testing.T) {
	f := newFixture(t, `
		<Loop each="$u of {@Global.users} marked by index"><span>{$u}</span></Loop>
		<Else><p>empty</p></Else>`)

	tree, _ := f.render()
	require.Equal(t, []string{"empty"}, texts(tree))

	require.NoError(t, f.registry.Global().Set([]string{"users"}, []any{"x"}))
	tree, _ = f.render()
	require.Equal(t, []string{"x"}, texts(tree))
}

func TestRender_LoopFieldMarkerRequiresObject(t *testing.T) {
	f := newFixture(t, `<Loop each="$u of {@Global.users} marked by field"><span>{$u}</span></Loop>`)
	require.NoError(t, f.registry.Global().Set([]string{"users"}, []any{"x"}))

	_, _, err := f.renderer.RenderSession(f.doc, f.scope)
	require.Error(t, err)
	var shape *SyntaxShapeError
	require.ErrorAs(t, err, &shape)
}

func TestRender_AttributeOmissionRules(t *testing.T) {
	f := newFixture(t, `<div data-x="{@Global.missing}" title="n={@Global.count}">hi</div>`)
	require.NoError(t, f.registry.Global().Set([]string{"count"}, 2))

	tree, _ := f.render()
	var divs []*vdom.Node
	findTags(tree, "div", &divs)
	require.Len(t, divs, 1)
	require.NotContains(t, divs[0].Props, "data-x", "nil whole-value expression must omit the attribute")
	require.Equal(t, "n=2", divs[0].Props["title"], "partial interpolations always emit")
}

func TestRender_CompositeAttributeValueCrossesAsJSON(t *testing.T) {
	f := newFixture(t, `<div data-ids="{@Global.ids}">x</div>`)
	require.NoError(t, f.registry.Global().Set([]string{"ids"}, []any{1, 2}))

	tree, _ := f.render()
	var divs []*vdom.Node
	findTags(tree, "div", &divs)
	require.Equal(t, "[1,2]", divs[0].Props["data-ids"],
		"an array-valued attribute must serialize as JSON at the patch boundary")
}

func TestRender_BooleanAttributeVariants(t *testing.T) {
	f := newFixture(t, `<button disabled="{@Global.off}">go</button>`)

	tree, _ := f.render()
	var btns []*vdom.Node
	findTags(tree, "button", &btns)
	require.NotContains(t, btns[0].Props, "disabled", "unset boolean attribute omits")

	require.NoError(t, f.registry.Global().Set([]string{"off"}, "false"))
	tree, _ = f.render()
	btns = nil
	findTags(tree, "button", &btns)
	require.NotContains(t, btns[0].Props, "disabled", `"false" string variant omits`)

	require.NoError(t, f.registry.Global().Set([]string{"off"}, true))
	tree, _ = f.render()
	btns = nil
	findTags(tree, "button", &btns)
	require.Equal(t, true, btns[0].Props["disabled"])
}

func TestRender_SlotProjectionAndFallback(t *testing.T) {
	f := newFixture(t, `
		<Card:Template params="$title"><h2>{$title}</h2><Card:Slot/></Card:Template>
		<Card title="Hi"><p>Body</p></Card>`)

	tree, _ := f.render()
	require.Equal(t, []string{"Hi", "Body"}, texts(tree))

	f = newFixture(t, `
		<Panel:Template><Panel:Slot>Default</Panel:Slot></Panel:Template>
		<Panel/>`)
	tree, _ = f.render()
	require.Equal(t, []string{"Default"}, texts(tree))
}

func TestRender_NamedSlotRouting(t *testing.T) {
	f := newFixture(t, `
		<Layout:Template><Header:Slot/><Layout:Slot/></Layout:Template>
		<Layout><Header><b>H</b></Header><span>Rest</span></Layout>`)

	tree, _ := f.render()
	require.Equal(t, []string{"H", "Rest"}, texts(tree))
}

func TestRender_UndefinedComponentFails(t *testing.T) {
	f := newFixture(t, `<Widget/>`)
	_, _, err := f.renderer.RenderSession(f.doc, f.scope)
	require.Error(t, err)
	var nf *TemplateNotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestRender_InitMustBeObject(t *testing.T) {
	f := newFixture(t, `<div init="{1}">x</div>`)
	_, _, err := f.renderer.RenderSession(f.doc, f.scope)
	require.Error(t, err)
	var shape *InitShapeError
	require.ErrorAs(t, err, &shape)
}

func TestRender_InitOnBothTemplateAndUseSiteFails(t *testing.T) {
	f := newFixture(t, `
		<Card:Template init="{ {} }"><p>x</p></Card:Template>
		<Card init="{ {} }"/>`)
	_, _, err := f.renderer.RenderSession(f.doc, f.scope)
	require.Error(t, err)
	var shape *InitShapeError
	require.ErrorAs(t, err, &shape)
}

func TestRender_DefDeclarations(t *testing.T) {
	f := newFixture(t, `
		<div def="$greet := {'hi'}, @Sub := @Global.sub">
			<span>{$greet}</span>
			<span>{@Sub.x}</span>
		</div>`)
	require.NoError(t, f.registry.Global().Set([]string{"sub", "x"}, 5))

	tree, _ := f.render()
	require.Equal(t, []string{"hi", "5"}, texts(tree))
}

func TestRender_DefAsLocalPersistsAcrossRenders(t *testing.T) {
	f := newFixture(t, `
		<div def="@Box as local">
			<button onclick="@{ @Box.n = 1 }">b</button>
			<span>{@Box.n}</span>
		</div>`)

	tree, info := f.render()
	var spans []*vdom.Node
	findTags(tree, "span", &spans)
	require.Empty(t, texts(spans[0]), "local state starts empty")

	f.fire(info, "onclick")
	tree, _ = f.render()
	spans = nil
	findTags(tree, "span", &spans)
	require.Equal(t, []string{"1"}, texts(spans[0]))
}

func TestRender_URLAnnotationCollected(t *testing.T) {
	f := newFixture(t, `<Url included="tab, filter" transient="q"><div>x</div></Url>`)

	_, info := f.render()
	require.Len(t, info.URLAnnotations, 1)
	require.Equal(t, []string{"tab", "filter"}, info.URLAnnotations[0].Included)
	require.Equal(t, []string{"q"}, info.URLAnnotations[0].Transient)
}

func TestRender_TextInterpolationErrorIsTolerated(t *testing.T) {
	f := newFixture(t, `<p>{1 % 0}</p><p>still here</p>`)

	tree, _ := f.render()
	got := texts(tree)
	require.Contains(t, got, "still here", "an interpolation error must not take down its siblings")
	require.Len(t, got, 2)
	require.Contains(t, got[0], "[Error:")
}

func TestRender_FormFieldRoundTrip(t *testing.T) {
	f := newFixture(t, `<form><input name="note"/></form>`)

	tree, info := f.render()
	var inputs []*vdom.Node
	findTags(tree, "input", &inputs)
	require.Len(t, inputs, 1)
	require.NotContains(t, inputs[0].Props, "value")

	binding, ok := info.Handlers[inputs[0].Key]["oninput"]
	require.True(t, ok, "auto-bound field must register an oninput handler")
	ns, path, kind, isField := DecodeFieldHandler(binding.Body)
	require.True(t, isField)
	require.Equal(t, InputText, kind)
	require.Equal(t, []string{"note"}, path)

	store := f.registry.StoreFor(ns, nil)
	require.NoError(t, store.Set(path, CoerceFieldValue(kind, "hello")))

	tree, _ = f.render()
	inputs = nil
	findTags(tree, "input", &inputs)
	require.Equal(t, "hello", inputs[0].Props["value"])
}

func TestRender_CheckboxBinding(t *testing.T) {
	f := newFixture(t, `<form><input type="checkbox" name="ok"/></form>`)

	tree, info := f.render()
	var inputs []*vdom.Node
	findTags(tree, "input", &inputs)
	require.NotContains(t, inputs[0].Props, "checked")

	binding := info.Handlers[inputs[0].Key]["onchange"]
	ns, path, kind, isField := DecodeFieldHandler(binding.Body)
	require.True(t, isField)
	require.Equal(t, InputCheckbox, kind)

	store := f.registry.StoreFor(ns, nil)
	require.NoError(t, store.Set(path, CoerceFieldValue(kind, true)))

	tree, _ = f.render()
	inputs = nil
	findTags(tree, "input", &inputs)
	require.Equal(t, true, inputs[0].Props["checked"])
}

func TestRender_BoundFormRejectsInit(t *testing.T) {
	f := newFixture(t, `<form bind="@Global.draft" init="{ {} }"><input name="x"/></form>`)
	_, _, err := f.renderer.RenderSession(f.doc, f.scope)
	require.Error(t, err)
	var shape *InitShapeError
	require.ErrorAs(t, err, &shape)
}

func TestRender_FormBindOverridesLocalNamespace(t *testing.T) {
	f := newFixture(t, `<form bind="@Global.draft"><input name="note"/></form>`)
	require.NoError(t, f.registry.Global().Set([]string{"draft", "note"}, "kept"))

	tree, _ := f.render()
	var inputs []*vdom.Node
	findTags(tree, "input", &inputs)
	require.Equal(t, "kept", inputs[0].Props["value"])
}
