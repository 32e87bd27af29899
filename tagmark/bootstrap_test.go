package tagmark

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tagmark/tagmark/markup"
)

func parseDoc(t *testing.T, src string) *markup.Node {
	t.Helper()
	doc, err := markup.NewParser(strings.NewReader(src), "test.tagmark").Parse()
	require.NoError(t, err)
	return doc
}

func TestApplyGlobalInit_MergesIntoGlobalAndRemovesTag(t *testing.T) {
	doc := parseDoc(t, `<GlobalInit init="{ { tasks: [1, 2] } }"/><Root></Root>`)
	reg := markup.NewRegistry()
	compiler := markup.NewCompiler()

	require.NoError(t, ApplyGlobalInit(doc, reg, compiler))

	v, ok := reg.Global().Get([]string{"tasks"})
	require.True(t, ok)
	require.Equal(t, []any{1, 2}, v)

	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		require.False(t, strings.EqualFold(c.Tag, "GlobalInit"), "global-init tag must be removed from the tree")
	}
}

func TestExtractGlobalInit_StripsTagWithoutMerging(t *testing.T) {
	doc := parseDoc(t, `<GlobalInit init="{ { count: 0 } }"/><Root></Root>`)
	compiler := markup.NewCompiler()

	init, err := ExtractGlobalInit(doc, compiler)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"count": 0}, init)

	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		require.False(t, strings.EqualFold(c.Tag, "GlobalInit"), "global-init tag must be removed from the tree")
	}

	// A second parse of the same page yields the same init object; the caller decides how
	// often to merge it (the HTTP handler does so once per process).
	doc2 := parseDoc(t, `<GlobalInit init="{ { count: 0 } }"/><Root></Root>`)
	init2, err := ExtractGlobalInit(doc2, compiler)
	require.NoError(t, err)
	require.Equal(t, init, init2)
}

func TestApplyGlobalInit_NoTagIsANoOp(t *testing.T) {
	doc := parseDoc(t, `<Root></Root>`)
	reg := markup.NewRegistry()
	compiler := markup.NewCompiler()

	require.NoError(t, ApplyGlobalInit(doc, reg, compiler))
}

func TestApplyGlobalInit_RejectsMultipleGlobalInitTags(t *testing.T) {
	doc := parseDoc(t, `<GlobalInit init="{ {} }"/><GlobalInit init="{ {} }"/><Root></Root>`)
	reg := markup.NewRegistry()
	compiler := markup.NewCompiler()

	err := ApplyGlobalInit(doc, reg, compiler)
	require.Error(t, err)
	require.IsType(t, &markup.StructuralViolation{}, err)
}

func TestApplyGlobalInit_RejectsGlobalInitAfterRoot(t *testing.T) {
	doc := parseDoc(t, `<Root></Root><GlobalInit init="{ {} }"/>`)
	reg := markup.NewRegistry()
	compiler := markup.NewCompiler()

	err := ApplyGlobalInit(doc, reg, compiler)
	require.Error(t, err)
	require.IsType(t, &markup.StructuralViolation{}, err)
}
