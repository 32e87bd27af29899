package markup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLoopGrammar_BindingsAndMarkerExpr(t *testing.T) {
	g, err := parseLoopGrammar("$u, $i as index, $last as isLast of {@Global.users} marked by {$u.id}")
	require.NoError(t, err)

	require.Equal(t, "@Global.users", g.collectionExpr)
	require.Equal(t, "$u.id", g.markerExpr)
	require.Empty(t, g.markerKeyword)

	require.Len(t, g.bindings, 3)
	require.Equal(t, loopBinding{name: "u"}, g.bindings[0])
	require.Equal(t, loopBinding{name: "i", role: "index"}, g.bindings[1])
	require.Equal(t, loopBinding{name: "last", role: "isLast"}, g.bindings[2])
}

func TestParseLoopGrammar_MarkerKeywords(t *testing.T) {
	g, err := parseLoopGrammar("$v of {items} marked by index")
	require.NoError(t, err)
	require.Equal(t, "index", g.markerKeyword)

	g, err = parseLoopGrammar("$k as field, $v of {items} marked by field")
	require.NoError(t, err)
	require.Equal(t, "field", g.markerKeyword)
}

func TestParseLoopGrammar_ShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		each string
	}{
		{"missing of", "$u marked by index"},
		{"missing marked by", "$u of {items}"},
		{"no brace after of", "$u of items marked by index"},
		{"unterminated of expr", "$u of {items marked by index"},
		{"binding without sigil", "u of {items} marked by index"},
		{"bad marker", "$u of {items} marked by banana"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseLoopGrammar(tt.each)
			require.Error(t, err)
			var shape *SyntaxShapeError
			require.ErrorAs(t, err, &shape)
		})
	}
}

func TestLoopGrammar_BindRoles(t *testing.T) {
	g, err := parseLoopGrammar("$v, $i as index, $f as isFirst, $l as isLast, $k as field of {items} marked by field")
	require.NoError(t, err)

	scope := NewRootScope()
	g.bind(scope, 2, "color", "red", false, true)

	v, _ := scope.ResolveValue("v")
	require.Equal(t, "red", v)
	i, _ := scope.ResolveValue("i")
	require.Equal(t, 2, i)
	f, _ := scope.ResolveValue("f")
	require.Equal(t, false, f)
	l, _ := scope.ResolveValue("l")
	require.Equal(t, true, l)
	k, _ := scope.ResolveValue("k")
	require.Equal(t, "color", k)
}
