package markup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldPath_DotAndBracketGrammar(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"note", []string{"note"}},
		{"user.name", []string{"user", "name"}},
		{"apps[0].name", []string{"apps", "0", "name"}},
		{"a[2]", []string{"a", "2"}},
		{"weird[x]", []string{"weird[x]"}},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, FieldPath(tt.name), tt.name)
	}
}

func TestBindField_AppendsToFormHandle(t *testing.T) {
	store := NewStore("local:form1", nil)
	form := RootHandle(store, false)

	h := BindField(form, "user.email")
	require.NoError(t, h.Set("a@b.c"))

	v, ok := store.Get([]string{"user", "email"})
	require.True(t, ok)
	require.Equal(t, "a@b.c", v)
}

func TestCoerceFieldValue(t *testing.T) {
	require.Equal(t, true, CoerceFieldValue(InputCheckbox, "on"))
	require.Equal(t, false, CoerceFieldValue(InputCheckbox, "off"))
	require.Equal(t, true, CoerceFieldValue(InputCheckbox, true))

	require.Equal(t, 4.5, CoerceFieldValue(InputNumber, "4.5"))
	require.Equal(t, 7.0, CoerceFieldValue(InputNumber, 7.0))
	require.Nil(t, CoerceFieldValue(InputNumber, "not a number"))

	require.Equal(t, []any{"a", "b"}, CoerceFieldValue(InputSelectMultiple, []string{"a", "b"}))
	require.Equal(t, []any{"a"}, CoerceFieldValue(InputSelectMultiple, []any{"a"}))

	require.Equal(t, "plain", CoerceFieldValue(InputText, "plain"))
}

func TestEncodeDecodeFieldHandler_RoundTrip(t *testing.T) {
	store := NewStore("local:abc123", nil)
	h := RootHandle(store, false).Child("user").Child("email")

	body := EncodeFieldHandler(h, InputNumber)
	ns, path, kind, ok := DecodeFieldHandler(body)
	require.True(t, ok)
	require.Equal(t, "local:abc123", ns)
	require.Equal(t, []string{"user", "email"}, path)
	require.Equal(t, InputNumber, kind)
}

func TestDecodeFieldHandler_RejectsAuthorBodies(t *testing.T) {
	_, _, _, ok := DecodeFieldHandler("@{ @Global.x = 1 }")
	require.False(t, ok, "an authored effect body must not decode as a field handler")
}

func TestDecodeFormValues_NestedAssignment(t *testing.T) {
	got := DecodeFormValues(map[string][]string{
		"user.name": {"Ada"},
		"tags[0]":   {"x"},
	}, nil)
	require.Equal(t, map[string]any{
		"user": map[string]any{"name": "Ada"},
		"tags": map[string]any{"0": "x"},
	}, got)
}
