package markup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestURLSync_ScalarRoundTrip(t *testing.T) {
	store := NewStore(NamespaceURL, nil)
	u := NewURLSync(store)
	u.SetAnnotations([]URLAnnotation{{Included: []string{"tab", "count"}}})

	store.Replace(map[string]any{"tab": "profile", "count": "3"})
	fragment, changed := u.Sync()
	require.True(t, changed)
	require.Equal(t, "#count=3&tab=profile", fragment, "keys are sorted for stable output")

	require.NoError(t, u.ApplyFragment(fragment))
	require.Equal(t, map[string]any{"tab": "profile", "count": "3"}, store.Snapshot())
}

func TestURLSync_ExcludedKeysDropped(t *testing.T) {
	store := NewStore(NamespaceURL, nil)
	u := NewURLSync(store)
	u.SetAnnotations([]URLAnnotation{{Included: []string{"tab"}}})

	store.Replace(map[string]any{"tab": "settings", "count": "3"})
	fragment, _ := u.Sync()
	require.Equal(t, "#tab=settings", fragment, "keys outside every annotation are dropped on outbound sync")
}

func TestURLSync_ObjectValuesUseJSONSegment(t *testing.T) {
	store := NewStore(NamespaceURL, nil)
	u := NewURLSync(store)
	u.SetAnnotations([]URLAnnotation{{Included: []string{"filter", "tab"}}})

	store.Replace(map[string]any{
		"tab":    "tasks",
		"filter": map[string]any{"ids": []any{1.0, 2.0}},
	})
	fragment, _ := u.Sync()
	require.Equal(t, `#tab=tasks#{"filter":{"ids":[1,2]}}`, fragment)

	require.NoError(t, u.ApplyFragment(fragment))
	require.Equal(t, map[string]any{
		"tab":    "tasks",
		"filter": map[string]any{"ids": []any{1.0, 2.0}},
	}, store.Snapshot())
}

func TestURLSync_UnchangedFragmentReportsNoChange(t *testing.T) {
	store := NewStore(NamespaceURL, nil)
	u := NewURLSync(store)
	u.SetAnnotations([]URLAnnotation{{Included: []string{"tab"}}})

	store.Replace(map[string]any{"tab": "a"})
	_, changed := u.Sync()
	require.True(t, changed)
	_, changed = u.Sync()
	require.False(t, changed, "an identical fragment must not be re-announced")
}

func TestURLSync_TransientKeysParticipate(t *testing.T) {
	store := NewStore(NamespaceURL, nil)
	u := NewURLSync(store)
	u.SetAnnotations([]URLAnnotation{{Included: []string{"tab"}, Transient: []string{"q"}}})

	store.Replace(map[string]any{"tab": "a", "q": "search"})
	fragment, _ := u.Sync()
	require.Equal(t, "#q=search&tab=a", fragment)
}

func TestURLSync_InboundOverwritesWholeNamespace(t *testing.T) {
	store := NewStore(NamespaceURL, nil)
	u := NewURLSync(store)

	store.Replace(map[string]any{"stale": "x"})
	require.NoError(t, u.ApplyFragment("#tab=profile"))
	require.Equal(t, map[string]any{"tab": "profile"}, store.Snapshot(),
		"inbound sync replaces the namespace, never merges")
}
