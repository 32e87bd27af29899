package markup

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// URLAnnotation records one <Url> tag's declared key lists, discovered during render and
// retained until the next outbound sync so the synchronizer can union them without re-walking
// the tree.
type URLAnnotation struct {
	Included  []string
	Transient []string
}

// URLSync owns the url namespace's two-way binding to the document fragment: inbound parses
// overwrite the whole namespace (never partially observed, per the data model's lifecycle
// rule), outbound writes are filtered to the union of annotated keys and debounced by the
// caller (tagmark.Session schedules the actual debounce timer; this type is pure computation).
type URLSync struct {
	store       *Store
	annotations []URLAnnotation
	lastFragment string
}

func NewURLSync(store *Store) *URLSync {
	return &URLSync{store: store}
}

// SetAnnotations replaces the set of currently-mounted <Url> annotations, refreshed each render
// pass since non-taken conditional/iteration branches may mount or unmount one.
func (u *URLSync) SetAnnotations(anns []URLAnnotation) {
	u.annotations = anns
}

// ApplyFragment parses an inbound URL fragment and overwrites the entire url namespace.
// Unknown keys are accepted into the namespace (they're simply dropped on the next outbound
// sync if not covered by any annotation's included/transient lists).
func (u *URLSync) ApplyFragment(fragment string) error {
	fragment = strings.TrimPrefix(fragment, "#")
	data := make(map[string]any)
	for _, seg := range strings.Split(fragment, "#") {
		if seg == "" {
			continue
		}
		if strings.HasPrefix(seg, "{") {
			var obj map[string]any
			if err := json.Unmarshal([]byte(seg), &obj); err != nil {
				return &SyntaxShapeError{Attr: "url", Msg: err.Error()}
			}
			for k, v := range obj {
				data[k] = v
			}
			continue
		}
		vals, err := url.ParseQuery(seg)
		if err != nil {
			return &SyntaxShapeError{Attr: "url", Msg: err.Error()}
		}
		for k, vs := range vals {
			if len(vs) > 0 {
				data[k] = vs[0]
			}
		}
	}
	u.store.Replace(data)
	u.lastFragment = "#" + fragment
	return nil
}

// Sync recomputes the outbound fragment from the current url namespace and the mounted
// annotations, filtered to the union of included/transient keys, and returns (fragment,
// changed). Keys are sorted for stable output; scalar values serialize into a query-string
// segment and object or array values into a JSON segment after it.
func (u *URLSync) Sync() (string, bool) {
	keys := make(map[string]struct{})
	for _, ann := range u.annotations {
		for _, k := range ann.Included {
			keys[k] = struct{}{}
		}
		for _, k := range ann.Transient {
			keys[k] = struct{}{}
		}
	}
	snapshot := u.store.Snapshot()
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		if _, ok := snapshot[k]; ok {
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	var scalars, objects []string
	objData := make(map[string]any)
	for _, k := range sorted {
		v := snapshot[k]
		switch v.(type) {
		case map[string]any, []any:
			objects = append(objects, k)
			objData[k] = v
		default:
			scalars = append(scalars, k)
		}
	}

	var segs []string
	if len(scalars) > 0 {
		q := url.Values{}
		for _, k := range scalars {
			q.Set(k, stringify(snapshot[k]))
		}
		segs = append(segs, q.Encode())
	}
	if len(objects) > 0 {
		b, _ := json.Marshal(objData)
		segs = append(segs, string(b))
	}

	fragment := ""
	if len(segs) > 0 {
		fragment = "#" + strings.Join(segs, "#")
	}
	changed := fragment != u.lastFragment
	if changed {
		u.lastFragment = fragment
	}
	return fragment, changed
}
