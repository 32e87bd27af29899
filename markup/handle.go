package markup

import (
	"strconv"
	"strings"
)

// Handle is a reference to one addressable location inside a namespace: a store plus a path of
// field segments from that store's root. It is the Go-native replacement for the original
// runtime's Proxy-based handle object - there is no dynamic property trap to hook here, so
// member access is instead rewritten at compile time (see expr.go) into Get calls, and the
// assignment targets of effect bodies are parsed by effect.go and written through Set.
type Handle struct {
	store *Store
	path  []string
	pure  bool
}

// RootHandle returns the handle addressing a store's root, in the given mode.
func RootHandle(s *Store, pure bool) Handle {
	return Handle{store: s, pure: pure}
}

// Pure reports whether this handle was obtained through a pure-mode binding.
func (h Handle) Pure() bool { return h.pure }

// WithMode returns a copy of h with the given pure/effect mode, used when an expression enters
// an effect-mode body (e.g. an event handler) while holding handles bound in an enclosing
// pure-mode scope.
func (h Handle) WithMode(pure bool) Handle {
	h.pure = pure
	return h
}

// Child returns the handle addressing one field deeper than h.
func (h Handle) Child(field string) Handle {
	path := make([]string, len(h.path)+1)
	copy(path, h.path)
	path[len(path)-1] = field
	h.path = path
	return h
}

// Index returns the handle addressing an array element, expressed as a path segment since
// Store paths are untyped string segments all the way down.
func (h Handle) Index(i int) Handle {
	return h.Child(strconv.Itoa(i))
}

// Get reads the handle's current value. The second return is false if any intermediate
// segment is absent or not an object, matching the null-safe chaining rule: a dereference
// through a missing ancestor yields null rather than panicking.
func (h Handle) Get() (any, bool) {
	if h.store == nil {
		return nil, false
	}
	return h.store.Get(h.path)
}

// Value is like Get but collapses the not-found case to nil, for use at expression-evaluation
// sites that already treat nil and explicit null identically.
func (h Handle) Value() any {
	v, _ := h.Get()
	return v
}

// Set writes v at the handle's path. It is where the pure-mode mutation rule is enforced: a
// handle in pure mode gets a PureMutationError, and effect bodies switch their assignment targets
// to effect mode (WithMode(false)) before calling Set. expr.go compiles no assignments.
func (h Handle) Set(v any) error {
	if h.pure {
		return &PureMutationError{Handle: h}
	}
	if h.store == nil {
		return nil
	}
	return h.store.Set(h.path, v)
}

// Namespace returns the name of the store this handle is rooted in, e.g. "global" or "url".
func (h Handle) Namespace() string {
	if h.store == nil {
		return ""
	}
	return h.store.Name()
}

// Path returns the dotted field path from the store root, e.g. "cart.items".
func (h Handle) Path() string {
	return strings.Join(h.path, ".")
}

// PathSegments returns a copy of the raw field-path segments from the store root, for callers
// that need to rebuild a handle (or a raw Store.Set call) rather than just display one.
func (h Handle) PathSegments() []string {
	out := make([]string, len(h.path))
	copy(out, h.path)
	return out
}

func (h Handle) String() string {
	ns := h.Namespace()
	if ns == "" {
		return "<detached handle>"
	}
	if len(h.path) == 0 {
		return ns
	}
	return ns + "." + h.Path()
}
