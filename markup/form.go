package markup

import (
	"strconv"
	"strings"
)

// FieldPath resolves a form field's name attribute (dot-and-bracket notation, e.g.
// "apps[0].name") into a flat path of Store segments.
func FieldPath(name string) []string {
	var path []string
	for _, part := range strings.Split(name, ".") {
		isArray, key, index := parseFieldPart(part)
		if key != "" {
			path = append(path, key)
		}
		if isArray {
			path = append(path, strconv.Itoa(index))
		}
	}
	return path
}

// parseFieldPart: a part counts as an array access only if it strictly matches `key[index]`
// with a non-negative integer index and `]` as the last character; anything else is treated as
// a plain key segment.
func parseFieldPart(part string) (isArray bool, key string, index int) {
	bracketStart := strings.Index(part, "[")
	if bracketStart == -1 {
		return false, part, -1
	}
	bracketEnd := strings.Index(part, "]")
	if bracketEnd != len(part)-1 || bracketEnd == bracketStart+1 {
		return false, part, -1
	}
	idx, err := strconv.Atoi(part[bracketStart+1 : bracketEnd])
	if err != nil || idx < 0 {
		return false, part, -1
	}
	return true, part[:bracketStart], idx
}

// InputKind enumerates the input-type-specific binding semantics of form fields.
type InputKind int

const (
	InputText InputKind = iota
	InputCheckbox
	InputRadio
	InputNumber
	InputSelectSingle
	InputSelectMultiple
	InputFile
)

// BindField computes the handle a form child should read/write given the form's own handle and
// the child's name attribute, by walking FieldPath(name) down from the form's handle. It does
// not coerce values; CoerceFieldValue does that.
func BindField(form Handle, name string) Handle {
	h := form
	for _, seg := range FieldPath(name) {
		h = h.Child(seg)
	}
	return h
}

// CoerceFieldValue converts a raw form value (a string or string list from a posted form, a
// JSON-decoded bool/number/list from a live event payload) into the Go value a field handle
// should store, per kind.
func CoerceFieldValue(kind InputKind, raw any) any {
	switch kind {
	case InputCheckbox:
		switch v := raw.(type) {
		case bool:
			return v
		case string:
			return v == "on" || v == "true" || v == "1"
		default:
			return false
		}
	case InputNumber:
		switch v := raw.(type) {
		case float64:
			return v
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
			return nil
		default:
			return raw
		}
	case InputSelectMultiple:
		switch vs := raw.(type) {
		case []any:
			return vs
		case []string:
			out := make([]any, len(vs))
			for i, v := range vs {
				out[i] = v
			}
			return out
		default:
			return []any{}
		}
	default:
		return raw
	}
}

// DecodeFormValues parses a flat field-name -> value(s) map into a nested map[string]any using
// the same dot/bracket grammar as FieldPath, for the unbound-form default namespace case.
// No key is rejected: assignFormValue never returns an error, so onError is never called. A key
// whose path is empty is dropped without a report, and a scalar already stored where a later key
// needs an object is replaced by that object.
func DecodeFormValues(values map[string][]string, onError func(key string, err error)) map[string]any {
	result := make(map[string]any)
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		if err := assignFormValue(result, FieldPath(key), vals[0]); err != nil && onError != nil {
			onError(key, err)
		}
	}
	return result
}

// fieldHandlerPrefix marks a handler body as a built-in auto-bound field writer rather than an
// author-authored effect expression; \x00 is used as the field separator since form field names
// may legitimately contain '.', ':' or other punctuation a printable separator could collide
// with.
const fieldHandlerPrefix = "\x00field:"

// EncodeFieldHandler packs a field handle's coordinates and input kind into a handler body the
// renderer emits for auto-bound form fields - a built-in binding rather than a compiled user
// effect, the same way <Url> emits a neutral annotation rather than delegating to user code.
func EncodeFieldHandler(h Handle, kind InputKind) string {
	return fieldHandlerPrefix + h.Namespace() + "\x00" + strconv.Itoa(int(kind)) + "\x00" + strings.Join(h.PathSegments(), "\x00")
}

// DecodeFieldHandler reverses EncodeFieldHandler, reporting ok=false for any ordinary
// author-authored effect body.
func DecodeFieldHandler(body string) (namespace string, path []string, kind InputKind, ok bool) {
	if !strings.HasPrefix(body, fieldHandlerPrefix) {
		return "", nil, 0, false
	}
	rest := strings.TrimPrefix(body, fieldHandlerPrefix)
	parts := strings.Split(rest, "\x00")
	if len(parts) < 2 {
		return "", nil, 0, false
	}
	k, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", nil, 0, false
	}
	return parts[0], parts[2:], InputKind(k), true
}

func assignFormValue(data map[string]any, path []string, value any) error {
	cur := data
	for i, seg := range path {
		if i == len(path)-1 {
			cur[seg] = value
			return nil
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	return nil
}
