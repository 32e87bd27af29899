package markup

import (
	"fmt"
	"strings"
)

// Interpolation is a compiled text template: a sequence of literal and expression segments
// produced by splitting on `{EXPR}` delimiters. The effect form `@{EXPR}` never reaches this
// parser - event handler attributes are routed to the effect compiler before attribute
// interpolation runs - so a literal `@` ahead of a placeholder stays literal text here.
type Interpolation struct {
	raw      string
	segments []interpolSegment
}

type interpolSegment struct {
	lit  string // literal text, when expr == nil
	expr *CompiledExpr
}

// RawString returns the original, uncompiled text.
func (in *Interpolation) RawString() string { return in.raw }

// IsPlainText reports whether in has no expression segments at all.
func (in *Interpolation) IsPlainText() bool {
	for _, seg := range in.segments {
		if seg.expr != nil {
			return false
		}
	}
	return true
}

// IsSingleExpr reports whether the whole string is exactly one expression with no surrounding
// literal text, the case where value-preserving evaluation is allowed.
func (in *Interpolation) IsSingleExpr() bool {
	return len(in.segments) == 1 && in.segments[0].expr != nil
}

// CompileInterpolation parses s for `{EXPR}` placeholders and compiles each one against scope,
// then caches the resulting segment structure by (text, handle-signature) per the cache rule:
// a render that revisits the same literal text under the same set of visible handle aliases
// skips re-running the first-that-compiles search entirely.
func CompileInterpolation(s string, scope *Scope, compiler *Compiler) (*Interpolation, error) {
	sig := signatureOf(scope)
	if in, ok := compiler.interpolCacheGet(s, sig); ok {
		return in, nil
	}
	in, err := parseInterpolation(s, scope, compiler)
	if err != nil {
		return nil, err
	}
	compiler.interpolCachePut(s, sig, in)
	return in, nil
}

// parseInterpolation implements the "first-that-compiles" rule: at each `{`, try every later
// `}` in left-to-right order as the candidate expression's end and accept the first one whose
// body actually compiles against scope. This is the only safe rule when expressions may
// themselves contain unbalanced `}` inside string or object literals the parser has no other
// way to distinguish from a delimiter - a plain depth counter would close the placeholder at the
// first `}` it sees, which is exactly the case the rule exists to avoid. If no candidate
// compiles before the string ends, the `{` is emitted as a literal character and the scan
// resumes one byte past it.
func parseInterpolation(s string, scope *Scope, compiler *Compiler) (*Interpolation, error) {
	in := &Interpolation{raw: s}
	i := 0
	var lit strings.Builder
	for i < len(s) {
		if s[i] != '{' {
			lit.WriteByte(s[i])
			i++
			continue
		}
		ce, consumed, found := tryFirstThatCompiles(s, i, scope, compiler)
		if !found {
			lit.WriteByte('{')
			i++
			continue
		}
		if lit.Len() > 0 {
			in.segments = append(in.segments, interpolSegment{lit: lit.String()})
			lit.Reset()
		}
		in.segments = append(in.segments, interpolSegment{expr: ce})
		i = consumed
	}
	if lit.Len() > 0 {
		in.segments = append(in.segments, interpolSegment{lit: lit.String()})
	}
	return in, nil
}

// tryFirstThatCompiles scans forward from s[braceStart] (which is '{') for the first closing
// '}' whose enclosed text compiles, returning the compiled expression, the index just past the
// accepted '}', and true - or false if nothing before end-of-string compiles.
func tryFirstThatCompiles(s string, braceStart int, scope *Scope, compiler *Compiler) (*CompiledExpr, int, bool) {
	for j := braceStart + 1; j < len(s); j++ {
		if s[j] != '}' {
			continue
		}
		candidate := s[braceStart+1 : j]
		ce, err := compiler.Compile(candidate, scope)
		if err == nil {
			return ce, j + 1, true
		}
	}
	return nil, 0, false
}

// Eval renders in against env, concatenating literal and stringified expression segments.
func (in *Interpolation) Eval(env map[string]any) (string, error) {
	var b strings.Builder
	for _, seg := range in.segments {
		if seg.expr == nil {
			b.WriteString(seg.lit)
			continue
		}
		v, err := seg.expr.Eval(env)
		if err != nil {
			return "", err
		}
		b.WriteString(stringify(v))
	}
	return b.String(), nil
}

// EvalValue is the value-preserving evaluation helper: a lone-expression interpolation returns
// the raw evaluated value (boolean, nil, array, ...), anything else falls back to Eval's
// stringified concatenation. Handle proxies are unwrapped so callers receive plain data.
func (in *Interpolation) EvalValue(env map[string]any) (any, error) {
	if !in.IsSingleExpr() {
		return in.Eval(env)
	}
	v, err := in.segments[0].expr.Eval(env)
	if err != nil {
		return nil, err
	}
	if hp, ok := v.(HandleProxy); ok {
		return hp.Value(), nil
	}
	return v, nil
}

func stringify(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case HandleProxy:
		return stringify(vv.Value())
	case fmt.Stringer:
		return vv.String()
	default:
		return fmt.Sprint(vv)
	}
}
