package markup

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/compiler"
	"github.com/expr-lang/expr/conf"
	expr_parser "github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// HandleProxy is the evaluation-time stand-in for a handle bound into an expression
// environment. expr-lang has no Proxy-trap equivalent for dynamic property access, so plain
// `a.b.c` member chains are rewritten at compile time (see rewriteHandleAccess) into calls to
// Get; HandleProxy is simply the receiver those calls land on.
type HandleProxy struct {
	h Handle
}

// NewHandleProxy wraps h for use as an expr-lang environment value.
func NewHandleProxy(h Handle) HandleProxy { return HandleProxy{h: h} }

// Get reads a field and unwraps it: an object field becomes a nested HandleProxy so chaining
// keeps working, anything else (including a missing field) comes back as its own Go value, nil
// standing in for the null-safe-chaining case.
func (p HandleProxy) Get(field string) any {
	child := p.h.Child(field)
	v, ok := child.Get()
	if !ok {
		return nil
	}
	if _, isObj := v.(map[string]any); isObj {
		return NewHandleProxy(child)
	}
	return v
}

// At navigates without fetching, for use on the left side of an effect-mode assignment where
// the target path may not exist yet.
func (p HandleProxy) At(field string) HandleProxy {
	return NewHandleProxy(p.h.Child(field))
}

// Value dereferences the proxy to a deep copy of its current underlying value (a
// map[string]any for an object), so changes to the result never reach the store; it is the
// coercion expr-lang's builtin operators need when a whole handle, rather than one of its
// fields, appears in a boolean test or is interpolated directly.
func (p HandleProxy) Value() any {
	return deepCopyValue(p.h.Value())
}

// Handle exposes the wrapped Handle.
func (p HandleProxy) Handle() Handle { return p.h }

// scopeNames is the compile-time view of a scope: which lower-cased names are handle aliases
// and which are plain values. The sigil rewrite and the identifier canonicalization both key
// off it; imports are deliberately absent since they are case-sensitive and pass through
// untouched.
type scopeNames struct {
	handles map[string]struct{}
	values  map[string]struct{}
}

func namesOf(scope *Scope) scopeNames {
	n := scopeNames{handles: make(map[string]struct{}), values: make(map[string]struct{})}
	for cur := scope; cur != nil; cur = cur.parent {
		for k := range cur.handles {
			n.handles[k] = struct{}{}
		}
		for k := range cur.values {
			n.values[k] = struct{}{}
		}
	}
	return n
}

// handleSignature captures the set of in-scope handle-bound names at compile time; two
// expressions with identical text but different handle signatures must not share a cached
// program, since the sigil rewrite below depends on which identifiers are handles. Names are
// case-folded, deduplicated, and sorted so the signature is deterministic for a given scope.
type handleSignature struct{ names string }

func signatureOf(scope *Scope) handleSignature {
	set := make(map[string]struct{})
	for cur := scope; cur != nil; cur = cur.parent {
		for k := range cur.handles {
			set[strings.ToUpper(k)] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, k)
	}
	sort.Strings(names)
	return handleSignature{names: strings.Join(names, ",")}
}

// CompiledExpr is a cached, ready-to-run expression.
type CompiledExpr struct {
	raw  string
	prog *vm.Program
}

func (c *CompiledExpr) RawString() string { return c.raw }

// Eval runs the compiled program against an environment produced by Scope.Env.
func (c *CompiledExpr) Eval(env map[string]any) (any, error) {
	if c == nil || c.prog == nil {
		return nil, nil
	}
	return vm.Run(c.prog, env)
}

// CompileStrategy turns expression source into a compiled program. The default strategy
// rewrites handle member-access chains into Get calls; debug tooling can install a strategy
// that skips the rewrite, to isolate whether a bug lives in the rewrite or downstream of it.
type CompileStrategy interface {
	Compile(src string, names scopeNames) (*vm.Program, error)
}

// astRewriteStrategy is the production CompileStrategy: strip sigils, parse, canonicalize
// identifiers, rewrite handle chains, compile.
type astRewriteStrategy struct{}

func (astRewriteStrategy) Compile(src string, names scopeNames) (*vm.Program, error) {
	tree, err := expr_parser.Parse(stripSigils(src, names))
	if err != nil {
		return nil, err
	}
	tree.Node = rewriteHandleAccess(tree.Node, names)
	c := conf.CreateNew()
	for _, opt := range exprOptions() {
		opt(c)
	}
	return compiler.Compile(&expr_parser.Tree{Node: tree.Node}, c)
}

func exprOptions() []expr.Option {
	return []expr.Option{
		expr.AllowUndefinedVariables(),
	}
}

// stripSigils removes the author-facing sigils expr-lang's grammar cannot carry: a `@` before
// an identifier that names a visible handle alias is dropped (other `@`-uses are left for the
// parser to accept or reject, per the rewrite rule), and a `$` before any identifier is dropped
// unconditionally, since `$` only ever introduces scope values and keeping the strip
// value-set-independent keeps the compiled program cacheable by handle signature alone. String
// literal contents are never touched.
func stripSigils(src string, names scopeNames) string {
	var b strings.Builder
	b.Grow(len(src))
	inString := false
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if inString {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(src) {
				i++
				b.WriteByte(src[i])
				continue
			}
			if c == quote {
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			inString = true
			quote = c
			b.WriteByte(c)
		case '$':
			if identAt(src, i+1) != "" {
				continue // drop the sigil, keep the identifier
			}
			b.WriteByte(c)
		case '@':
			ident := identAt(src, i+1)
			if ident != "" {
				if _, ok := names.handles[strings.ToLower(ident)]; ok {
					continue
				}
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// identAt returns the identifier starting at src[i], or "" if src[i] does not start one.
func identAt(src string, i int) string {
	if i >= len(src) || !isIdentStart(rune(src[i])) {
		return ""
	}
	j := i
	for j < len(src) && isIdentPart(rune(src[j])) {
		j++
	}
	return src[i:j]
}

// rewriteHandleAccess canonicalizes identifiers to their lower-cased scope names and rewrites
// every MemberNode chain rooted at a handle-bound identifier into a call to HandleProxy.Get, so
// `Cart.items.count` compiles to `cart.Get("items").Get("count")`. Non-handle-rooted subtrees
// are left untouched.
func rewriteHandleAccess(node ast.Node, names scopeNames) ast.Node {
	rewritten, _ := rewriteChain(node, names)
	return rewritten
}

// rewriteChain returns the rewritten node along with whether that node's root is a handle, so
// a caller one level up the chain knows whether to keep rewriting into Get calls.
func rewriteChain(node ast.Node, names scopeNames) (ast.Node, bool) {
	switch n := node.(type) {
	case *ast.IdentifierNode:
		folded := strings.ToLower(n.Value)
		if _, isHandle := names.handles[folded]; isHandle {
			n.Value = folded
			return n, true
		}
		if _, isValue := names.values[folded]; isValue {
			n.Value = folded
		}
		return n, false

	case *ast.MemberNode:
		innerNode, innerIsHandle := rewriteChain(n.Node, names)
		if !innerIsHandle {
			n.Node = innerNode
			return n, false
		}
		prop, ok := staticPropertyName(n.Property)
		if !ok {
			// Dynamic/computed property on a handle chain: leave the member access as-is;
			// HandleProxy does not support reflection-based lookup, so this degrades to
			// whatever expr-lang's default struct-field behavior does.
			n.Node = innerNode
			return n, false
		}
		call := &ast.CallNode{
			Callee: &ast.MemberNode{
				Node:     innerNode,
				Property: &ast.StringNode{Value: "Get"},
				Method:   true,
			},
			Arguments: []ast.Node{&ast.StringNode{Value: prop}},
		}
		return call, true

	case *ast.BinaryNode:
		n.Left, _ = rewriteChain(n.Left, names)
		n.Right, _ = rewriteChain(n.Right, names)
		return n, false
	case *ast.UnaryNode:
		n.Node, _ = rewriteChain(n.Node, names)
		return n, false
	case *ast.ConditionalNode:
		n.Cond, _ = rewriteChain(n.Cond, names)
		n.Exp1, _ = rewriteChain(n.Exp1, names)
		n.Exp2, _ = rewriteChain(n.Exp2, names)
		return n, false
	case *ast.ChainNode:
		n.Node, _ = rewriteChain(n.Node, names)
		return n, false
	case *ast.CallNode:
		n.Callee, _ = rewriteChain(n.Callee, names)
		for i, a := range n.Arguments {
			n.Arguments[i], _ = rewriteChain(a, names)
		}
		return n, false
	case *ast.BuiltinNode:
		for i, a := range n.Arguments {
			n.Arguments[i], _ = rewriteChain(a, names)
		}
		return n, false
	case *ast.ClosureNode:
		n.Node, _ = rewriteChain(n.Node, names)
		return n, false
	case *ast.ArrayNode:
		for i, e := range n.Nodes {
			n.Nodes[i], _ = rewriteChain(e, names)
		}
		return n, false
	case *ast.MapNode:
		for _, pair := range n.Pairs {
			if p, ok := pair.(*ast.PairNode); ok {
				p.Key, _ = rewriteChain(p.Key, names)
				p.Value, _ = rewriteChain(p.Value, names)
			}
		}
		return n, false
	case *ast.SliceNode:
		n.Node, _ = rewriteChain(n.Node, names)
		if n.From != nil {
			n.From, _ = rewriteChain(n.From, names)
		}
		if n.To != nil {
			n.To, _ = rewriteChain(n.To, names)
		}
		return n, false
	default:
		return node, false
	}
}

func staticPropertyName(node ast.Node) (string, bool) {
	switch p := node.(type) {
	case *ast.StringNode:
		return p.Value, true
	case *ast.IdentifierNode:
		return p.Value, true
	default:
		return "", false
	}
}

// Compiler owns the expression cache keyed by (source text, handle signature). A fresh Compiler
// is used per mount root; its counters back the debug surface in debug.go.
type Compiler struct {
	mu            sync.Mutex
	strategy      CompileStrategy
	cache         map[string]map[handleSignature]*CompiledExpr
	interpolCache map[string]map[handleSignature]*Interpolation
	hits          uint64
	misses        uint64
}

func NewCompiler() *Compiler {
	return &Compiler{
		strategy:      astRewriteStrategy{},
		cache:         make(map[string]map[handleSignature]*CompiledExpr),
		interpolCache: make(map[string]map[handleSignature]*Interpolation),
	}
}

// interpolCacheGet/interpolCachePut back CompileInterpolation's (text, handle-signature) cache,
// kept on Compiler so a debug Reset() clears both caches together.
func (c *Compiler) interpolCacheGet(text string, sig handleSignature) (*Interpolation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byText, ok := c.interpolCache[text]
	if !ok {
		return nil, false
	}
	in, ok := byText[sig]
	return in, ok
}

func (c *Compiler) interpolCachePut(text string, sig handleSignature, in *Interpolation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byText, ok := c.interpolCache[text]
	if !ok {
		byText = make(map[handleSignature]*Interpolation)
		c.interpolCache[text] = byText
	}
	byText[sig] = in
}

// SetStrategy overrides the compile strategy, a debug-only escape hatch.
func (c *Compiler) SetStrategy(s CompileStrategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategy = s
}

// Compile returns a cached compiled program for src under scope's current handle signature,
// compiling it fresh on a cache miss. Plain values participate in identifier canonicalization
// but do not widen the cache key: the compiled program is scope-structural, per the cache
// design - only the handle-alias set changes what the rewrite produces in a way that matters.
func (c *Compiler) Compile(src string, scope *Scope) (*CompiledExpr, error) {
	sig := signatureOf(scope)
	c.mu.Lock()
	if byText, ok := c.cache[src]; ok {
		if ce, ok := byText[sig]; ok {
			c.hits++
			c.mu.Unlock()
			return ce, nil
		}
	}
	strategy := c.strategy
	c.mu.Unlock()

	prog, err := strategy.Compile(src, namesOf(scope))
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	ce := &CompiledExpr{raw: src, prog: prog}

	c.mu.Lock()
	byText, ok := c.cache[src]
	if !ok {
		byText = make(map[handleSignature]*CompiledExpr)
		c.cache[src] = byText
	}
	byText[sig] = ce
	c.misses++
	c.mu.Unlock()

	return ce, nil
}

// Stats returns cache hit/miss counters, surfaced by debug.go.
func (c *Compiler) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Size returns the number of cached compiled programs across all handle signatures.
func (c *Compiler) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, byText := range c.cache {
		n += len(byText)
	}
	return n
}

// Reset drops all cached programs and zeroes the counters.
func (c *Compiler) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]map[handleSignature]*CompiledExpr)
	c.interpolCache = make(map[string]map[handleSignature]*Interpolation)
	c.hits, c.misses = 0, 0
}
