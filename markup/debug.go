package markup

import "github.com/expr-lang/expr/vm"

// CacheStats reports the expression-compiler cache's hit/miss counters and current size.
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// DebugStats returns the current cache counters for c.
func (c *Compiler) DebugStats() CacheStats {
	hits, misses := c.Stats()
	return CacheStats{Hits: hits, Misses: misses, Size: c.Size()}
}

// noRewriteStrategy compiles source as a plain expr-lang program with no handle-access
// rewriting, isolating whether unexpected evaluation behavior comes from rewriteHandleAccess or
// from somewhere downstream of it.
type noRewriteStrategy struct{}

func (noRewriteStrategy) Compile(src string, _ scopeNames) (*vm.Program, error) {
	return astRewriteStrategy{}.Compile(src, scopeNames{})
}

// UseRawStrategy switches c to compile without the AST rewrite, for debugging.
func (c *Compiler) UseRawStrategy() {
	c.SetStrategy(noRewriteStrategy{})
}

// UseDefaultStrategy restores the production AST-rewrite strategy.
func (c *Compiler) UseDefaultStrategy() {
	c.SetStrategy(astRewriteStrategy{})
}
