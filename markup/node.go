// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// Modifications:
//  - New Node struct with additional fields for the declarative tag grammar
//    and parsed expressions; tree methods retained from golang.org/x/net/html.

package markup

import "strings"

// Span locates a node or attribute in its source document, letting a host underline the
// offending markup the way a compiler would.
type Span struct {
	File   string
	Line   int
	Column int
	Length int
}

// IsZero reports whether the span was never set.
func (s Span) IsZero() bool {
	return s.File == "" && s.Line == 0 && s.Column == 0 && s.Length == 0
}

// NodeType discriminates the parsed tree's node kinds. ElementNode, TextNode, CommentNode and
// DocumentNode mirror golang.org/x/net/html's vocabulary; the rest name this package's structural
// tags.
type NodeType int

const (
	ElementNode NodeType = iota
	TextNode
	CommentNode
	DocumentNode
	WhenNode  // <When test="...">
	ElseNode  // <Else> or <Else test="..."> (else-if)
	LoopNode  // <Loop each="...">
	DefNode   // Name:Template definition site
	SlotNode  // Name:Slot projection site
	UseNode   // not produced by the parser: component use-sites parse as ElementNode
	URLNode   // <Url> synchronization annotation
)

// Node is one element of the parsed declarative tree. Tree-manipulation methods follow
// golang.org/x/net/html.Node's linked-list shape.
type Node struct {
	Parent, FirstChild, LastChild, PrevSibling, NextSibling *Node

	Type NodeType
	Tag  string // element/tag name, empty for Text/Comment/Document
	Data string // literal text for TextNode/CommentNode

	Attr []Attribute

	// Cond holds the test="" expression text for When/Else nodes (empty for a bare Else).
	Cond string

	// PrevCond/NextCond are not set by the parser; renderConditionalChain walks a
	// When/Else-if/Else chain through NextSibling.
	PrevCond, NextCond *Node

	// Each holds the raw each="BINDINGS of {EXPR} marked by MARKER" text of a Loop node.
	Each string

	// DefName holds the component name for Def and Slot nodes.
	DefName string

	// SourceIndex is this node's 0-based position among source siblings sharing its tag,
	// assigned once at parse time; the positional half of a computed SID segment.
	SourceIndex int

	Span Span
}

type Attribute struct {
	Key string
	Val string
	// Interp is a slot for a compiled interpolation of this attribute's value. The parser
	// leaves it nil and the renderer does not read it; attribute values are compiled through
	// the Compiler's interpolation cache instead. Typed `any` to avoid an import cycle.
	Interp any
	Span   Span
}

// AttrValue looks up an attribute by key, case-sensitively (reserved attribute names are
// matched case-insensitively by callers that need that, via AttrFold).
func (n *Node) AttrValue(key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// AttrFold looks up an attribute by key, case-insensitively, matching this markup's
// case-insensitive handle-name convention.
func (n *Node) AttrFold(key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// IsWhitespace reports whether a TextNode's data is entirely whitespace.
func (n *Node) IsWhitespace() bool {
	return strings.TrimSpace(n.Data) == ""
}

// InsertBefore inserts newChild as a child of n, immediately before oldChild in n's children.
// oldChild may be nil, in which case newChild is appended.
func (n *Node) InsertBefore(newChild, oldChild *Node) {
	if newChild.Parent != nil || newChild.PrevSibling != nil || newChild.NextSibling != nil {
		panic("markup: InsertBefore called for an attached child Node")
	}
	var prev, next *Node
	if oldChild != nil {
		prev, next = oldChild.PrevSibling, oldChild
	} else {
		prev = n.LastChild
	}
	if prev != nil {
		prev.NextSibling = newChild
	} else {
		n.FirstChild = newChild
	}
	if next != nil {
		next.PrevSibling = newChild
	} else {
		n.LastChild = newChild
	}
	newChild.Parent = n
	newChild.PrevSibling = prev
	newChild.NextSibling = next
}

// AppendChild adds c as a child of n. It panics if c already has a parent or siblings.
func (n *Node) AppendChild(c *Node) {
	if c.Parent != nil || c.PrevSibling != nil || c.NextSibling != nil {
		panic("markup: AppendChild called for an attached child Node")
	}
	last := n.LastChild
	if last != nil {
		last.NextSibling = c
	} else {
		n.FirstChild = c
	}
	n.LastChild = c
	c.Parent = n
	c.PrevSibling = last
}

// RemoveChild removes c, a child of n. Afterwards c has no parent and no siblings.
func (n *Node) RemoveChild(c *Node) {
	if c.Parent != n {
		panic("markup: RemoveChild called for a non-child Node")
	}
	if n.FirstChild == c {
		n.FirstChild = c.NextSibling
	}
	if c.NextSibling != nil {
		c.NextSibling.PrevSibling = c.PrevSibling
	}
	if n.LastChild == c {
		n.LastChild = c.PrevSibling
	}
	if c.PrevSibling != nil {
		c.PrevSibling.NextSibling = c.NextSibling
	}
	c.Parent = nil
	c.PrevSibling = nil
	c.NextSibling = nil
}

// Children returns n's direct children as a slice, for callers that want random access or a
// length rather than walking FirstChild/NextSibling by hand.
func (n *Node) Children() []*Node {
	var out []*Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

// nodeStack is a stack of nodes, used by the parser while building the tree.
type nodeStack []*Node

func (s *nodeStack) push(n *Node) { *s = append(*s, n) }

func (s *nodeStack) pop() *Node {
	i := len(*s)
	n := (*s)[i-1]
	*s = (*s)[:i-1]
	return n
}

func (s *nodeStack) top() *Node {
	if i := len(*s); i > 0 {
		return (*s)[i-1]
	}
	return nil
}
