package markup

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// reservedAttrOrder lists the attributes processed in a fixed order by the renderer, matched
// case-insensitively like every other identifier in this grammar.
var reservedAttrOrder = []string{"import", "init", "def", "test", "each", "params", "bind", "marker", "clear-on-unmount"}

func isReservedAttr(key string) bool {
	for _, r := range reservedAttrOrder {
		if strings.EqualFold(r, key) {
			return true
		}
	}
	return false
}

// Parser builds a Node tree from a declarative document using golang.org/x/net/html's
// tokenizer. It does not reconstruct HTML5's insertion-mode/scope-stop-tag state machine:
// that machinery exists to handle implicit tag closing inside full documents (tables,
// formatting elements); the declarative grammar has no such cases, so a well-formed
// explicit-close tag stream is all authors are expected to write and a direct token-driven
// stack suffices.
type Parser struct {
	tok  *html.Tokenizer
	file string
	doc  *Node
	oe   nodeStack
}

// NewParser creates a Parser reading from r, tagging spans with file for diagnostics.
func NewParser(r io.Reader, file string) *Parser {
	return &Parser{tok: html.NewTokenizer(r), file: file}
}

// Parse consumes the input and returns the document root.
func (p *Parser) Parse() (*Node, error) {
	p.doc = &Node{Type: DocumentNode}
	p.oe.push(p.doc)

	for {
		tt := p.tok.Next()
		switch tt {
		case html.ErrorToken:
			if err := p.tok.Err(); err != nil && err != io.EOF {
				return nil, err
			}
			if len(p.oe) > 1 {
				return nil, &StructuralViolation{Msg: fmt.Sprintf("unclosed tag %q", p.oe.top().Tag)}
			}
			assignAllSourceIndices(p.doc)
			return p.doc, nil

		case html.TextToken:
			text := string(p.tok.Text())
			if strings.TrimSpace(text) == "" {
				continue
			}
			n := &Node{Type: TextNode, Data: text, Span: p.span()}
			p.oe.top().AppendChild(n)

		case html.CommentToken:
			n := &Node{Type: CommentNode, Data: string(p.tok.Text()), Span: p.span()}
			p.oe.top().AppendChild(n)

		case html.StartTagToken, html.SelfClosingTagToken:
			n, err := p.buildElement()
			if err != nil {
				return nil, err
			}
			p.oe.top().AppendChild(n)
			if tt == html.StartTagToken {
				p.oe.push(n)
			}

		case html.EndTagToken:
			name, _ := p.tok.TagName()
			if err := p.closeTo(string(name)); err != nil {
				return nil, err
			}

		case html.DoctypeToken:
			// Not meaningful inside a declarative subtree; ignored.
		}
	}
}

// span returns a source location tagged with the parser's file name. The tokenizer does not
// expose line/column tracking, so finer-grained position info is left zero; NodeError still
// reports the document path, just not a caret position.
func (p *Parser) span() Span {
	return Span{File: p.file}
}

func (p *Parser) closeTo(name string) error {
	for i := len(p.oe) - 1; i > 0; i-- {
		if strings.EqualFold(p.oe[i].Tag, name) {
			p.oe = p.oe[:i]
			return nil
		}
	}
	return &StructuralViolation{Msg: fmt.Sprintf("end tag %q without matching start tag", name)}
}

func (p *Parser) buildElement() (*Node, error) {
	name, hasAttr := p.tok.TagName()
	tag := string(name)
	n := &Node{Tag: tag, Span: p.span()}
	n.Type = classifyTag(tag)
	if n.Type == DefNode || n.Type == SlotNode {
		n.DefName = tag[:strings.IndexByte(tag, ':')]
	}

	for hasAttr {
		var key, val []byte
		key, val, hasAttr = p.tok.TagAttr()
		k := string(key)
		v := string(val)
		if err := assignReservedOrAttr(n, k, v); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// classifyTag determines a node's structural NodeType from its tag name: <When>/<Else>,
// <Loop>, <Url>, and the "Name:Template"/"Name:Slot" component suffix convention. The
// tokenizer lower-cases tag names, so suffix matching folds case too.
func classifyTag(tag string) NodeType {
	lower := strings.ToLower(tag)
	switch {
	case lower == "when":
		return WhenNode
	case lower == "else":
		return ElseNode
	case lower == "loop":
		return LoopNode
	case lower == "url":
		return URLNode
	case strings.HasSuffix(lower, ":template"):
		return DefNode
	case strings.HasSuffix(lower, ":slot"):
		return SlotNode
	default:
		return ElementNode
	}
}

func assignReservedOrAttr(n *Node, key, val string) error {
	switch {
	case strings.EqualFold(key, "test"):
		n.Cond = val
	case strings.EqualFold(key, "each"):
		n.Each = val
	default:
		n.Attr = append(n.Attr, Attribute{Key: key, Val: val, Span: n.Span})
	}
	return nil
}

// assignAllSourceIndices walks the whole tree assigning each node's "TAG#INDEX" fallback
// segment via AssignSourceIndices.
func assignAllSourceIndices(n *Node) {
	indices := AssignSourceIndices(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		c.SourceIndex = indices[c]
		assignAllSourceIndices(c)
	}
}
