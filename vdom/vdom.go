// Package vdom is a small keyed virtual-DOM diff/patch engine: it turns a freshly rendered
// tree into the set of patches a connected browser has to apply to its DOM mirror. Nodes are
// keyed by the structural identifier the renderer assigns, which is stable across renders, so
// the diff matches nodes by identity rather than by tree position or content hash.
package vdom

import (
	"reflect"
	"sort"
)

// NodeType discriminates the kinds of node a rendered tree can contain.
type NodeType int

const (
	Element NodeType = iota
	Text
	Fragment
)

// Node is one element of the rendered output tree, keyed by the SID the renderer assigned it.
type Node struct {
	Type     NodeType
	Key      string // SID string
	Tag      string
	Props    map[string]any
	Handlers map[string]string // attribute name ("onclick") -> bound effect expression text
	Children []*Node
	Text     string
}

// Elem constructs an element node.
func Elem(key, tag string, props map[string]any, children ...*Node) *Node {
	return &Node{Type: Element, Key: key, Tag: tag, Props: props, Children: children}
}

// TextNode constructs a text node.
func TextNode(key, text string) *Node {
	return &Node{Type: Text, Key: key, Text: text}
}

// FragmentNode constructs a container whose children splice directly into the parent, the
// shape Loop/conditional expansion produces: iteration yields a flat list of children, not a
// wrapper element.
func FragmentNode(key string, children ...*Node) *Node {
	return &Node{Type: Fragment, Key: key, Children: children}
}

// PatchType enumerates the patch operations a Diff pass can emit.
type PatchType int

const (
	PatchCreate PatchType = iota
	PatchRemove
	PatchReplace
	PatchUpdateText
	PatchUpdateProps
	PatchReorder
)

// Patch is one instruction in the stream sent to the connected browser.
type Patch struct {
	Type     PatchType
	ParentKey string
	Key      string
	Node     *Node          // for Create/Replace
	Text     string         // for UpdateText
	Props    map[string]any // for UpdateProps: new/changed props only
	Removed  []string       // for UpdateProps: prop names removed
	Order    []string       // for Reorder: new child-key order
}

// Diff compares oldTree against newTree and returns the patch stream that brings a mirror of
// oldTree to newTree. A nil oldTree means "nothing mounted yet" and produces a single Create.
func Diff(oldTree, newTree *Node) []Patch {
	var patches []Patch
	diffNode("", oldTree, newTree, &patches)
	return patches
}

func diffNode(parentKey string, oldN, newN *Node, patches *[]Patch) {
	switch {
	case oldN == nil && newN == nil:
		return
	case oldN == nil:
		*patches = append(*patches, Patch{Type: PatchCreate, ParentKey: parentKey, Key: newN.Key, Node: newN})
		return
	case newN == nil:
		*patches = append(*patches, Patch{Type: PatchRemove, ParentKey: parentKey, Key: oldN.Key})
		return
	}

	if oldN.Type != newN.Type || oldN.Tag != newN.Tag || oldN.Key != newN.Key {
		*patches = append(*patches, Patch{Type: PatchReplace, ParentKey: parentKey, Key: newN.Key, Node: newN})
		return
	}

	switch newN.Type {
	case Text:
		if oldN.Text != newN.Text {
			*patches = append(*patches, Patch{Type: PatchUpdateText, ParentKey: parentKey, Key: newN.Key, Text: newN.Text})
		}
	case Element:
		if p, removed := diffProps(oldN.Props, newN.Props); len(p) > 0 || len(removed) > 0 {
			*patches = append(*patches, Patch{Type: PatchUpdateProps, ParentKey: parentKey, Key: newN.Key, Props: p, Removed: removed})
		}
	}

	diffChildren(newN.Key, oldN.Children, newN.Children, patches)
}

func diffProps(oldP, newP map[string]any) (changed map[string]any, removed []string) {
	changed = make(map[string]any)
	for k, v := range newP {
		if ov, ok := oldP[k]; !ok || !equalProp(ov, v) {
			changed[k] = v
		}
	}
	for k := range oldP {
		if _, ok := newP[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	return
}

// equalProp compares two prop values. Props may hold composite values (a map or slice bound
// through a whole-expression attribute), and `==` panics on those, so anything non-comparable
// goes through reflect.DeepEqual.
func equalProp(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// diffChildren performs a keyed diff: children present in both trees under the same key are
// recursively diffed in place; children only in oldN are removed; children only in newN are
// created; if the surviving keys' relative order changed, a single Reorder patch carries the
// new order (cheaper than a Remove/Create pair per displaced node).
func diffChildren(parentKey string, oldC, newC []*Node, patches *[]Patch) {
	oldByKey := make(map[string]*Node, len(oldC))
	for _, c := range oldC {
		oldByKey[c.Key] = c
	}
	newByKey := make(map[string]*Node, len(newC))
	for _, c := range newC {
		newByKey[c.Key] = c
	}

	for _, oc := range oldC {
		if _, ok := newByKey[oc.Key]; !ok {
			*patches = append(*patches, Patch{Type: PatchRemove, ParentKey: parentKey, Key: oc.Key})
		}
	}

	var survivingOldOrder, survivingNewOrder []string
	for _, nc := range newC {
		oc, existed := oldByKey[nc.Key]
		if !existed {
			*patches = append(*patches, Patch{Type: PatchCreate, ParentKey: parentKey, Key: nc.Key, Node: nc})
			continue
		}
		survivingNewOrder = append(survivingNewOrder, nc.Key)
		diffNode(parentKey, oc, nc, patches)
	}
	for _, oc := range oldC {
		if _, ok := newByKey[oc.Key]; ok {
			survivingOldOrder = append(survivingOldOrder, oc.Key)
		}
	}

	if !sameOrder(survivingOldOrder, survivingNewOrder) {
		*patches = append(*patches, Patch{Type: PatchReorder, ParentKey: parentKey, Order: survivingNewOrder})
	}
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
