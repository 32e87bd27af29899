package markup

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// SID is a stable structural identifier assigned to every rendered node. It is computed from
// the parent SID, the node's source position, and - for a node that is an immediate child of an
// iteration expansion - the row's marker, never from the node's position in the rendered
// output. That source-position rule is what keeps a sibling's SID unaffected by a conditional
// branch flipping or an iteration changing row count.
type SID string

// ComputeSID derives a child SID from its parent, per the algorithm in the data model: hash of
// (parentSID, segment, iterationKey). segment is either an explicit marker attribute's value or
// the "TAG#INDEX" source-position fallback; iterationKey is empty outside an iteration
// expansion.
func ComputeSID(parent SID, segment string, iterationKey string) SID {
	h := sha1.New()
	h.Write([]byte(parent))
	h.Write([]byte{0})
	h.Write([]byte(segment))
	h.Write([]byte{0})
	h.Write([]byte(iterationKey))
	return SID(hex.EncodeToString(h.Sum(nil))[:16])
}

// SourceSegment computes the "TAG#INDEX" fallback segment used when a node carries no explicit
// marker attribute: INDEX is the node's ordinal position among its source siblings sharing the
// same tag, assigned once during parsing and stored on the Node so every render pass agrees on
// it regardless of which siblings actually end up rendering.
func SourceSegment(tag string, indexAmongSameTag int) string {
	return fmt.Sprintf("%s#%d", tag, indexAmongSameTag)
}

// nodeSegment returns the SID segment for n: its explicit marker="" attribute value if
// present, else the TAG#INDEX source-position fallback.
func nodeSegment(n *Node) string {
	if m, ok := n.AttrFold("marker"); ok {
		return m
	}
	return SourceSegment(n.Tag, n.SourceIndex)
}

// AssignSourceIndices walks n's children, in source order, and returns a map from each child
// to its 0-based index among siblings that share its tag - the positional half of the SID
// segment, computed once at parse time so it never depends on what renders.
func AssignSourceIndices(n *Node) map[*Node]int {
	counts := make(map[string]int)
	indices := make(map[*Node]int)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		key := c.Tag
		indices[c] = counts[key]
		counts[key]++
	}
	return indices
}
