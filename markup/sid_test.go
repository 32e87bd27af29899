package markup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeSID_DeterministicAndSensitiveToInputs(t *testing.T) {
	a := ComputeSID("root", "div#0", "")
	b := ComputeSID("root", "div#0", "")
	require.Equal(t, a, b, "ComputeSID must be deterministic")

	require.NotEqual(t, a, ComputeSID("root", "div#1", ""), "different source segments produced the same SID")
	require.NotEqual(t, a, ComputeSID("other", "div#0", ""), "different parents produced the same SID")
	require.NotEqual(t, a, ComputeSID("root", "div#0", "row-1"), "different iteration keys produced the same SID")
}

// TestSID_NeighborStability exercises the neighbor-stability invariant: siblings A and C of a conditional
// (or iteration) sibling B keep the same SID regardless of whether B renders, and regardless of
// how many rows an iteration next to them produces - because SourceSegment is computed from each
// node's fixed parse-time position, never from its position among what actually rendered.
func TestSID_NeighborStability(t *testing.T) {
	parent := &Node{Tag: "div"}
	a := &Node{Tag: "span", Parent: parent}
	b := &Node{Tag: "When", Parent: parent}
	c := &Node{Tag: "p", Parent: parent}
	parent.FirstChild, parent.LastChild = a, c
	a.NextSibling, b.PrevSibling = b, a
	b.NextSibling, c.PrevSibling = c, b

	indices := AssignSourceIndices(parent)
	a.SourceIndex, b.SourceIndex, c.SourceIndex = indices[a], indices[b], indices[c]

	const root SID = "root-sid"
	sidA := ComputeSID(root, nodeSegment(a), "")
	sidCWithB := ComputeSID(root, nodeSegment(c), "")

	// Remove B (simulating its conditional not matching this render) and recompute A/C: their
	// SourceIndex values, assigned once at parse time, are untouched by B's absence from the
	// rendered list, so their SIDs must not move.
	parent.RemoveChild(b)
	sidAAfter := ComputeSID(root, nodeSegment(a), "")
	sidCAfter := ComputeSID(root, nodeSegment(c), "")

	require.Equal(t, sidA, sidAAfter, "sibling A's SID changed when B's branch toggled")
	require.Equal(t, sidCWithB, sidCAfter, "sibling C's SID changed when B's branch toggled")
}

func TestNodeSegment_PrefersExplicitMarker(t *testing.T) {
	n := &Node{Tag: "div", SourceIndex: 3, Attr: []Attribute{{Key: "marker", Val: "row-7"}}}
	require.Equal(t, "row-7", nodeSegment(n))

	plain := &Node{Tag: "div", SourceIndex: 3}
	require.Equal(t, SourceSegment("div", 3), nodeSegment(plain))
}

func TestAssignSourceIndices_PerTagCounters(t *testing.T) {
	parent := &Node{Tag: "ul"}
	var kids []*Node
	for _, tag := range []string{"li", "li", "span", "li"} {
		c := &Node{Tag: tag}
		parent.AppendChild(c)
		kids = append(kids, c)
	}
	indices := AssignSourceIndices(parent)
	want := []int{0, 1, 0, 2}
	for i, k := range kids {
		require.Equal(t, want[i], indices[k], "child %d (%s)", i, k.Tag)
	}
}
