package vdom

import (
	"fmt"
	"html"
	"io"
	"sort"
)

// WriteHTML serializes n as plain HTML, for a document's first, pre-websocket response. Every
// element carries a data-sid attribute so the client script can correlate DOM nodes with the
// SIDs the subsequent patch stream refers to.
func WriteHTML(w io.Writer, n *Node) error {
	if n == nil {
		return nil
	}
	switch n.Type {
	case Text:
		_, err := io.WriteString(w, html.EscapeString(n.Text))
		return err
	case Fragment:
		for _, c := range n.Children {
			if err := WriteHTML(w, c); err != nil {
				return err
			}
		}
		return nil
	case Element:
		if _, err := fmt.Fprintf(w, "<%s data-sid=%q", n.Tag, n.Key); err != nil {
			return err
		}
		keys := make([]string, 0, len(n.Props))
		for k := range n.Props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err := fmt.Fprintf(w, " %s=%q", k, html.EscapeString(fmt.Sprint(n.Props[k]))); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, ">"); err != nil {
			return err
		}
		for _, c := range n.Children {
			if err := WriteHTML(w, c); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, "</%s>", n.Tag)
		return err
	}
	return nil
}
