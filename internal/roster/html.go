package roster

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Column positions of the roster table.
const (
	dateColumn  = 0
	slot1Column = 3
	slot2Column = 4
)

// ExtractRows reads a rendered roster page and returns its schedule rows.
// Rows without a date cell are skipped.
func ExtractRows(r io.Reader) ([]RawRow, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse roster html: %w", err)
	}

	var rows []RawRow
	for _, tr := range findAll(doc, isBodyRow) {
		cells := children(tr, atom.Td, atom.Th)
		if len(cells) <= dateColumn {
			continue
		}

		row := RawRow{
			DateText: strings.TrimSpace(textContent(cells[dateColumn])),
			Editable: len(textInputs(tr)) > 0,
		}
		for _, col := range []int{slot1Column, slot2Column} {
			if col >= len(cells) {
				continue
			}
			cell := cells[col]
			slot := RawSlot{Text: strings.TrimSpace(textContent(cell))}
			for _, in := range textInputs(cell) {
				slot.Inputs = append(slot.Inputs, attr(in, "value"))
			}
			row.Slots = append(row.Slots, slot)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// isBodyRow matches "table tbody tr".
func isBodyRow(n *html.Node) bool {
	if n.Type != html.ElementNode || n.DataAtom != atom.Tr {
		return false
	}
	var inBody bool
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		switch p.DataAtom {
		case atom.Tbody:
			inBody = true
		case atom.Table:
			return inBody
		}
	}
	return false
}

func isTextInput(n *html.Node) bool {
	return n.Type == html.ElementNode && n.DataAtom == atom.Input &&
		strings.EqualFold(attr(n, "type"), "text")
}

func textInputs(n *html.Node) []*html.Node {
	return findAll(n, isTextInput)
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func children(n *html.Node, atoms ...atom.Atom) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		for _, a := range atoms {
			if c.DataAtom == a {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
