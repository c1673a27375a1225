// Package strdiff computes a minimal character edit script between two
// strings and renders it as inline <ins>/<del> markup.
package strdiff

import (
	"html"
	"strings"
)

// Op is the kind of an edit.
type Op uint8

const (
	// Equal keeps text present in both strings.
	Equal Op = iota
	// Delete removes text present only in the first string.
	Delete
	// Insert adds text present only in the second string.
	Insert
)

// Edit is a run of consecutive runes sharing the same operation.
type Edit struct {
	Op   Op
	Text string
}

// Diff returns the shortest edit script turning a into b, derived from a
// longest common subsequence over runes. When several scripts are minimal, a
// deletion is emitted before an insertion at the same position.
func Diff(a, b string) []Edit {
	ra, rb := []rune(a), []rune(b)

	// The common prefix is always matched first; skip it to shrink the table.
	p := 0
	for p < len(ra) && p < len(rb) && ra[p] == rb[p] {
		p++
	}
	var edits []Edit
	if p > 0 {
		edits = appendEdit(edits, Equal, ra[:p])
	}
	ra, rb = ra[p:], rb[p:]
	n, m := len(ra), len(rb)
	if n == 0 || m == 0 {
		edits = appendEdit(edits, Delete, ra)
		return appendEdit(edits, Insert, rb)
	}

	// lcs[i*(m+1)+j] is the LCS length of ra[i:] and rb[j:].
	w := m + 1
	lcs := make([]int32, (n+1)*w)
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case ra[i] == rb[j]:
				lcs[i*w+j] = lcs[(i+1)*w+j+1] + 1
			case lcs[(i+1)*w+j] >= lcs[i*w+j+1]:
				lcs[i*w+j] = lcs[(i+1)*w+j]
			default:
				lcs[i*w+j] = lcs[i*w+j+1]
			}
		}
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case ra[i] == rb[j]:
			edits = appendEdit(edits, Equal, ra[i:i+1])
			i++
			j++
		case lcs[(i+1)*w+j] >= lcs[i*w+j+1]:
			edits = appendEdit(edits, Delete, ra[i:i+1])
			i++
		default:
			edits = appendEdit(edits, Insert, rb[j:j+1])
			j++
		}
	}
	edits = appendEdit(edits, Delete, ra[i:])
	return appendEdit(edits, Insert, rb[j:])
}

// appendEdit appends text to edits, merging it into the last edit when the
// operation matches.
func appendEdit(edits []Edit, op Op, text []rune) []Edit {
	if len(text) == 0 {
		return edits
	}
	if n := len(edits); n > 0 && edits[n-1].Op == op {
		edits[n-1].Text += string(text)
		return edits
	}
	return append(edits, Edit{Op: op, Text: string(text)})
}

// Render returns the diff of a and b as markup: deleted runs are wrapped in
// <del></del>, inserted runs in <ins></ins>, common runs are left as is. The
// text itself is not escaped.
func Render(a, b string) string {
	return RenderEdits(Diff(a, b))
}

// RenderHTML is like Render but HTML-escapes the text of every run, so the
// result can be embedded in a page.
func RenderHTML(a, b string) string {
	return render(Diff(a, b), html.EscapeString)
}

// RenderEdits renders an edit script as markup.
func RenderEdits(edits []Edit) string {
	return render(edits, func(s string) string { return s })
}

func render(edits []Edit, text func(string) string) string {
	var sb strings.Builder
	for _, e := range edits {
		switch e.Op {
		case Delete:
			sb.WriteString("<del>")
			sb.WriteString(text(e.Text))
			sb.WriteString("</del>")
		case Insert:
			sb.WriteString("<ins>")
			sb.WriteString(text(e.Text))
			sb.WriteString("</ins>")
		default:
			sb.WriteString(text(e.Text))
		}
	}
	return sb.String()
}
