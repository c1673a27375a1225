// Package codec converts rich text carrying inline codes into the two flat
// fields a segment is stored with: plain text and a codes descriptor.
//
// The codes descriptor is a JSON array, one element per tag, in tag order:
//
//	[{"p":6,"k":"o","i":1,"m":"<b>"},{"p":11,"k":"c","i":1,"m":"</b>"}]
//
// "p" is the rune offset of the tag in the plain text, "k" the tag kind
// (o=open, c=close, p=placeholder), "i" the tag identifier and "m" the
// original markup. Tags sharing an offset keep their relative order.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	apierrors "github.com/maruel/tmdb/internal/errors"
)

// TagKind is the kind of an inline tag.
type TagKind uint8

const (
	// Open starts a paired tag.
	Open TagKind = iota + 1
	// Close ends a paired tag.
	Close
	// Placeholder is a standalone tag.
	Placeholder
)

func (k TagKind) String() string {
	switch k {
	case Open:
		return "open"
	case Close:
		return "close"
	case Placeholder:
		return "placeholder"
	default:
		return fmt.Sprintf("TagKind(%d)", uint8(k))
	}
}

func (k TagKind) code() string {
	switch k {
	case Open:
		return "o"
	case Close:
		return "c"
	default:
		return "p"
	}
}

func parseKind(s string) (TagKind, bool) {
	switch s {
	case "o":
		return Open, true
	case "c":
		return Close, true
	case "p":
		return Placeholder, true
	default:
		return 0, false
	}
}

// Tag is one inline code.
type Tag struct {
	Kind   TagKind
	ID     int
	Markup string
}

// Run is either a piece of text or a tag. A zero Tag.Kind means text.
type Run struct {
	Text string
	Tag  Tag
}

// IsTag reports whether the run is a tag.
func (r Run) IsTag() bool {
	return r.Tag.Kind != 0
}

// RichText is an ordered sequence of text and tag runs.
type RichText struct {
	Runs []Run
}

// AppendText appends a text run.
func (rt *RichText) AppendText(s string) *RichText {
	if s != "" {
		rt.Runs = append(rt.Runs, Run{Text: s})
	}
	return rt
}

// AppendTag appends a tag run.
func (rt *RichText) AppendTag(kind TagKind, id int, markup string) *RichText {
	rt.Runs = append(rt.Runs, Run{Tag: Tag{Kind: kind, ID: id, Markup: markup}})
	return rt
}

// Plain returns the text without tags.
func (rt *RichText) Plain() string {
	var b strings.Builder
	for _, r := range rt.Runs {
		if !r.IsTag() {
			b.WriteString(r.Text)
		}
	}
	return b.String()
}

// Tags returns the tags in order.
func (rt *RichText) Tags() []Tag {
	var tags []Tag
	for _, r := range rt.Runs {
		if r.IsTag() {
			tags = append(tags, r.Tag)
		}
	}
	return tags
}

// Markup returns the text with each tag's original markup inlined.
func (rt *RichText) Markup() string {
	var b strings.Builder
	for _, r := range rt.Runs {
		if r.IsTag() {
			b.WriteString(r.Tag.Markup)
		} else {
			b.WriteString(r.Text)
		}
	}
	return b.String()
}

// Normalize returns a copy with adjacent text runs merged and empty text runs
// dropped.
func (rt *RichText) Normalize() RichText {
	var out RichText
	for _, r := range rt.Runs {
		if r.IsTag() {
			out.Runs = append(out.Runs, r)
			continue
		}
		if r.Text == "" {
			continue
		}
		if n := len(out.Runs); n > 0 && !out.Runs[n-1].IsTag() {
			out.Runs[n-1].Text += r.Text
			continue
		}
		out.Runs = append(out.Runs, r)
	}
	return out
}

// Equal reports whether two rich texts have the same text and tag sequence.
func Equal(a, b RichText) bool {
	na, nb := a.Normalize(), b.Normalize()
	if len(na.Runs) != len(nb.Runs) {
		return false
	}
	for i := range na.Runs {
		if na.Runs[i] != nb.Runs[i] {
			return false
		}
	}
	return true
}

type code struct {
	Pos    int    `json:"p"`
	Kind   string `json:"k"`
	ID     int    `json:"i"`
	Markup string `json:"m,omitempty"`
}

// Encode splits rt into its plain text and codes descriptor. The descriptor is
// empty when rt has no tags.
func Encode(rt RichText) (text, codes string) {
	var b strings.Builder
	var cs []code
	pos := 0
	for _, r := range rt.Runs {
		if r.IsTag() {
			cs = append(cs, code{Pos: pos, Kind: r.Tag.Kind.code(), ID: r.Tag.ID, Markup: r.Tag.Markup})
			continue
		}
		b.WriteString(r.Text)
		pos += utf8.RuneCountInString(r.Text)
	}
	if len(cs) == 0 {
		return b.String(), ""
	}
	var out strings.Builder
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	// Encoding a slice of plain structs cannot fail.
	_ = enc.Encode(cs)
	return b.String(), strings.TrimSuffix(out.String(), "\n")
}

// Decode rebuilds the rich text from its plain text and codes descriptor.
func Decode(text, codes string) (RichText, error) {
	var rt RichText
	if codes == "" {
		rt.AppendText(text)
		return rt, nil
	}
	var cs []code
	if err := json.Unmarshal([]byte(codes), &cs); err != nil {
		return RichText{}, apierrors.BadRequest("invalid codes descriptor: %v", err)
	}
	runes := []rune(text)
	last := 0
	for i, c := range cs {
		kind, ok := parseKind(c.Kind)
		if !ok {
			return RichText{}, apierrors.BadRequest("invalid codes descriptor: code %d has kind %q", i, c.Kind)
		}
		if c.Pos < last || c.Pos > len(runes) {
			return RichText{}, apierrors.BadRequest("invalid codes descriptor: code %d at offset %d out of range", i, c.Pos)
		}
		rt.AppendText(string(runes[last:c.Pos]))
		rt.AppendTag(kind, c.ID, c.Markup)
		last = c.Pos
	}
	rt.AppendText(string(runes[last:]))
	return rt, nil
}
