package tmx

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/maruel/tmdb/internal/codec"
)

// seg is the content of a <seg> element.
type seg struct {
	rt codec.RichText
}

// UnmarshalXML maps <bpt>, <ept>, <it>, <ph> and <ut> to tags and keeps the
// content of <hi> as text.
func (s *seg) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	auto := 0
	return readInline(d, &s.rt, &auto)
}

func readInline(d *xml.Decoder, rt *codec.RichText, auto *int) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			rt.AppendText(string(t))
		case xml.EndElement:
			return nil
		case xml.StartElement:
			var kind codec.TagKind
			var id int
			switch t.Name.Local {
			case "bpt":
				kind, id = codec.Open, tagID(t, "i", auto)
			case "ept":
				kind, id = codec.Close, tagID(t, "i", auto)
			case "ph", "ut":
				kind, id = codec.Placeholder, tagID(t, "x", auto)
			case "it":
				kind, id = codec.Placeholder, tagID(t, "x", auto)
				switch attr(t, "pos") {
				case "begin":
					kind = codec.Open
				case "end":
					kind = codec.Close
				}
			case "hi":
				if err := readInline(d, rt, auto); err != nil {
					return err
				}
				continue
			default:
				if err := d.Skip(); err != nil {
					return err
				}
				continue
			}
			markup, err := nativeCode(d)
			if err != nil {
				return err
			}
			rt.AppendTag(kind, id, markup)
		}
	}
}

// nativeCode returns the character data of the current element, ignoring
// nested <sub> elements.
func nativeCode(d *xml.Decoder) (string, error) {
	var b strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			if err := d.Skip(); err != nil {
				return "", err
			}
		case xml.EndElement:
			return b.String(), nil
		}
	}
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// tagID returns the numeric attribute name, or a generated identifier when
// it is absent or not a number.
func tagID(t xml.StartElement, name string, auto *int) int {
	if n, err := strconv.Atoi(attr(t, name)); err == nil {
		return n
	}
	*auto++
	return -*auto
}

// MarshalXML writes text as character data and tags as <bpt>, <ept> and
// <ph> holding the original markup.
func (s seg) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, r := range s.rt.Runs {
		if !r.IsTag() {
			if err := e.EncodeToken(xml.CharData(r.Text)); err != nil {
				return err
			}
			continue
		}
		name, idAttr := "ph", "x"
		switch r.Tag.Kind {
		case codec.Open:
			name, idAttr = "bpt", "i"
		case codec.Close:
			name, idAttr = "ept", "i"
		}
		el := xml.StartElement{
			Name: xml.Name{Local: name},
			Attr: []xml.Attr{{Name: xml.Name{Local: idAttr}, Value: strconv.Itoa(r.Tag.ID)}},
		}
		if err := e.EncodeElement(r.Tag.Markup, el); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}
