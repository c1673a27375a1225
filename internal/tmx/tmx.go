// Package tmx reads and writes TMX 1.4 documents.
//
// Each <tu> maps to one segment record. <tu> properties become unit
// attributes and <tuv> properties become locale attributes (Name~LOC). The
// record flag travels as the x-flag property and records sharing a
// translation unit carry the same x-turef property. Inline <bpt>, <ept>,
// <it>, <ph> and <ut> elements map to codec tags.
package tmx

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/maruel/tmdb/internal/codec"
	apierrors "github.com/maruel/tmdb/internal/errors"
	"github.com/maruel/tmdb/internal/tm"
)

// Reserved property types.
const (
	PropFlag  = "x-flag"
	PropTURef = "x-turef"
)

type header struct {
	CreationTool        string `xml:"creationtool,attr"`
	CreationToolVersion string `xml:"creationtoolversion,attr"`
	SegType             string `xml:"segtype,attr"`
	OTMF                string `xml:"o-tmf,attr"`
	AdminLang           string `xml:"adminlang,attr"`
	SrcLang             string `xml:"srclang,attr"`
	DataType            string `xml:"datatype,attr"`
	CreationDate        string `xml:"creationdate,attr,omitempty"`
	Props               []prop `xml:"prop"`
}

type prop struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type tu struct {
	TUID  string `xml:"tuid,attr,omitempty"`
	Props []prop `xml:"prop"`
	TUVs  []tuv  `xml:"tuv"`
}

// tuv reads both xml:lang and the TMX 1.1 lang attribute.
type tuv struct {
	Lang  string `xml:"lang,attr"`
	Props []prop `xml:"prop"`
	Seg   seg    `xml:"seg"`
}

type tuOut struct {
	XMLName xml.Name `xml:"tu"`
	TUID    string   `xml:"tuid,attr,omitempty"`
	Props   []prop   `xml:"prop"`
	TUVs    []tuvOut `xml:"tuv"`
}

type tuvOut struct {
	Lang  string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
	Props []prop `xml:"prop"`
	Seg   seg    `xml:"seg"`
}

// Stats summarizes an import.
type Stats struct {
	Units   int
	Records int
	// Skipped counts properties that cannot name an attribute.
	Skipped int
}

// Import adds one record per <tu> of r to imp.
func Import(ctx context.Context, r io.Reader, imp *tm.Import) (Stats, error) {
	var st Stats
	d := xml.NewDecoder(r)
	units := map[string]int64{}
	seen := false
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, apierrors.BadRequest("invalid TMX: %v", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "tmx":
			seen = true
			continue
		case "tu":
		default:
			continue
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}
		var u tu
		if err := d.DecodeElement(&u, &se); err != nil {
			return st, apierrors.BadRequest("invalid TMX: %v", err)
		}
		if err := addUnit(imp, &u, units, &st); err != nil {
			return st, err
		}
	}
	if !seen {
		return st, apierrors.BadRequest("invalid TMX: no <tmx> element")
	}
	st.Units = len(units)
	return st, nil
}

func addUnit(imp *tm.Import, u *tu, units map[string]int64, st *Stats) error {
	tuFields := map[string]tm.Value{}
	segFields := map[string]tm.Value{}
	ref := ""
	for _, p := range u.Props {
		switch p.Type {
		case PropFlag:
			b, err := strconv.ParseBool(strings.TrimSpace(p.Value))
			if err != nil {
				return apierrors.BadRequest("invalid %s property %q", PropFlag, p.Value)
			}
			segFields[tm.FieldFlag] = tm.BoolValue(b)
		case PropTURef:
			ref = strings.TrimSpace(p.Value)
		default:
			if !attributeName(p.Type) {
				st.Skipped++
				continue
			}
			tuFields[p.Type] = tm.StringValue(p.Value)
		}
	}
	for _, v := range u.TUVs {
		loc := tm.CanonicalLocale(v.Lang)
		if loc == "" {
			return apierrors.BadRequest("<tuv> without a language")
		}
		text, codes := codec.Encode(v.Seg.rt)
		segFields[tm.TextField(loc)] = tm.StringValue(text)
		if codes != "" {
			segFields[tm.CodesField(loc)] = tm.StringValue(codes)
		}
		for _, p := range v.Props {
			if !attributeName(p.Type) {
				st.Skipped++
				continue
			}
			segFields[p.Type+tm.LocaleSep+loc] = tm.StringValue(p.Value)
		}
	}
	tuKey := int64(-1)
	if ref != "" {
		if k, ok := units[ref]; ok {
			tuKey = k
		}
	}
	key, err := imp.AddRecord(tuKey, tuFields, segFields)
	if err != nil {
		return err
	}
	st.Records++
	if ref == "" {
		ref = "\x00" + strconv.FormatInt(key, 10)
	}
	if _, ok := units[ref]; !ok {
		row, err := imp.Record(key)
		if err != nil {
			return err
		}
		units[ref] = row.TUKey()
	}
	return nil
}

// attributeName reports whether a property type can be stored as a plain
// attribute.
func attributeName(name string) bool {
	if name == "" || strings.Contains(name, tm.LocaleSep) {
		return false
	}
	f, err := tm.ParseField(name)
	return err == nil && f.Kind == tm.FieldAttribute
}

// ExportOptions configures Export.
type ExportOptions struct {
	Tool    string
	Version string
	Logger  *slog.Logger
}

// Export writes every record of snap as TMX 1.4.
func Export(ctx context.Context, w io.Writer, snap *tm.Snapshot, opts *ExportOptions) error {
	o := ExportOptions{Tool: "tmdb", Version: "1"}
	if opts != nil {
		if opts.Tool != "" {
			o.Tool = opts.Tool
		}
		if opts.Version != "" {
			o.Version = opts.Version
		}
		o.Logger = opts.Logger
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	schema := snap.Schema()
	var unitAttrs []tm.FieldDescriptor
	localeAttrs := map[string][]tm.FieldDescriptor{}
	for _, f := range schema.Fields() {
		if f.Kind != tm.FieldAttribute {
			continue
		}
		if f.TULevel() {
			unitAttrs = append(unitAttrs, f)
		} else {
			localeAttrs[f.Locale] = append(localeAttrs[f.Locale], f)
		}
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return apierrors.Storage("failed to write TMX", err)
	}
	e := xml.NewEncoder(w)
	nl := xml.CharData("\n")
	root := xml.StartElement{Name: xml.Name{Local: "tmx"}, Attr: []xml.Attr{{Name: xml.Name{Local: "version"}, Value: "1.4"}}}
	body := xml.StartElement{Name: xml.Name{Local: "body"}}
	h := header{
		CreationTool:        o.Tool,
		CreationToolVersion: o.Version,
		SegType:             "sentence",
		OTMF:                "tmdb",
		AdminLang:           "en-us",
		SrcLang:             tm.LocaleTag(schema.SourceLocale()),
		DataType:            "plaintext",
		CreationDate:        time.Now().UTC().Format("20060102T150405Z"),
	}
	err := errors.Join(
		e.EncodeToken(root), e.EncodeToken(nl),
		e.EncodeElement(h, xml.StartElement{Name: xml.Name{Local: "header"}}), e.EncodeToken(nl),
		e.EncodeToken(body), e.EncodeToken(nl),
	)
	if err != nil {
		return apierrors.Storage("failed to write TMX", err)
	}
	n := 0
	for _, row := range snap.Rows() {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := exportRow(row, schema, unitAttrs, localeAttrs)
		if err != nil {
			return err
		}
		if err := errors.Join(e.Encode(out), e.EncodeToken(nl)); err != nil {
			return apierrors.Storage("failed to write TMX", err)
		}
		n++
	}
	if err := errors.Join(e.EncodeToken(body.End()), e.EncodeToken(nl), e.EncodeToken(root.End()), e.Flush()); err != nil {
		return apierrors.Storage("failed to write TMX", err)
	}
	o.Logger.DebugContext(ctx, "tmx: exported", "tm", snap.Metadata().Name, "records", n)
	return nil
}

func exportRow(row tm.Row, schema *tm.Schema, unitAttrs []tm.FieldDescriptor, localeAttrs map[string][]tm.FieldDescriptor) (*tuOut, error) {
	out := &tuOut{TUID: strconv.FormatInt(row.Key(), 10)}
	if v, _ := row.Value(tm.FieldFlag); !v.IsNull() {
		out.Props = append(out.Props, prop{Type: PropFlag, Value: v.String()})
	}
	out.Props = append(out.Props, prop{Type: PropTURef, Value: strconv.FormatInt(row.TUKey(), 10)})
	for _, f := range unitAttrs {
		if v, _ := row.Value(f.Name); !v.IsNull() {
			out.Props = append(out.Props, prop{Type: f.Name, Value: v.String()})
		}
	}
	for _, loc := range schema.Locales() {
		text, codes := row.Text(loc)
		if text == "" && codes == "" {
			continue
		}
		rt, err := codec.Decode(text, codes)
		if err != nil {
			return nil, err
		}
		v := tuvOut{Lang: tm.LocaleTag(loc), Seg: seg{rt: rt}}
		for _, f := range localeAttrs[loc] {
			if val, _ := row.Value(f.Name); !val.IsNull() {
				base, _, _ := strings.Cut(f.Name, tm.LocaleSep)
				v.Props = append(v.Props, prop{Type: base, Value: val.String()})
			}
		}
		out.TUVs = append(out.TUVs, v)
	}
	return out, nil
}
