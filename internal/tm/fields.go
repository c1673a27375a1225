package tm

import (
	"strings"

	apierrors "github.com/maruel/tmdb/internal/errors"
)

// Fixed tokens composing field names.
const (
	// TextPrefix prefixes the text field of a locale: TEXT_EN.
	TextPrefix = "TEXT_"
	// CodesPrefix prefixes the inline codes field of a locale: CODES_EN.
	CodesPrefix = "CODES_"
	// LocaleSep separates an attribute name from its locale: Note~EN.
	LocaleSep = "~"

	// FieldFlag is the record flag.
	FieldFlag = "FLAG"
	// FieldSegKey is the segment key.
	FieldSegKey = "SEGKEY"
	// FieldTURef references the record's translation unit.
	FieldTURef = "TUREF"
)

// FieldKind classifies a field.
type FieldKind string

const (
	FieldText      FieldKind = "text"
	FieldCodes     FieldKind = "codes"
	FieldAttribute FieldKind = "attribute"
	FieldFlagKind  FieldKind = "flag"
	FieldKey       FieldKind = "key"
	FieldXRef      FieldKind = "xref"
)

// FieldDescriptor is one schema entry.
//
// ID is allocated once and never reused; record values are keyed by it so
// renaming a field or a locale never touches records.
type FieldDescriptor struct {
	ID     uint32    `json:"id"`
	Name   string    `json:"name"`
	Locale string    `json:"locale,omitempty"`
	Kind   FieldKind `json:"kind"`
}

// TULevel reports whether the field's value is shared by all records of a
// translation unit.
func (f FieldDescriptor) TULevel() bool {
	return f.Kind == FieldAttribute && f.Locale == ""
}

// Reserved reports whether the field is one of the fixed locale-less fields.
func (f FieldDescriptor) Reserved() bool {
	return f.Kind == FieldFlagKind || f.Kind == FieldKey || f.Kind == FieldXRef
}

// ParseField infers the descriptor of a field name from the naming
// convention. The locale part is canonicalized, so "TEXT_de-DE" and
// "TEXT_DE_DE" describe the same field. The returned ID is zero.
func ParseField(name string) (FieldDescriptor, error) {
	switch name {
	case "":
		return FieldDescriptor{}, apierrors.BadRequest("empty field name")
	case FieldFlag:
		return FieldDescriptor{Name: name, Kind: FieldFlagKind}, nil
	case FieldSegKey:
		return FieldDescriptor{Name: name, Kind: FieldKey}, nil
	case FieldTURef:
		return FieldDescriptor{Name: name, Kind: FieldXRef}, nil
	}
	for _, p := range [...]struct {
		prefix string
		kind   FieldKind
	}{{TextPrefix, FieldText}, {CodesPrefix, FieldCodes}} {
		if rest, ok := strings.CutPrefix(name, p.prefix); ok {
			loc := CanonicalLocale(rest)
			if loc == "" {
				return FieldDescriptor{}, apierrors.BadRequest("field %q has no locale", name)
			}
			return FieldDescriptor{Name: p.prefix + loc, Locale: loc, Kind: p.kind}, nil
		}
	}
	if i := strings.LastIndex(name, LocaleSep); i >= 0 {
		base, loc := name[:i], CanonicalLocale(name[i+len(LocaleSep):])
		if base == "" || loc == "" {
			return FieldDescriptor{}, apierrors.BadRequest("invalid attribute field %q", name)
		}
		return FieldDescriptor{Name: base + LocaleSep + loc, Locale: loc, Kind: FieldAttribute}, nil
	}
	return FieldDescriptor{Name: name, Kind: FieldAttribute}, nil
}

// FieldLocale returns the locale a field name belongs to, or "" for
// locale-less and reserved fields.
func FieldLocale(name string) string {
	f, err := ParseField(name)
	if err != nil {
		return ""
	}
	return f.Locale
}

// TextField returns the text field name of a canonical locale.
func TextField(locale string) string { return TextPrefix + locale }

// CodesField returns the codes field name of a canonical locale.
func CodesField(locale string) string { return CodesPrefix + locale }

// attributeName returns the attribute base name with the given locale.
func attributeName(f FieldDescriptor, locale string) string {
	base := strings.TrimSuffix(f.Name, LocaleSep+f.Locale)
	return base + LocaleSep + locale
}
