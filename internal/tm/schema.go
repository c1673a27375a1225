package tm

import (
	"slices"

	apierrors "github.com/maruel/tmdb/internal/errors"
)

// Schema is the field registry of a TM: the ordered locale set and the field
// descriptors. A published Schema is never mutated; imports work on a clone.
type Schema struct {
	locales []string
	fields  []FieldDescriptor
	byName  map[string]int
	byID    map[uint32]int
	nextID  uint32
}

func newSchema(locales []string) *Schema {
	s := &Schema{nextID: 1, byName: map[string]int{}, byID: map[uint32]int{}}
	for _, name := range []string{FieldFlag, FieldSegKey, FieldTURef} {
		f, _ := ParseField(name)
		s.appendField(f)
	}
	for _, loc := range locales {
		s.addLocale(loc)
	}
	return s
}

// loadSchema rebuilds a schema from its persisted parts.
func loadSchema(locales []string, fields []FieldDescriptor, nextID uint32) *Schema {
	s := &Schema{locales: slices.Clone(locales), fields: slices.Clone(fields), nextID: nextID}
	for _, f := range s.fields {
		s.nextID = max(s.nextID, f.ID+1)
	}
	s.reindex()
	return s
}

func (s *Schema) clone() *Schema {
	return loadSchema(s.locales, s.fields, s.nextID)
}

func (s *Schema) reindex() {
	s.byName = make(map[string]int, len(s.fields))
	s.byID = make(map[uint32]int, len(s.fields))
	for i, f := range s.fields {
		s.byName[f.Name] = i
		s.byID[f.ID] = i
	}
}

// Locales returns the ordered locale set; the first one is the source locale.
func (s *Schema) Locales() []string {
	return slices.Clone(s.locales)
}

// SourceLocale returns the first locale.
func (s *Schema) SourceLocale() string {
	if len(s.locales) == 0 {
		return ""
	}
	return s.locales[0]
}

// HasLocale reports whether the canonical locale is part of the schema.
func (s *Schema) HasLocale(locale string) bool {
	return slices.Contains(s.locales, locale)
}

// Fields returns the field descriptors in schema order.
func (s *Schema) Fields() []FieldDescriptor {
	return slices.Clone(s.fields)
}

// Names returns the field names in schema order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Field looks up a field by name. Non-canonical locale spellings are
// accepted.
func (s *Schema) Field(name string) (FieldDescriptor, bool) {
	if i, ok := s.byName[name]; ok {
		return s.fields[i], true
	}
	p, err := ParseField(name)
	if err != nil {
		return FieldDescriptor{}, false
	}
	i, ok := s.byName[p.Name]
	if !ok {
		return FieldDescriptor{}, false
	}
	return s.fields[i], true
}

func (s *Schema) fieldByID(id uint32) (FieldDescriptor, bool) {
	i, ok := s.byID[id]
	if !ok {
		return FieldDescriptor{}, false
	}
	return s.fields[i], true
}

func (s *Schema) appendField(f FieldDescriptor) FieldDescriptor {
	f.ID = s.nextID
	s.nextID++
	s.fields = append(s.fields, f)
	s.byName[f.Name] = len(s.fields) - 1
	s.byID[f.ID] = len(s.fields) - 1
	return f
}

func (s *Schema) removeFields(drop func(FieldDescriptor) bool) {
	s.fields = slices.DeleteFunc(s.fields, drop)
	s.reindex()
}

// addLocale adds a canonical locale and its text+codes pair.
func (s *Schema) addLocale(loc string) bool {
	if loc == "" || s.HasLocale(loc) {
		return false
	}
	s.locales = append(s.locales, loc)
	s.appendField(FieldDescriptor{Name: TextField(loc), Locale: loc, Kind: FieldText})
	s.appendField(FieldDescriptor{Name: CodesField(loc), Locale: loc, Kind: FieldCodes})
	return true
}

// deleteLocale removes a locale with every field scoped to it. The last
// remaining locale is never removed.
func (s *Schema) deleteLocale(loc string) bool {
	if !s.HasLocale(loc) || len(s.locales) == 1 {
		return false
	}
	s.locales = slices.DeleteFunc(s.locales, func(l string) bool { return l == loc })
	s.removeFields(func(f FieldDescriptor) bool { return f.Locale == loc })
	return true
}

// renameLocale renames a locale in place, keeping its position and its
// fields' IDs.
func (s *Schema) renameLocale(from, to string) bool {
	i := slices.Index(s.locales, from)
	if i < 0 || to == "" || s.HasLocale(to) {
		return false
	}
	s.locales[i] = to
	for j, f := range s.fields {
		if f.Locale != from {
			continue
		}
		switch f.Kind {
		case FieldText:
			f.Name = TextField(to)
		case FieldCodes:
			f.Name = CodesField(to)
		default:
			f.Name = attributeName(f, to)
		}
		f.Locale = to
		s.fields[j] = f
	}
	s.reindex()
	return true
}

// ensure returns the descriptor for a field written by a record mutation,
// extending the schema when needed. The key and TU reference fields are
// derived and cannot be written.
func (s *Schema) ensure(name string) (f FieldDescriptor, changed bool, err error) {
	p, err := ParseField(name)
	if err != nil {
		return FieldDescriptor{}, false, err
	}
	if p.Kind == FieldKey || p.Kind == FieldXRef {
		return FieldDescriptor{}, false, apierrors.SchemaConflict(p.Name)
	}
	if i, ok := s.byName[p.Name]; ok {
		return s.fields[i], false, nil
	}
	if p.Locale != "" && !s.HasLocale(p.Locale) {
		s.addLocale(p.Locale)
		if i, ok := s.byName[p.Name]; ok {
			return s.fields[i], true, nil
		}
	}
	return s.appendField(p), true, nil
}

// userField parses a name targeted by AddField, DeleteField or RenameField.
// Reserved and text/codes fields are managed by the schema itself.
func userField(name string) (FieldDescriptor, error) {
	p, err := ParseField(name)
	if err != nil {
		return FieldDescriptor{}, err
	}
	if p.Kind != FieldAttribute {
		return FieldDescriptor{}, apierrors.SchemaConflict(p.Name)
	}
	return p, nil
}

func (s *Schema) addField(name string) (bool, error) {
	p, err := userField(name)
	if err != nil {
		return false, err
	}
	if _, ok := s.byName[p.Name]; ok {
		return false, nil
	}
	if p.Locale != "" {
		s.addLocale(p.Locale)
	}
	s.appendField(p)
	return true, nil
}

func (s *Schema) deleteField(name string) (bool, error) {
	p, err := userField(name)
	if err != nil {
		return false, err
	}
	if _, ok := s.byName[p.Name]; !ok {
		return false, nil
	}
	s.removeFields(func(f FieldDescriptor) bool { return f.Name == p.Name })
	return true, nil
}

func (s *Schema) renameField(from, to string) (bool, error) {
	src, err := userField(from)
	if err != nil {
		return false, err
	}
	i, ok := s.byName[src.Name]
	if !ok {
		return false, nil
	}
	dst, err := ParseField(to)
	if err != nil {
		return false, err
	}
	if _, ok := s.byName[dst.Name]; ok {
		// Includes the reserved fields and existing text/codes pairs.
		return false, nil
	}
	if dst.Kind != FieldAttribute {
		return false, apierrors.SchemaConflict(dst.Name)
	}
	if src.TULevel() != dst.TULevel() {
		return false, apierrors.BadRequest("cannot rename %q to %q: field level differs", src.Name, dst.Name)
	}
	if dst.Locale != "" && !s.HasLocale(dst.Locale) {
		return false, apierrors.NotFound("locale %q", dst.Locale)
	}
	f := s.fields[i]
	f.Name, f.Locale = dst.Name, dst.Locale
	s.fields[i] = f
	s.reindex()
	return true, nil
}
