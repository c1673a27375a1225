package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	apierrors "github.com/maruel/tmdb/internal/errors"
	"github.com/maruel/tmdb/internal/filter"
	"github.com/maruel/tmdb/internal/tm"
)

func openTestRepo(t *testing.T, dir string) *Repository {
	t.Helper()
	cfg := DefaultConfig()
	r, err := Open(t.Context(), dir, &cfg, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func text(pairs ...string) map[string]tm.Value {
	out := map[string]tm.Value{}
	for i := 0; i < len(pairs); i += 2 {
		out[pairs[i]] = tm.StringValue(pairs[i+1])
	}
	return out
}

func TestRepository_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	r := openTestRepo(t, dir)
	ctx := t.Context()

	created, err := r.CreateTM(ctx, "Main", "UI strings", []string{"en-us", "fr_FR"})
	if err != nil {
		t.Fatalf("CreateTM() failed: %v", err)
	}
	if created.Name != "Main" || created.Description != "UI strings" || !slices.Equal(created.Locales, []string{"EN_US", "FR_FR"}) {
		t.Errorf("CreateTM() = %+v", created)
	}
	if _, err := r.CreateTM(ctx, "Main", "", []string{"en"}); apierrors.CodeOf(err) != apierrors.ErrConflict {
		t.Errorf("duplicate CreateTM() = %v", err)
	}
	for _, name := range []string{"", " padded", "tab\there"} {
		if _, err := r.CreateTM(ctx, name, "", []string{"en"}); apierrors.CodeOf(err) != apierrors.ErrValidationFailed {
			t.Errorf("CreateTM(%q) = %v", name, err)
		}
	}
	if _, err := r.CreateTM(ctx, "Other", "", nil); apierrors.CodeOf(err) != apierrors.ErrValidationFailed {
		t.Errorf("CreateTM() without locales = %v", err)
	}
	if _, err := r.CreateTM(ctx, "Other", "", []string{"de"}); err != nil {
		t.Fatal(err)
	}

	list := r.ListTMs()
	if len(list) != 2 || list[0].Name != "Main" || list[1].Name != "Other" {
		t.Fatalf("ListTMs() = %+v", list)
	}
	id, err := r.UUID("Main")
	if err != nil || id != created.UUID {
		t.Errorf("UUID() = %v, %v", id, err)
	}
	if err := r.SetDescription(ctx, "Main", "Product UI"); err != nil {
		t.Fatal(err)
	}
	if d, _ := r.Description("Main"); d != "Product UI" {
		t.Errorf("Description() = %q", d)
	}

	if err := r.Rename(ctx, "Main", "Other"); apierrors.CodeOf(err) != apierrors.ErrConflict {
		t.Errorf("Rename() onto an existing name = %v", err)
	}
	if err := r.Rename(ctx, "Main", "Product"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.UUID("Main"); !apierrors.IsNotFound(err) {
		t.Errorf("old name still resolves: %v", err)
	}
	if id2, _ := r.UUID("Product"); id2 != created.UUID {
		t.Errorf("renamed TM has UUID %v", id2)
	}

	log, err := r.History(ctx, "Product", 0)
	if err != nil {
		t.Fatal(err)
	}
	var msgs []string
	for _, c := range log {
		msgs = append(msgs, c.Message)
	}
	want := []string{"Product: rename from Main", "Main: set description", "Main: create"}
	if !slices.Equal(msgs, want) {
		t.Errorf("History() = %q, want %q", msgs, want)
	}

	if err := r.DeleteTM(ctx, "Other"); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteTM(ctx, "Other"); !apierrors.IsNotFound(err) {
		t.Errorf("second DeleteTM() = %v", err)
	}
	if list := r.ListTMs(); len(list) != 1 || list[0].Name != "Product" {
		t.Errorf("ListTMs() after delete = %+v", list)
	}
	entries, err := os.ReadDir(filepath.Join(dir, tmsDir))
	if err != nil {
		t.Fatal(err)
	}
	var dirs []string
	for _, e := range entries {
		dirs = append(dirs, e.Name())
	}
	// The remaining TM and the git repository.
	if len(dirs) != 2 || !slices.Contains(dirs, ".git") {
		t.Errorf("TM directories after delete = %v", dirs)
	}
}

func TestRepository_Records(t *testing.T) {
	r := openTestRepo(t, t.TempDir())
	ctx := t.Context()
	if _, err := r.CreateTM(ctx, "ui", "", []string{"en-US", "fr-FR"}); err != nil {
		t.Fatal(err)
	}
	k1, err := r.AddRecord(ctx, "ui", -1, text("Domain", "menu"), text("TEXT_EN_US", "Open the file", "TEXT_FR_FR", "Ouvrir le fichier"))
	if err != nil {
		t.Fatal(err)
	}
	k2, err := r.AddRecord(ctx, "ui", -1, nil, text("TEXT_EN_US", "Close the file"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddRecord(ctx, "missing", -1, nil, nil); !apierrors.IsNotFound(err) {
		t.Errorf("AddRecord() on a missing TM = %v", err)
	}

	rec, err := r.GetRecord("ui", k1)
	if err != nil {
		t.Fatal(err)
	}
	if rec["TEXT_EN_US"] != "Open the file" || rec["TEXT_FR_FR"] != "Ouvrir le fichier" || rec["Domain"] != "menu" {
		t.Errorf("GetRecord() = %v", rec)
	}
	if n, _ := r.GetSegmentCount("ui"); n != 2 {
		t.Errorf("GetSegmentCount() = %d", n)
	}

	hits, err := r.Search(ctx, &SearchRequest{Text: "Open the file", Locale: "en-us"})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].Key != k1 || hits[0].Score != 100 || hits[0].TM != "ui" {
		t.Fatalf("Search() = %+v", hits)
	}
	if hits[0].Variants["FR_FR"] != "Ouvrir le fichier" || hits[0].Attributes["Domain"] != "menu" {
		t.Errorf("hit = %+v", hits[0])
	}
	threshold := 100.0
	hits, err = r.Search(ctx, &SearchRequest{Text: "Close the file", Locale: "EN_US", Threshold: &threshold, TMs: []string{"ui"}})
	if err != nil || len(hits) != 1 || hits[0].Key != k2 {
		t.Errorf("Search(threshold=100) = %+v, %v", hits, err)
	}
	k3, err := r.AddRecord(ctx, "ui", -1, nil, text("TEXT_EN_US", "Print the file", "Note~fr-fr", "draft"))
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"Note~fr-fr", "Note~FR_FR", "Note~fr_FR"} {
		hits, err = r.Search(ctx, &SearchRequest{Text: "Print the file", Locale: "en-us", Attributes: map[string]string{key: "draft"}})
		if err != nil || len(hits) != 1 || hits[0].Key != k3 {
			t.Errorf("Search(attribute %q) = %+v, %v", key, hits, err)
		}
	}
	if _, err := r.Search(ctx, &SearchRequest{Text: "x", Locale: "en", Attributes: map[string]string{"Note~": "draft"}}); apierrors.CodeOf(err) != apierrors.ErrValidationFailed {
		t.Errorf("Search() with an invalid attribute = %v", err)
	}
	if _, err := r.Search(ctx, &SearchRequest{Text: "x"}); apierrors.CodeOf(err) != apierrors.ErrValidationFailed {
		t.Errorf("Search() without locale = %v", err)
	}
	if _, err := r.Search(ctx, &SearchRequest{Text: "x", Locale: "en", TMs: []string{"nope"}}); !apierrors.IsNotFound(err) {
		t.Errorf("Search() on a missing TM = %v", err)
	}

	if err := r.UpdateRecord(ctx, "ui", k2, nil, text("TEXT_EN_US", "Save the file")); err != nil {
		t.Fatal(err)
	}
	hits, _ = r.Search(ctx, &SearchRequest{Text: "Save the file", Locale: "en-US", Threshold: &threshold})
	if len(hits) != 1 || hits[0].Key != k2 {
		t.Errorf("updated record not indexed: %+v", hits)
	}

	if err := r.DeleteRecord(ctx, "ui", k1); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetRecord("ui", k1); !apierrors.IsNotFound(err) {
		t.Errorf("GetRecord() of a deleted record = %v", err)
	}
	hits, _ = r.Search(ctx, &SearchRequest{Text: "Open the file", Locale: "en-US", Threshold: &threshold})
	if len(hits) != 0 {
		t.Errorf("deleted record still indexed: %+v", hits)
	}

	// Renaming a locale reindexes the TM under the new name.
	if err := r.RenameLocale(ctx, "ui", "en-US", "en-GB"); err != nil {
		t.Fatal(err)
	}
	hits, _ = r.Search(ctx, &SearchRequest{Text: "Save the file", Locale: "en-GB", Threshold: &threshold})
	if len(hits) != 1 {
		t.Errorf("Search() after RenameLocale = %+v", hits)
	}
	locales, _ := r.Locales("ui")
	if !slices.Equal(locales, []string{"EN_GB", "FR_FR"}) {
		t.Errorf("Locales() = %v", locales)
	}
}

func TestRepository_Schema(t *testing.T) {
	r := openTestRepo(t, t.TempDir())
	ctx := t.Context()
	if _, err := r.CreateTM(ctx, "s", "", []string{"en", "de"}); err != nil {
		t.Fatal(err)
	}
	if err := r.AddLocale(ctx, "s", "ja"); err != nil {
		t.Fatal(err)
	}
	// Structural no-ops succeed silently.
	if err := r.AddLocale(ctx, "s", "JA"); err != nil {
		t.Errorf("AddLocale() of a present locale = %v", err)
	}
	if err := r.DeleteLocale(ctx, "s", "xx"); err != nil {
		t.Errorf("DeleteLocale() of a missing locale = %v", err)
	}
	if err := r.DeleteLocale(ctx, "s", "de"); err != nil {
		t.Fatal(err)
	}
	if locales, _ := r.Locales("s"); !slices.Equal(locales, []string{"EN", "JA"}) {
		t.Errorf("Locales() = %v", locales)
	}

	if err := r.AddField(ctx, "s", "Client"); err != nil {
		t.Fatal(err)
	}
	if err := r.AddField(ctx, "s", "Note~JA"); err != nil {
		t.Fatal(err)
	}
	if err := r.AddField(ctx, "s", "TEXT_EN"); !apierrors.IsSchemaConflict(err) {
		t.Errorf("AddField(TEXT_EN) = %v", err)
	}
	if err := r.RenameField(ctx, "s", "Client", "Customer"); err != nil {
		t.Fatal(err)
	}
	fields, err := r.Fields("s")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"TEXT_EN", "CODES_JA", "Customer", "Note~JA"} {
		if !slices.Contains(fields, want) {
			t.Errorf("Fields() = %v, missing %s", fields, want)
		}
	}
	if slices.Contains(fields, "Client") || slices.Contains(fields, "TEXT_DE") {
		t.Errorf("Fields() = %v", fields)
	}
	if err := r.DeleteField(ctx, "s", "Customer"); err != nil {
		t.Fatal(err)
	}
	descs, err := r.Schema("s")
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range descs {
		if f.Name == "Customer" {
			t.Errorf("deleted field still in schema: %+v", f)
		}
	}
}

func TestRepository_Pages(t *testing.T) {
	r := openTestRepo(t, t.TempDir())
	ctx := t.Context()
	if _, err := r.CreateTM(ctx, "p", "", []string{"en"}); err != nil {
		t.Fatal(err)
	}
	for i, s := range []string{"one", "two", "three", "four"} {
		seg := text("TEXT_EN", s)
		seg[tm.FieldFlag] = tm.BoolValue(i%2 == 0)
		if _, err := r.AddRecord(ctx, "p", -1, nil, seg); err != nil {
			t.Fatal(err)
		}
	}
	if n, err := r.GetPageCount("p", 3, tm.ModeEditor, nil); err != nil || n != 2 {
		t.Errorf("GetPageCount() = %d, %v", n, err)
	}
	pg, err := r.GetPage("p", 0, 3, tm.ModeEditor, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := pg.Keys(); !slices.Equal(got, []int64{1, 2, 3}) {
		t.Errorf("first page = %v", got)
	}
	if pg, _ := r.GetPage("p", 5, 3, tm.ModeEditor, nil); pg != nil {
		t.Errorf("page past the end = %v", pg.Keys())
	}
	flagged := filter.EqualsBool(tm.FieldFlag, true)
	pg, err = r.GetPage("p", 0, 10, tm.ModeIterator, flagged)
	if err != nil {
		t.Fatal(err)
	}
	if got := pg.Keys(); !slices.Equal(got, []int64{1, 3}) {
		t.Errorf("flagged page = %v", got)
	}
	if _, err := r.GetPage("p", 0, 0, tm.ModeEditor, nil); apierrors.CodeOf(err) != apierrors.ErrValidationFailed {
		t.Errorf("GetPage(size=0) = %v", err)
	}
}

func TestRepository_Diff(t *testing.T) {
	r := openTestRepo(t, t.TempDir())
	ctx := t.Context()
	if _, err := r.CreateTM(ctx, "d", "", []string{"en"}); err != nil {
		t.Fatal(err)
	}
	a, _ := r.AddRecord(ctx, "d", -1, nil, text("TEXT_EN", "word"))
	b, _ := r.AddRecord(ctx, "d", -1, nil, text("TEXT_EN", "World"))
	got, err := r.Diff("d", a, "TEXT_EN", b, "TEXT_EN")
	if err != nil {
		t.Fatal(err)
	}
	if want := "<del>w</del><ins>W</ins>or<ins>l</ins>d"; got != want {
		t.Errorf("Diff() = %q, want %q", got, want)
	}
	if _, err := r.Diff("d", a, "TEXT_EN", 99, "TEXT_EN"); !apierrors.IsNotFound(err) {
		t.Errorf("Diff() with a missing record = %v", err)
	}

	m, _ := r.AddRecord(ctx, "d", -1, nil, text("TEXT_EN", `<img src=x onerror="alert(1)">`))
	got, err = r.Diff("d", m, "TEXT_EN", m, "TEXT_EN")
	if err != nil {
		t.Fatal(err)
	}
	if want := "&lt;img src=x onerror=&#34;alert(1)&#34;&gt;"; got != want {
		t.Errorf("Diff() = %q, want %q", got, want)
	}

	long, _ := r.AddRecord(ctx, "d", -1, nil, text("TEXT_EN", strings.Repeat("é", maxDiffRunes+1)))
	if _, err := r.Diff("d", a, "TEXT_EN", long, "TEXT_EN"); apierrors.CodeOf(err) != apierrors.ErrValidationFailed {
		t.Errorf("Diff() of an oversized value = %v, want a validation error", err)
	}
	edge, _ := r.AddRecord(ctx, "d", -1, nil, text("TEXT_EN", strings.Repeat("é", maxDiffRunes)))
	if _, err := r.Diff("d", edge, "TEXT_EN", a, "TEXT_EN"); err != nil {
		t.Errorf("Diff() at the limit = %v", err)
	}
}

func TestRepository_TMX(t *testing.T) {
	r := openTestRepo(t, t.TempDir())
	ctx := t.Context()
	for _, name := range []string{"src", "dst"} {
		if _, err := r.CreateTM(ctx, name, "", []string{"en-US", "fr-FR"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.AddRecord(ctx, "src", -1, text("Project", "alpha"), text("TEXT_EN_US", "Print", "TEXT_FR_FR", "Imprimer")); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := r.ExportTMX(ctx, "src", &buf); err != nil {
		t.Fatal(err)
	}
	st, err := r.ImportTMX(ctx, "dst", &buf)
	if err != nil {
		t.Fatal(err)
	}
	if st.Records != 1 {
		t.Errorf("ImportTMX() = %+v", st)
	}
	rec, err := r.GetRecord("dst", 1)
	if err != nil {
		t.Fatal(err)
	}
	if rec["TEXT_FR_FR"] != "Imprimer" || rec["Project"] != "alpha" {
		t.Errorf("imported record = %v", rec)
	}
	threshold := 100.0
	hits, err := r.Search(ctx, &SearchRequest{Text: "Imprimer", Locale: "fr-FR", TMs: []string{"dst"}, Threshold: &threshold})
	if err != nil || len(hits) != 1 {
		t.Errorf("imported record not indexed: %+v, %v", hits, err)
	}

	if _, err := r.ImportTMX(ctx, "dst", bytes.NewBufferString("<tmx")); apierrors.CodeOf(err) != apierrors.ErrValidationFailed {
		t.Errorf("ImportTMX() of invalid XML = %v", err)
	}
	if n, _ := r.GetSegmentCount("dst"); n != 1 {
		t.Errorf("failed import left %d records", n)
	}
}

func TestRepository_Reopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	r, err := Open(t.Context(), dir, &cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateTM(t.Context(), "keep", "", []string{"en"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddRecord(t.Context(), "keep", -1, nil, text("TEXT_EN", "Persistent text")); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	search := func(r *Repository) int {
		t.Helper()
		threshold := 100.0
		hits, err := r.Search(t.Context(), &SearchRequest{Text: "Persistent text", Locale: "en", Threshold: &threshold})
		if err != nil {
			t.Fatal(err)
		}
		return len(hits)
	}

	r = openTestRepo(t, dir)
	if list := r.ListTMs(); len(list) != 1 || list[0].Segments != 1 {
		t.Errorf("ListTMs() after reopen = %+v", list)
	}
	if n := search(r); n != 1 {
		t.Errorf("Search() after reopen = %d hits", n)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	// A lost index is rebuilt from the TMs.
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(filepath.Join(dir, cfg.IndexPath+suffix)); err != nil && !os.IsNotExist(err) {
			t.Fatal(err)
		}
	}
	r = openTestRepo(t, dir)
	if n := search(r); n != 1 {
		t.Errorf("Search() after index loss = %d hits", n)
	}
}

func TestRepository_SearchDefaults(t *testing.T) {
	r := openTestRepo(t, t.TempDir())
	if err := r.SetSearchDefaults(SearchDefaults{Threshold: 120}); apierrors.CodeOf(err) != apierrors.ErrValidationFailed {
		t.Errorf("SetSearchDefaults(120) = %v", err)
	}
	want := SearchDefaults{Threshold: 95, MaxResults: 3}
	if err := r.SetSearchDefaults(want); err != nil {
		t.Fatal(err)
	}
	if got := r.SearchDefaults(); got != want {
		t.Errorf("SearchDefaults() = %+v", got)
	}
}
