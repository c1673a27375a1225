package tm

import (
	"slices"
	"testing"

	apierrors "github.com/maruel/tmdb/internal/errors"
	"github.com/maruel/tmdb/internal/filter"
)

func pageKeys(t *testing.T, fetch func() (*Page, error)) []int64 {
	t.Helper()
	pg, err := fetch()
	if err != nil {
		t.Fatal(err)
	}
	if pg == nil {
		return nil
	}
	return pg.Keys()
}

func TestPagerEditor(t *testing.T) {
	m := newTestTM(t, "en", "fr")
	addRecords(t, m, 4)
	p := NewPager(m)
	if err := p.SetPageSize(3); err != nil {
		t.Fatal(err)
	}
	p.SetPageMode(ModeEditor)

	if got := pageKeys(t, p.FirstPage); !slices.Equal(got, []int64{1, 2, 3}) {
		t.Errorf("first page = %v", got)
	}
	if got := pageKeys(t, p.NextPage); !slices.Equal(got, []int64{3, 4}) {
		t.Errorf("next page = %v", got)
	}
	if got := pageKeys(t, p.NextPage); got != nil {
		t.Errorf("page past the end = %v", got)
	}
	if got := pageKeys(t, p.PreviousPage); !slices.Equal(got, []int64{1, 2, 3}) {
		t.Errorf("previous page = %v", got)
	}
	if got := pageKeys(t, p.PreviousPage); got != nil {
		t.Errorf("page before the start = %v", got)
	}
	if got := pageKeys(t, p.LastPage); !slices.Equal(got, []int64{2, 3, 4}) {
		t.Errorf("last page = %v", got)
	}

	if _, err := m.Update(t.Context(), func(imp *Import) error { return imp.DeleteSegments([]int64{1, 2, 3}) }); err != nil {
		t.Fatal(err)
	}
	if m.SegmentCount() != 1 {
		t.Errorf("SegmentCount() = %d", m.SegmentCount())
	}
	if got := pageKeys(t, p.LastPage); !slices.Equal(got, []int64{4}) {
		t.Errorf("last page after delete = %v", got)
	}
}

func TestPagerIterator(t *testing.T) {
	m := newTestTM(t, "en", "fr")
	addRecords(t, m, 7)
	p := NewPager(m)
	if err := p.SetPageSize(3); err != nil {
		t.Fatal(err)
	}
	p.SetPageMode(ModeIterator)
	var all []int64
	for {
		pg, err := p.NextPage()
		if err != nil {
			t.Fatal(err)
		}
		if pg == nil {
			break
		}
		if pg.Mode() != ModeIterator || pg.Size() != 3 {
			t.Errorf("page carries %s/%d", pg.Mode(), pg.Size())
		}
		all = append(all, pg.Keys()...)
	}
	if !slices.Equal(all, []int64{1, 2, 3, 4, 5, 6, 7}) {
		t.Errorf("iterator pages = %v", all)
	}
	// Previous without an anchor starts from the end.
	p.SetPageMode(ModeIterator)
	if got := pageKeys(t, p.PreviousPage); !slices.Equal(got, []int64{5, 6, 7}) {
		t.Errorf("previous without anchor = %v", got)
	}
	if got := pageKeys(t, p.PreviousPage); !slices.Equal(got, []int64{2, 3, 4}) {
		t.Errorf("previous = %v", got)
	}
	if got := pageKeys(t, p.PreviousPage); !slices.Equal(got, []int64{1}) {
		t.Errorf("short first page = %v", got)
	}
	if got := pageKeys(t, p.PreviousPage); got != nil {
		t.Errorf("page before the start = %v", got)
	}
}

// walk collects the pages returned by nav until it returns nil, starting
// with start.
func walk(t *testing.T, start, nav func() (*Page, error)) [][]int64 {
	t.Helper()
	var pages [][]int64
	for k := pageKeys(t, start); k != nil; k = pageKeys(t, nav) {
		pages = append(pages, k)
		if len(pages) > 100 {
			t.Fatal("navigation does not terminate")
		}
	}
	return pages
}

func TestPagerBackward(t *testing.T) {
	tests := []struct {
		name  string
		mode  PageMode
		n     int
		size  int
		pages [][]int64
	}{
		{"editor", ModeEditor, 4, 3, [][]int64{{2, 3, 4}, {1, 2}}},
		{"editor long", ModeEditor, 8, 3, [][]int64{{6, 7, 8}, {4, 5, 6}, {2, 3, 4}, {1, 2}}},
		{"editor single row", ModeEditor, 3, 1, [][]int64{{3}, {2}, {1}}},
		{"iterator", ModeIterator, 7, 3, [][]int64{{5, 6, 7}, {2, 3, 4}, {1}}},
		{"iterator even", ModeIterator, 6, 3, [][]int64{{4, 5, 6}, {1, 2, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestTM(t, "en", "fr")
			addRecords(t, m, tt.n)
			p := NewPager(m)
			if err := p.SetPageSize(tt.size); err != nil {
				t.Fatal(err)
			}
			p.SetPageMode(tt.mode)
			got := walk(t, p.LastPage, p.PreviousPage)
			if !slices.EqualFunc(got, tt.pages, slices.Equal[[]int64, int64]) {
				t.Fatalf("backward pages = %v, want %v", got, tt.pages)
			}
			seen := map[int64]int{}
			for i, pg := range got {
				for _, k := range pg {
					seen[k]++
				}
				if i == 0 {
					continue
				}
				// EDITOR pages share their boundary row, ITERATOR pages do not.
				shared := pg[len(pg)-1] == got[i-1][0]
				if want := tt.mode == ModeEditor && tt.size > 1; shared != want {
					t.Errorf("pages %v and %v share their boundary row: %t", pg, got[i-1], shared)
				}
			}
			for k := int64(1); k <= int64(tt.n); k++ {
				if seen[k] == 0 {
					t.Errorf("key %d never visited", k)
				}
				if tt.mode == ModeIterator && seen[k] != 1 {
					t.Errorf("key %d visited %d times", k, seen[k])
				}
			}
		})
	}
}

func TestPageAt(t *testing.T) {
	m := newTestTM(t, "en", "fr")
	addRecords(t, m, 4)
	p := NewPager(m)
	if err := p.SetPageSize(3); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		mode  PageMode
		count int
		pages [][]int64
	}{
		{ModeEditor, 2, [][]int64{{1, 2, 3}, {3, 4}}},
		{ModeIterator, 2, [][]int64{{1, 2, 3}, {4}}},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			p.SetPageMode(tt.mode)
			n, err := p.PageCount()
			if err != nil || n != tt.count {
				t.Fatalf("PageCount() = %d, %v", n, err)
			}
			for i, want := range tt.pages {
				if got := pageKeys(t, func() (*Page, error) { return p.PageAt(i) }); !slices.Equal(got, want) {
					t.Errorf("PageAt(%d) = %v, want %v", i, got, want)
				}
			}
			if got := pageKeys(t, func() (*Page, error) { return p.PageAt(tt.count) }); got != nil {
				t.Errorf("PageAt(%d) = %v, want none", tt.count, got)
			}
		})
	}
}

func TestPageCount(t *testing.T) {
	tests := []struct {
		n, size, step, want int
	}{
		{0, 3, 2, 0},
		{3, 3, 2, 1},
		{4, 3, 2, 2},
		{5, 3, 2, 2},
		{6, 3, 2, 3},
		{7, 3, 3, 3},
		{5, 1, 1, 5},
	}
	for _, tt := range tests {
		if got := pageCount(tt.n, tt.size, tt.step); got != tt.want {
			t.Errorf("pageCount(%d, %d, %d) = %d, want %d", tt.n, tt.size, tt.step, got, tt.want)
		}
	}
}

func TestPagerProjection(t *testing.T) {
	m := newTestTM(t, "en", "fr")
	addRecords(t, m, 2)
	p := NewPager(m)
	if err := p.SetRecordFields([]string{"Unknown"}); !apierrors.IsNotFound(err) {
		t.Errorf("SetRecordFields(Unknown): %v", err)
	}
	if err := p.SetRecordFields([]string{"TEXT_fr", FieldSegKey}); err != nil {
		t.Fatal(err)
	}
	pg, err := p.FirstPage()
	if err != nil {
		t.Fatal(err)
	}
	if pg.FieldCount() != 2 {
		t.Fatalf("FieldCount() = %d", pg.FieldCount())
	}
	if name, _ := pg.FieldName(1); name != "TEXT_FR" {
		t.Errorf("FieldName(1) = %q", name)
	}
	if _, err := pg.FieldName(0); err == nil {
		t.Error("FieldName(0) should fail")
	}
	c := pg.Cursor()
	if _, err := c.Value(1); err == nil {
		t.Error("Value before Next should fail")
	}
	if !c.Next() {
		t.Fatal("Next() = false")
	}
	if v, _ := c.Value(1); v != StringValue("Bonjour a") {
		t.Errorf("Value(1) = %v", v)
	}
	if v, _ := c.ValueByName(FieldSegKey); v != NumberValue(1) {
		t.Errorf("ValueByName(SEGKEY) = %v", v)
	}
	if _, err := c.ValueByName("TEXT_EN"); !apierrors.IsNotFound(err) {
		t.Errorf("ValueByName on a field outside the projection: %v", err)
	}
	if !c.Last() {
		t.Fatal("Last() = false")
	}
	if k, _ := c.Key(); k != 2 {
		t.Errorf("Key() after Last = %d", k)
	}
	if c.Next() {
		t.Error("Next() past the last row")
	}
	rows := pg.Maps()
	if len(rows) != 2 || rows[1]["TEXT_FR"] != "Bonjour b" || rows[1][FieldSegKey] != "2" {
		t.Errorf("Maps() = %v", rows)
	}
}

func TestPagerFilter(t *testing.T) {
	m := newTestTM(t, "en", "fr")
	_, err := m.Update(t.Context(), func(imp *Import) error {
		for i, flag := range []bool{true, false, true, true} {
			seg := texts("Hello", "Bonjour")
			seg[FieldFlag] = BoolValue(flag)
			if i == 3 {
				seg["TEXT_EN"] = StringValue("Goodbye world")
			}
			if _, err := imp.AddRecord(-1, nil, seg); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	p := NewPager(m)
	p.SetFilter(filter.EqualsBool(FieldFlag, true))
	if got := pageKeys(t, p.FirstPage); !slices.Equal(got, []int64{1, 3, 4}) {
		t.Errorf("flagged = %v", got)
	}
	p.SetFilter(filter.NewAnd(filter.EqualsBool(FieldFlag, true), filter.NewContains(filter.Field("TEXT_EN"), filter.String("WORLD"))))
	if got := pageKeys(t, p.FirstPage); !slices.Equal(got, []int64{4}) {
		t.Errorf("flagged and containing world = %v", got)
	}
	p.SetFilter(filter.NewContains(filter.Field(FieldFlag), filter.String("x")))
	if _, err := p.FirstPage(); !apierrors.IsTypeMismatch(err) {
		t.Errorf("filter on wrong type: %v", err)
	}
}
