package fulltext

import (
	"cmp"
	"context"
	"runtime"
	"slices"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	apierrors "github.com/maruel/tmdb/internal/errors"
)

// Query is a fuzzy search request.
type Query struct {
	// Text is matched against the variants of Locale.
	Text  string
	Codes string
	// TMIDs restricts the search to these TMs; empty searches all of them.
	TMIDs  []string
	Locale string
	// MaxResults caps the number of hits; 0 returns them all.
	MaxResults int
	// Threshold is the minimum score in [0, 100].
	Threshold float64
	// Attributes must all match exactly. They do not change scores.
	Attributes map[string]string
}

// Hit is one search result.
type Hit struct {
	ID    ID
	Score float64
	// Text and Codes of the matched variant.
	Text  string
	Codes string
	Entry Entry
}

// Seeker reads the snapshot that was current when it was opened.
type Seeker struct {
	snap *snapshot
}

// Len returns the number of entries visible to the seeker.
func (s *Seeker) Len() int {
	if s.snap == nil {
		return 0
	}
	return len(s.snap.ids)
}

// Close releases the snapshot.
func (s *Seeker) Close() error {
	s.snap = nil
	return nil
}

// chunk is the number of candidates scored per goroutine.
const chunk = 256

// SearchFuzzy returns the entries whose Locale variant resembles q.Text,
// best first. Ties are ordered by TM then segment key.
//
// An identical text scores 100. Otherwise the score is derived from the
// edit distance between the generic forms, capped at 99 when only the
// generic forms are equal, and lowered by one when the codes differ.
func (s *Seeker) SearchFuzzy(ctx context.Context, q Query) ([]Hit, error) {
	if s.snap == nil {
		return nil, apierrors.IndexUnavailable("seeker is closed", nil)
	}
	if q.Threshold < 0 || q.Threshold > 100 {
		return nil, apierrors.BadRequest("threshold %g out of range [0, 100]", q.Threshold)
	}
	if q.MaxResults < 0 {
		return nil, apierrors.BadRequest("max results %d is negative", q.MaxResults)
	}
	g := Generic(q.Text)
	cand := s.candidates(g, q)
	if cand == nil || cand.IsEmpty() {
		return nil, nil
	}
	nums := cand.ToArray()
	parts := make([][]Hit, (len(nums)+chunk-1)/chunk)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i := range parts {
		eg.Go(func() error {
			lo := i * chunk
			hi := min(lo+chunk, len(nums))
			for _, n := range nums[lo:hi] {
				if err := ctx.Err(); err != nil {
					return err
				}
				if h, ok := s.score(n, g, q); ok {
					parts[i] = append(parts[i], h)
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	hits := slices.Concat(parts...)
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ID.TMID, b.ID.TMID); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.SegKey, b.ID.SegKey)
	})
	if q.MaxResults > 0 && len(hits) > q.MaxResults {
		hits = hits[:q.MaxResults]
	}
	return hits, nil
}

// candidates returns the entries sharing a trigram with g in the query
// locale, narrowed by TM and attributes.
func (s *Seeker) candidates(g string, q Query) *roaring.Bitmap {
	cand := roaring.New()
	for _, t := range trigrams(g) {
		if bm := s.snap.grams[gramKey(q.Locale, t)]; bm != nil {
			cand.Or(bm)
		}
	}
	if len(q.TMIDs) > 0 {
		scope := roaring.New()
		for _, id := range q.TMIDs {
			if bm := s.snap.tms[id]; bm != nil {
				scope.Or(bm)
			}
		}
		cand.And(scope)
	}
	for k, v := range q.Attributes {
		bm := s.snap.attrs[attrKey(k, v)]
		if bm == nil {
			return nil
		}
		cand.And(bm)
	}
	return cand
}

func (s *Seeker) score(n uint32, g string, q Query) (Hit, bool) {
	d := s.snap.docs[n]
	if d == nil {
		return Hit{}, false
	}
	v, ok := d.entry.Variant(q.Locale)
	if !ok {
		return Hit{}, false
	}
	var sc float64
	switch {
	case v.Text == q.Text:
		sc = 100
	case v.Generic == g:
		sc = 99
	default:
		// The edit distance is at least the length difference.
		la, lb := utf8.RuneCountInString(g), utf8.RuneCountInString(v.Generic)
		if 100*float64(min(la, lb))/float64(max(la, lb)) < q.Threshold {
			return Hit{}, false
		}
		sc = min(similarity(g, v.Generic), 99)
	}
	if v.Codes != q.Codes {
		sc = max(sc-1, 0)
	}
	if sc < q.Threshold {
		return Hit{}, false
	}
	return Hit{ID: d.entry.ID, Score: sc, Text: v.Text, Codes: v.Codes, Entry: cloneEntry(&d.entry)}, true
}
