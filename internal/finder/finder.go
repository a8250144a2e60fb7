// Package finder locates the cached table that is closest to a requested
// record without exceeding it.
package finder

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"dicetables-db/internal/dice"
	"dicetables-db/internal/docid"
	"dicetables-db/internal/prep"
	"dicetables-db/internal/store"
)

// DefaultCloseEnough is the score ratio at which the search stops looking at
// smaller groups.
const DefaultCloseEnough = 0.8

var tracer = otel.Tracer("dicetables/finder")

type Options struct {
	// CloseEnough in (0, 1]; zero means DefaultCloseEnough.
	CloseEnough float64
}

// Match is a stored record usable as a base for the requested one.
type Match struct {
	ID    docid.ID
	Score int
	Exact bool
}

type Finder struct {
	store       store.Store
	record      dice.Record
	score       int
	closeEnough float64
}

// New prepares a finder for r, which must be canonical and non-empty.
func New(s store.Store, r dice.Record, opts Options) (*Finder, error) {
	if r.IsEmpty() {
		return nil, prep.ErrEmptyRecord
	}
	ce := opts.CloseEnough
	if ce <= 0 || ce > 1 {
		ce = DefaultCloseEnough
	}
	return &Finder{store: s, record: r, score: prep.Score(r), closeEnough: ce}, nil
}

// Exact looks up the stored record of exactly the requested dice.
func (f *Finder) Exact(ctx context.Context) (docid.ID, bool, error) {
	doc, ok, err := f.store.FindOne(ctx, prep.ExactFilter(f.record), store.Projection{store.IDField: true})
	if err != nil || !ok {
		return docid.ID{}, false, err
	}
	id, ok := doc.ID()
	if !ok {
		return docid.ID{}, false, fmt.Errorf("finder: exact match without %s", store.IDField)
	}
	return id, true, nil
}

// Nearest scans candidate groups from the largest down and returns the
// highest scoring record contained in the request. The scan stops after the
// first group size whose best score reaches CloseEnough of the request's.
func (f *Finder) Nearest(ctx context.Context) (Match, bool, error) {
	search, err := prep.NewSearch(f.record)
	if err != nil {
		return Match{}, false, err
	}

	var (
		best  Match
		found bool
	)
	proj := store.Projection{store.IDField: true, prep.ScoreField: true}
	for {
		_, candidates, ok := search.Next()
		if !ok {
			break
		}
		for _, c := range candidates {
			docs, err := f.store.Find(ctx, c.Filter(f.score), proj)
			if err != nil {
				return Match{}, false, fmt.Errorf("finder: group %q: %w", c.Group, err)
			}
			for _, doc := range docs {
				score, ok := doc.Int(prep.ScoreField)
				if !ok {
					continue
				}
				id, ok := doc.ID()
				if !ok {
					continue
				}
				// first maximum wins
				if !found || int(score) > best.Score {
					best = Match{ID: id, Score: int(score)}
					found = true
				}
			}
		}
		if found && float64(best.Score)/float64(f.score) >= f.closeEnough {
			break
		}
	}
	return best, found, nil
}

// Find tries the exact match first and falls back to Nearest.
func (f *Finder) Find(ctx context.Context) (Match, bool, error) {
	ctx, span := tracer.Start(ctx, "finder.find")
	defer span.End()
	span.SetAttributes(
		attribute.String("dicetables.group", prep.GroupKey(prep.Labels(f.record))),
		attribute.Int("dicetables.score", f.score),
	)

	m, ok, err := f.find(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Match{}, false, err
	}
	span.SetAttributes(attribute.Bool("dicetables.found", ok))
	if ok {
		span.SetAttributes(
			attribute.Bool("dicetables.exact", m.Exact),
			attribute.Int("dicetables.match_score", m.Score),
		)
	}
	return m, ok, nil
}

func (f *Finder) find(ctx context.Context) (Match, bool, error) {
	id, ok, err := f.Exact(ctx)
	if err != nil {
		return Match{}, false, err
	}
	if ok {
		return Match{ID: id, Score: f.score, Exact: true}, true, nil
	}
	return f.Nearest(ctx)
}
