// Package builder grows a base table toward a target record in bounded
// steps. Every intermediate step is reported so it can be cached.
package builder

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"dicetables-db/internal/dice"
	"dicetables-db/internal/metrics"
	"dicetables-db/internal/prep"
)

// DefaultStep is the work budget of one saved step.
const DefaultStep = 30

var tracer = otel.Tracer("dicetables/builder")

// ExceedsTargetError reports a base table that holds more of a die than the
// target asks for.
type ExceedsTargetError struct {
	Die  string
	Have int
	Want int
}

func (e *ExceedsTargetError) Error() string {
	return fmt.Sprintf("builder: base has %d of %s, target wants %d", e.Have, e.Die, e.Want)
}

// Progress is one event on the observer channel. Table describes a newly
// built intermediate; Done marks the end of the stream.
type Progress struct {
	Table string `json:"table,omitempty"`
	Done  bool   `json:"done,omitempty"`
}

type Builder struct {
	step int
}

// New returns a builder; step <= 0 means DefaultStep.
func New(step int) *Builder {
	if step <= 0 {
		step = DefaultStep
	}
	return &Builder{step: step}
}

func (b *Builder) Step() int { return b.step }

// DieStep is how many of d one saved step adds. Dice with more outcomes
// advance in smaller increments.
func (b *Builder) DieStep(d dice.Die) int {
	return max(1, b.step/max(prep.UnitSize(d), 1))
}

// Validate checks that base can be grown into target.
func Validate(target dice.Record, base dice.Table) error {
	for _, e := range base.Record().Entries() {
		if want := target.CountKey(e.Die.Key()); e.Count > want {
			return &ExceedsTargetError{Die: e.Die.Key(), Have: e.Count, Want: want}
		}
	}
	return nil
}

// Build grows base into target. It returns the exact target table and the
// save list of intermediates, in the order they were built. The final table
// is never on the save list unless it was also a step. When progress is not
// nil one event is sent per save-list entry; Build does not send Done.
func (b *Builder) Build(ctx context.Context, target dice.Record, base dice.Table, progress chan<- Progress) (dice.Table, []dice.Table, error) {
	ctx, span := tracer.Start(ctx, "builder.build")
	defer span.End()
	span.SetAttributes(
		attribute.String("dicetables.target", target.String()),
		attribute.Int("dicetables.step", b.step),
	)

	final, saveList, err := b.build(ctx, target, base, progress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dice.Table{}, nil, err
	}
	span.SetAttributes(attribute.Int("dicetables.save_list", len(saveList)))
	return final, saveList, nil
}

func (b *Builder) build(ctx context.Context, target dice.Record, base dice.Table, progress chan<- Progress) (dice.Table, []dice.Table, error) {
	if err := Validate(target, base); err != nil {
		return dice.Table{}, nil, err
	}
	if target.IsEmpty() {
		return base, nil, nil
	}

	var saveList []dice.Table
	current := base
	for _, e := range target.Entries() {
		step := b.DieStep(e.Die)
		for current.Count(e.Die)+step <= e.Count {
			if err := ctx.Err(); err != nil {
				return dice.Table{}, nil, err
			}
			next, err := current.Add(e.Die, step)
			if err != nil {
				return dice.Table{}, nil, fmt.Errorf("builder: add %d of %s: %w", step, e.Die.Key(), err)
			}
			current = next
			saveList = append(saveList, current)
			metrics.BuilderStepsTotal.Inc()
			if err := emit(ctx, progress, Progress{Table: current.String()}); err != nil {
				return dice.Table{}, nil, err
			}
		}
	}

	final := current
	for _, e := range target.Entries() {
		rest := e.Count - final.Count(e.Die)
		if rest == 0 {
			continue
		}
		next, err := final.Add(e.Die, rest)
		if err != nil {
			return dice.Table{}, nil, fmt.Errorf("builder: add %d of %s: %w", rest, e.Die.Key(), err)
		}
		final = next
	}
	return final, saveList, nil
}

func emit(ctx context.Context, progress chan<- Progress, p Progress) error {
	if progress == nil {
		return nil
	}
	select {
	case progress <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
