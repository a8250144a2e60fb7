// Package dice is the table algebra the cache is built on: die kinds, dice
// records (how many of each die) and the combined distribution tables built
// from them.
package dice

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MaxDieSize bounds the size of a single die and the largest face of a
// weighted die.
const MaxDieSize = 500

var (
	// ErrInvalidEvents is returned for dice that would produce no outcomes.
	ErrInvalidEvents = errors.New("dice: invalid events")

	// ErrLimits is returned when a die or request exceeds the configured limits.
	ErrLimits = errors.New("dice: limits exceeded")
)

// Die is one kind of random contributor.
//
// Key is a stable label that Parse turns back into an equal Die; two dice
// are the same kind exactly when their keys match.
type Die interface {
	Key() string
	String() string

	// Dict maps each outcome to its (positive) weight.
	Dict() map[int]int64

	Size() int
	Weight() int64

	// Modifier is the constant this die adds to every outcome. It is zero
	// for dice whose modifier is not separable from the die.
	Modifier() int

	// Unmodified returns the zero-modifier equivalent of the die, or nil
	// when the die is nothing but a modifier.
	Unmodified() Die
}

// Must panics when err is non-nil. It is meant for fixed dice in tests and
// package-level variables.
func Must(d Die, err error) Die {
	if err != nil {
		panic(err)
	}
	return d
}

func checkSize(size int) error {
	if size < 1 {
		return fmt.Errorf("%w: die size must be positive, got %d", ErrInvalidEvents, size)
	}
	if size > MaxDieSize {
		return fmt.Errorf("%w: max die size is %d, got %d", ErrLimits, MaxDieSize, size)
	}
	return nil
}

func checkDict(dict map[int]int64) error {
	if len(dict) == 0 {
		return fmt.Errorf("%w: weights may not be empty", ErrInvalidEvents)
	}
	var total int64
	for face, weight := range dict {
		if face < 1 {
			return fmt.Errorf("%w: faces must be positive, got %d", ErrInvalidEvents, face)
		}
		if face > MaxDieSize {
			return fmt.Errorf("%w: max die size is %d, got face %d", ErrLimits, MaxDieSize, face)
		}
		if weight < 0 {
			return fmt.Errorf("%w: weights may not be negative, got %d for %d", ErrInvalidEvents, weight, face)
		}
		total += weight
	}
	if total == 0 {
		return fmt.Errorf("%w: at least one weight must be positive", ErrInvalidEvents)
	}
	return nil
}

func shiftString(mod int) string {
	if mod < 0 {
		return fmt.Sprintf("%d", mod)
	}
	return fmt.Sprintf("+%d", mod)
}

// ----- Die -----

type standardDie struct {
	size int
}

// NewDie returns a fair die with faces 1..size.
func NewDie(size int) (Die, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return standardDie{size: size}, nil
}

func (d standardDie) Key() string    { return fmt.Sprintf("Die(%d)", d.size) }
func (d standardDie) String() string { return fmt.Sprintf("D%d", d.size) }
func (d standardDie) Size() int      { return d.size }
func (d standardDie) Weight() int64  { return 0 }
func (d standardDie) Modifier() int  { return 0 }
func (d standardDie) Unmodified() Die {
	return d
}

func (d standardDie) Dict() map[int]int64 {
	out := make(map[int]int64, d.size)
	for face := 1; face <= d.size; face++ {
		out[face] = 1
	}
	return out
}

// ----- ModDie -----

type modDie struct {
	size int
	mod  int
}

// NewModDie returns a fair die whose every face is shifted by mod.
func NewModDie(size, mod int) (Die, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return modDie{size: size, mod: mod}, nil
}

func (d modDie) Key() string    { return fmt.Sprintf("ModDie(%d, %d)", d.size, d.mod) }
func (d modDie) String() string { return fmt.Sprintf("D%d%s", d.size, shiftString(d.mod)) }
func (d modDie) Size() int      { return d.size }
func (d modDie) Weight() int64  { return 0 }
func (d modDie) Modifier() int  { return d.mod }

func (d modDie) Unmodified() Die {
	if d.mod == 0 {
		return d
	}
	return standardDie{size: d.size}
}

func (d modDie) Dict() map[int]int64 {
	out := make(map[int]int64, d.size)
	for face := 1; face <= d.size; face++ {
		out[face+d.mod] = 1
	}
	return out
}

// ----- WeightedDie -----

type weightedDie struct {
	raw map[int]int64
}

// NewWeightedDie returns a die rolling each face with the given weight.
// Zero weights are kept in the key but never rolled.
func NewWeightedDie(dict map[int]int64) (Die, error) {
	if err := checkDict(dict); err != nil {
		return nil, err
	}
	return weightedDie{raw: copyDict(dict)}, nil
}

func copyDict(dict map[int]int64) map[int]int64 {
	out := make(map[int]int64, len(dict))
	for k, v := range dict {
		out[k] = v
	}
	return out
}

func (d weightedDie) dictKey() string {
	faces := make([]int, 0, len(d.raw))
	for face := range d.raw {
		faces = append(faces, face)
	}
	sort.Ints(faces)
	parts := make([]string, len(faces))
	for i, face := range faces {
		parts[i] = fmt.Sprintf("%d: %d", face, d.raw[face])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (d weightedDie) Key() string    { return "WeightedDie(" + d.dictKey() + ")" }
func (d weightedDie) String() string { return fmt.Sprintf("D%d  W:%d", d.Size(), d.Weight()) }
func (d weightedDie) Modifier() int  { return 0 }
func (d weightedDie) Unmodified() Die {
	return d
}

func (d weightedDie) Size() int {
	size := 0
	for face := range d.raw {
		if face > size {
			size = face
		}
	}
	return size
}

func (d weightedDie) Weight() int64 {
	var total int64
	for _, w := range d.raw {
		total += w
	}
	return total
}

func (d weightedDie) Dict() map[int]int64 {
	out := make(map[int]int64, len(d.raw))
	for face, w := range d.raw {
		if w > 0 {
			out[face] = w
		}
	}
	return out
}

// ----- ModWeightedDie -----

type modWeightedDie struct {
	weightedDie
	mod int
}

// NewModWeightedDie returns a weighted die whose every face is shifted by mod.
func NewModWeightedDie(dict map[int]int64, mod int) (Die, error) {
	if err := checkDict(dict); err != nil {
		return nil, err
	}
	return modWeightedDie{weightedDie: weightedDie{raw: copyDict(dict)}, mod: mod}, nil
}

func (d modWeightedDie) Key() string {
	return fmt.Sprintf("ModWeightedDie(%s, %d)", d.dictKey(), d.mod)
}

func (d modWeightedDie) String() string {
	return fmt.Sprintf("D%d%s  W:%d", d.Size(), shiftString(d.mod), d.Weight())
}

func (d modWeightedDie) Modifier() int { return d.mod }

func (d modWeightedDie) Unmodified() Die {
	if d.mod == 0 {
		return d
	}
	return d.weightedDie
}

func (d modWeightedDie) Dict() map[int]int64 {
	base := d.weightedDie.Dict()
	out := make(map[int]int64, len(base))
	for face, w := range base {
		out[face+d.mod] = w
	}
	return out
}

// ----- StrongDie -----

type strongDie struct {
	inner      Die
	multiplier int
}

// NewStrongDie returns a die whose outcomes are those of inner multiplied by
// multiplier. A modifier on inner stays inside the strong die.
func NewStrongDie(inner Die, multiplier int) (Die, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: strong die needs an input die", ErrInvalidEvents)
	}
	if multiplier < 1 {
		return nil, fmt.Errorf("%w: multiplier must be positive, got %d", ErrInvalidEvents, multiplier)
	}
	return strongDie{inner: inner, multiplier: multiplier}, nil
}

func (d strongDie) Key() string {
	return fmt.Sprintf("StrongDie(%s, %d)", d.inner.Key(), d.multiplier)
}

func (d strongDie) String() string {
	return fmt.Sprintf("(%s)X(%d)", d.inner.String(), d.multiplier)
}

func (d strongDie) Size() int      { return d.inner.Size() }
func (d strongDie) Weight() int64  { return d.inner.Weight() }
func (d strongDie) Modifier() int  { return 0 }
func (d strongDie) Unmodified() Die { return d }

func (d strongDie) Dict() map[int]int64 {
	base := d.inner.Dict()
	out := make(map[int]int64, len(base))
	for face, w := range base {
		out[face*d.multiplier] += w
	}
	return out
}

// ----- Modifier -----

type modifier struct {
	mod int
}

// NewModifier returns a contributor that always adds mod.
func NewModifier(mod int) Die {
	return modifier{mod: mod}
}

func (d modifier) Key() string    { return fmt.Sprintf("Modifier(%d)", d.mod) }
func (d modifier) String() string { return shiftString(d.mod) }
func (d modifier) Size() int      { return 0 }
func (d modifier) Weight() int64  { return 0 }
func (d modifier) Modifier() int  { return d.mod }
func (d modifier) Unmodified() Die {
	return nil
}

func (d modifier) Dict() map[int]int64 {
	return map[int]int64{d.mod: 1}
}
