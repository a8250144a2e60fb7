package dice

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// DefaultMaxDiceValue bounds the total size of a parsed request.
const DefaultMaxDiceValue = 12000

// reservedDelimiterChars may appear inside a die expression and so can not
// separate counts or pairs.
const reservedDelimiterChars = "_[]{}(),: -=\v\f" +
	"0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ErrBadDelimiter is returned for request delimiters that clash with die syntax.
var ErrBadDelimiter = errors.New("dice: bad delimiter")

// ParseError reports malformed die or request text.
type ParseError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dice: parse %q at %d: %s", e.Input, e.Pos, e.Msg)
}

var dieParams = map[string][]string{
	"die":            {"die_size"},
	"moddie":         {"die_size", "modifier"},
	"weighteddie":    {"dictionary_input"},
	"modweighteddie": {"dictionary_input", "modifier"},
	"strongdie":      {"input_die", "multiplier"},
	"modifier":       {"modifier"},
}

// Parse reads a single die such as "Die(6)", "ModDie(6, -2)",
// "WeightedDie({1: 2, 3: 4})" or "StrongDie(Die(4), 3)". Names and keyword
// arguments are case-insensitive. Parse(d.Key()) yields a die equal to d.
func Parse(text string) (Die, error) {
	p := &parser{src: text}
	d, err := p.die()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected %q after die", p.src[p.pos:])
	}
	return d, nil
}

// RequestOptions controls ParseRequest. Zero values select "*", "&" and
// DefaultMaxDiceValue.
type RequestOptions struct {
	NumDelimiter   string
	PairsDelimiter string
	MaxDiceValue   int
}

func (o RequestOptions) withDefaults() RequestOptions {
	if o.NumDelimiter == "" {
		o.NumDelimiter = "*"
	}
	if o.PairsDelimiter == "" {
		o.PairsDelimiter = "&"
	}
	if o.MaxDiceValue <= 0 {
		o.MaxDiceValue = DefaultMaxDiceValue
	}
	return o
}

func checkDelimiter(name, delim string) error {
	if strings.ContainsAny(delim, reservedDelimiterChars) {
		return fmt.Errorf("%w: %s %q may not contain any of %q", ErrBadDelimiter, name, delim, reservedDelimiterChars)
	}
	return nil
}

// ParseRequest reads a request such as "2*Die(6) & Die(4)" into a record.
// A pair without a count means one die. Blank text is the empty record.
func ParseRequest(text string, opts RequestOptions) (Record, error) {
	opts = opts.withDefaults()
	if err := checkDelimiter("num delimiter", opts.NumDelimiter); err != nil {
		return Record{}, err
	}
	if err := checkDelimiter("pairs delimiter", opts.PairsDelimiter); err != nil {
		return Record{}, err
	}
	if opts.NumDelimiter == opts.PairsDelimiter {
		return Record{}, fmt.Errorf("%w: num and pairs delimiters must differ", ErrBadDelimiter)
	}

	var rec Record
	if strings.TrimSpace(text) == "" {
		return rec, nil
	}
	for _, pair := range strings.Split(text, opts.PairsDelimiter) {
		count, dieText := 1, pair
		if strings.Contains(pair, opts.NumDelimiter) {
			parts := strings.Split(pair, opts.NumDelimiter)
			if len(parts) != 2 {
				return Record{}, &ParseError{Input: pair, Msg: "more than one count"}
			}
			n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
			if err != nil {
				return Record{}, &ParseError{Input: pair, Msg: fmt.Sprintf("bad count %q", strings.TrimSpace(parts[0]))}
			}
			count, dieText = n, parts[1]
		}
		d, err := Parse(strings.TrimSpace(dieText))
		if err != nil {
			return Record{}, err
		}
		rec, err = rec.Add(d, count)
		if err != nil {
			return Record{}, err
		}
	}

	if err := CheckDiceValue(rec, opts.MaxDiceValue); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// CheckDiceValue rejects records whose summed max(size, outcomes)*count is
// above limit.
func CheckDiceValue(r Record, limit int) error {
	total := 0
	for _, e := range r.Entries() {
		total += max(e.Die.Size(), len(e.Die.Dict())) * e.Count
	}
	if total > limit {
		return fmt.Errorf("%w: the sum of all max(die_size, len(die_dict))*die_number must be <= %d", ErrLimits, limit)
	}
	return nil
}

// ----- recursive descent -----

type parser struct {
	src string
	pos int
}

type arg struct {
	name  string
	value any
	pos   int
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) consume(c byte) bool {
	p.skipSpace()
	if p.peek() == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) errorf(format string, a ...any) error {
	return &ParseError{Input: p.src, Pos: p.pos, Msg: fmt.Sprintf(format, a...)}
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}

func (p *parser) ident() string {
	p.skipSpace()
	start := p.pos
	for !p.eof() && isIdentByte(p.src[p.pos], p.pos == start) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) integer() (int, error) {
	p.skipSpace()
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	for !p.eof() && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	n, err := strconv.Atoi(p.src[start:p.pos])
	if err != nil {
		p.pos = start
		return 0, p.errorf("expected integer")
	}
	return n, nil
}

func (p *parser) dict() (map[int]int64, error) {
	if !p.consume('{') {
		return nil, p.errorf("expected '{'")
	}
	out := map[int]int64{}
	if p.consume('}') {
		return out, nil
	}
	for {
		face, err := p.integer()
		if err != nil {
			return nil, err
		}
		if !p.consume(':') {
			return nil, p.errorf("expected ':'")
		}
		weight, err := p.integer()
		if err != nil {
			return nil, err
		}
		if _, dup := out[face]; dup {
			return nil, p.errorf("duplicate face %d", face)
		}
		out[face] = int64(weight)
		if p.consume('}') {
			return out, nil
		}
		if !p.consume(',') {
			return nil, p.errorf("expected ',' or '}'")
		}
	}
}

func (p *parser) value() (any, error) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == '{':
		return p.dict()
	case c == '-' || c == '+' || (c >= '0' && c <= '9'):
		return p.integer()
	case isIdentByte(c, true):
		return p.die()
	}
	return nil, p.errorf("expected value")
}

func (p *parser) args() ([]arg, error) {
	var out []arg
	if p.consume(')') {
		return out, nil
	}
	for {
		p.skipSpace()
		a := arg{pos: p.pos}
		save := p.pos
		if name := p.ident(); name != "" && p.consume('=') {
			a.name = strings.ToLower(name)
		} else {
			p.pos = save
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		a.value = v
		out = append(out, a)
		if p.consume(')') {
			return out, nil
		}
		if !p.consume(',') {
			return nil, p.errorf("expected ',' or ')'")
		}
	}
}

func (p *parser) die() (Die, error) {
	p.skipSpace()
	start := p.pos
	name := p.ident()
	if name == "" {
		return nil, p.errorf("expected die name")
	}
	kind := strings.ToLower(name)
	params, ok := dieParams[kind]
	if !ok {
		p.pos = start
		return nil, p.errorf("unknown die %q", name)
	}
	if !p.consume('(') {
		return nil, p.errorf("expected '('")
	}
	args, err := p.args()
	if err != nil {
		return nil, err
	}
	bound, err := bindArgs(params, args)
	if err != nil {
		return nil, &ParseError{Input: p.src, Pos: start, Msg: err.Error()}
	}
	d, err := buildDie(kind, bound)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Input, pe.Pos = p.src, start
		}
		return nil, err
	}
	return d, nil
}

func bindArgs(params []string, args []arg) (map[string]any, error) {
	if len(args) > len(params) {
		return nil, fmt.Errorf("takes %d arguments, got %d", len(params), len(args))
	}
	bound := make(map[string]any, len(params))
	keyword := false
	for i, a := range args {
		name := a.name
		if name == "" {
			if keyword {
				return nil, errors.New("positional argument after keyword argument")
			}
			name = params[i]
		} else {
			keyword = true
		}
		known := false
		for _, p := range params {
			known = known || p == name
		}
		if !known {
			return nil, fmt.Errorf("unexpected argument %q", name)
		}
		if _, dup := bound[name]; dup {
			return nil, fmt.Errorf("argument %q given twice", name)
		}
		bound[name] = a.value
	}
	for _, p := range params {
		if _, ok := bound[p]; !ok {
			return nil, fmt.Errorf("missing argument %q", p)
		}
	}
	return bound, nil
}

func intArg(bound map[string]any, name string) (int, error) {
	v, ok := bound[name].(int)
	if !ok {
		return 0, &ParseError{Msg: fmt.Sprintf("%s must be an integer", name)}
	}
	return v, nil
}

func dictArg(bound map[string]any, name string) (map[int]int64, error) {
	v, ok := bound[name].(map[int]int64)
	if !ok {
		return nil, &ParseError{Msg: fmt.Sprintf("%s must be a dictionary", name)}
	}
	return v, nil
}

func buildDie(kind string, bound map[string]any) (Die, error) {
	switch kind {
	case "die":
		size, err := intArg(bound, "die_size")
		if err != nil {
			return nil, err
		}
		return NewDie(size)
	case "moddie":
		size, err := intArg(bound, "die_size")
		if err != nil {
			return nil, err
		}
		mod, err := intArg(bound, "modifier")
		if err != nil {
			return nil, err
		}
		return NewModDie(size, mod)
	case "weighteddie":
		dict, err := dictArg(bound, "dictionary_input")
		if err != nil {
			return nil, err
		}
		return NewWeightedDie(dict)
	case "modweighteddie":
		dict, err := dictArg(bound, "dictionary_input")
		if err != nil {
			return nil, err
		}
		mod, err := intArg(bound, "modifier")
		if err != nil {
			return nil, err
		}
		return NewModWeightedDie(dict, mod)
	case "strongdie":
		inner, ok := bound["input_die"].(Die)
		if !ok {
			return nil, &ParseError{Msg: "input_die must be a die"}
		}
		mult, err := intArg(bound, "multiplier")
		if err != nil {
			return nil, err
		}
		return NewStrongDie(inner, mult)
	default:
		mod, err := intArg(bound, "modifier")
		if err != nil {
			return nil, err
		}
		return NewModifier(mod), nil
	}
}
