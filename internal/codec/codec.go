// Package codec turns tables into the opaque blob stored in the
// "serialized" column and back.
//
// The blob is zstd-compressed JSON carrying the event counts and the
// record, with dice written by key.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/klauspost/compress/zstd"

	"dicetables-db/internal/dice"
)

var ErrCorrupt = errors.New("codec: corrupt table blob")

type payload struct {
	Events map[int]*big.Int `json:"events"`
	Dice   []dieCount       `json:"dice"`
}

type dieCount struct {
	Die   string `json:"die"`
	Count int    `json:"count"`
}

var (
	encoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	})
	decoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// Encode serializes t.
func Encode(t dice.Table) ([]byte, error) {
	entries := t.Record().Entries()
	p := payload{
		Events: t.Events(),
		Dice:   make([]dieCount, len(entries)),
	}
	for i, e := range entries {
		p.Dice[i] = dieCount{Die: e.Die.Key(), Count: e.Count}
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal table: %w", err)
	}
	enc, err := encoder()
	if err != nil {
		return nil, fmt.Errorf("codec: zstd encoder: %w", err)
	}
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decode is the inverse of Encode.
func Decode(blob []byte) (dice.Table, error) {
	dec, err := decoder()
	if err != nil {
		return dice.Table{}, fmt.Errorf("codec: zstd decoder: %w", err)
	}
	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return dice.Table{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return dice.Table{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var rec dice.Record
	for _, dc := range p.Dice {
		d, err := dice.Parse(dc.Die)
		if err != nil {
			return dice.Table{}, fmt.Errorf("%w: die %q: %v", ErrCorrupt, dc.Die, err)
		}
		if rec, err = rec.Add(d, dc.Count); err != nil {
			return dice.Table{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	t, err := dice.NewTableFrom(p.Events, rec)
	if err != nil {
		return dice.Table{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return t, nil
}
