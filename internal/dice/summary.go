package dice

import (
	"math"
	"math/big"

	"gonum.org/v1/gonum/stat"
)

// Summary is the presentation form of a table.
type Summary struct {
	Name        string    `json:"name"`
	Dice        string    `json:"diceStr"`
	Range       [2]int    `json:"range"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"stddev"`
	Outcomes    []int     `json:"outcomes"`
	Percentages []float64 `json:"percentages"`
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}

// Summarize computes the percentage of each outcome and the table's mean and
// population standard deviation, rounded to three decimals.
func Summarize(t Table) Summary {
	outcomes := t.Outcomes()
	events := t.ev()

	total := new(big.Int)
	for _, v := range events {
		total.Add(total, v)
	}
	denom := new(big.Float).SetInt(total)

	xs := make([]float64, len(outcomes))
	probs := make([]float64, len(outcomes))
	pcts := make([]float64, len(outcomes))
	for i, k := range outcomes {
		p, _ := new(big.Float).Quo(new(big.Float).SetInt(events[k]), denom).Float64()
		xs[i] = float64(k)
		probs[i] = p
		pcts[i] = p * 100
	}
	mean, std := stat.PopMeanStdDev(xs, probs)

	return Summary{
		Name:        t.String(),
		Dice:        t.record.String(),
		Range:       [2]int{outcomes[0], outcomes[len(outcomes)-1]},
		Mean:        round3(mean),
		StdDev:      round3(std),
		Outcomes:    outcomes,
		Percentages: pcts,
	}
}
