package simulation

import "fmt"

// SimulationResult is the response payload of one successful run.
type SimulationResult struct {
	FactorLevels    []float64 `json:"factor_levels"`
	HestonPrices    []float64 `json:"heston_prices"`
	HestonVariances []float64 `json:"heston_variances"`

	RunID string `json:"-"`
}

// Assemble packages both stages' output. The result shares no memory with
// its inputs. Price and variance series come from one table, so a length
// mismatch is a bug and panics.
func Assemble(factor FactorSeries, heston HestonSeries) SimulationResult {
	if len(heston.Prices) != len(heston.Variances) {
		panic(fmt.Sprintf("simulation: heston series length mismatch: %d prices, %d variances",
			len(heston.Prices), len(heston.Variances)))
	}
	return SimulationResult{
		FactorLevels:    append([]float64{}, factor...),
		HestonPrices:    append([]float64{}, heston.Prices...),
		HestonVariances: append([]float64{}, heston.Variances...),
	}
}
