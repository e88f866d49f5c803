package engine

// FactorEngine is the cross-sectional factor-level simulator.
// Positional arguments: duration volatility num_assets seed.
type FactorEngine struct{}

func (f *FactorEngine) Name() string { return Factor }

func (f *FactorEngine) Label() string { return "Factor model" }

func (f *FactorEngine) BinaryName() string { return platformBinary("factor_model") }

func (f *FactorEngine) OutputFile() string { return "factor_output.csv" }
