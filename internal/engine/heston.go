package engine

// HestonEngine is the stochastic-volatility price/variance simulator.
// Positional arguments: initial_price initial_variance kappa theta sigma_v rho dt
// idiosyncratic duration followed by one argument per exposure weight.
type HestonEngine struct{}

func (h *HestonEngine) Name() string { return Heston }

func (h *HestonEngine) Label() string { return "Heston model" }

func (h *HestonEngine) BinaryName() string { return platformBinary("heston_model") }

func (h *HestonEngine) OutputFile() string { return "heston_output.csv" }
