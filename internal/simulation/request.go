package simulation

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Parameter bounds.
const (
	MinDuration  = 1
	MaxDuration  = 10000
	MaxVol       = 5.0
	MinAssets    = 1
	MaxAssets    = 50
	MaxExposures = 50
)

// Request holds the validated parameters for one simulation. It is passed by
// value; Exposures is copied on construction and must not be modified.
type Request struct {
	Duration        int
	Volatility      float64
	Seed            int64
	NumAssets       int
	InitialPrice    float64
	InitialVariance float64
	Kappa           float64
	Theta           float64
	SigmaV          float64
	Rho             float64
	Dt              float64
	Idiosyncratic   float64
	Exposures       []float64
}

// DefaultRequest returns the parameters used when a query omits them.
func DefaultRequest() Request {
	return Request{
		Duration:        100,
		Volatility:      0.2,
		Seed:            42,
		NumAssets:       1,
		InitialPrice:    100.0,
		InitialVariance: 0.04,
		Kappa:           2.0,
		Theta:           0.04,
		SigmaV:          0.3,
		Rho:             -0.7,
		Dt:              0.01,
		Idiosyncratic:   0.1,
		Exposures:       []float64{1},
	}
}

// ParseQuery builds a Request from HTTP query parameters, applying defaults
// for missing values. It has no side effects.
func ParseQuery(q url.Values) (Request, error) {
	req := DefaultRequest()
	p := queryParser{q: q}

	p.int("duration", &req.Duration)
	p.float("volatility", &req.Volatility)
	p.int64("seed", &req.Seed)
	p.int("num_assets", &req.NumAssets)
	p.float("initial_price", &req.InitialPrice)
	p.float("initial_variance", &req.InitialVariance)
	p.float("kappa", &req.Kappa)
	p.float("theta", &req.Theta)
	p.float("sigma_v", &req.SigmaV)
	p.float("rho", &req.Rho)
	p.float("dt", &req.Dt)
	p.float("idiosyncratic", &req.Idiosyncratic)
	if p.err != nil {
		return Request{}, p.err
	}

	if raw, ok := lookup(q, "factor_exposures"); ok {
		exposures, err := ParseExposures(raw)
		if err != nil {
			return Request{}, err
		}
		req.Exposures = exposures
	}

	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// ParseExposures parses a comma-separated list of reals. Each token is
// whitespace-trimmed; any empty or non-numeric token fails the whole list.
func ParseExposures(raw string) ([]float64, error) {
	tokens := strings.Split(raw, ",")
	if len(tokens) > MaxExposures {
		return nil, &ValidationError{
			Field:   "factor_exposures",
			Message: fmt.Sprintf("at most %d exposures are allowed", MaxExposures),
		}
	}
	exposures := make([]float64, 0, len(tokens))
	for _, tok := range tokens {
		v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ValidationError{
				Field:   "factor_exposures",
				Message: "Invalid format for factor_exposures: expected a comma-separated list of numbers",
			}
		}
		exposures = append(exposures, v)
	}
	return exposures, nil
}

// Validate enforces every parameter bound. Requests built by hand (rather
// than by ParseQuery) must pass this before reaching an engine.
func (r Request) Validate() error {
	switch {
	case r.Duration < MinDuration || r.Duration > MaxDuration:
		return rangeError("duration", fmt.Sprintf("must be between %d and %d", MinDuration, MaxDuration))
	case !finite(r.Volatility) || r.Volatility < 0 || r.Volatility > MaxVol:
		return rangeError("volatility", fmt.Sprintf("must be between 0 and %g", MaxVol))
	case r.NumAssets < MinAssets || r.NumAssets > MaxAssets:
		return rangeError("num_assets", fmt.Sprintf("must be between %d and %d", MinAssets, MaxAssets))
	case !finite(r.InitialPrice) || r.InitialPrice <= 0:
		return rangeError("initial_price", "must be greater than 0")
	case !finite(r.InitialVariance) || r.InitialVariance < 0:
		return rangeError("initial_variance", "must be non-negative")
	case !finite(r.Kappa) || r.Kappa < 0:
		return rangeError("kappa", "must be non-negative")
	case !finite(r.Theta) || r.Theta < 0:
		return rangeError("theta", "must be non-negative")
	case !finite(r.SigmaV) || r.SigmaV < 0:
		return rangeError("sigma_v", "must be non-negative")
	case !finite(r.Rho) || r.Rho < -1 || r.Rho > 1:
		return rangeError("rho", "must be between -1 and 1")
	case !finite(r.Dt) || r.Dt <= 0:
		return rangeError("dt", "must be greater than 0")
	case !finite(r.Idiosyncratic) || r.Idiosyncratic < 0:
		return rangeError("idiosyncratic", "must be non-negative")
	case len(r.Exposures) == 0 || len(r.Exposures) > MaxExposures:
		return rangeError("factor_exposures", fmt.Sprintf("must contain between 1 and %d values", MaxExposures))
	}
	for _, e := range r.Exposures {
		if !finite(e) {
			return rangeError("factor_exposures", "values must be finite numbers")
		}
	}
	return nil
}

// Clone returns a copy that shares no memory with r.
func (r Request) Clone() Request {
	c := r
	c.Exposures = append([]float64(nil), r.Exposures...)
	return c
}

// FactorArgs is the factor engine's positional argument vector.
func (r Request) FactorArgs() []string {
	return []string{
		strconv.Itoa(r.Duration),
		FormatFloat(r.Volatility),
		strconv.Itoa(r.NumAssets),
		strconv.FormatInt(r.Seed, 10),
	}
}

// HestonArgs is the Heston engine's positional argument vector: model
// parameters, duration, then one argument per exposure weight.
func (r Request) HestonArgs() []string {
	args := []string{
		FormatFloat(r.InitialPrice),
		FormatFloat(r.InitialVariance),
		FormatFloat(r.Kappa),
		FormatFloat(r.Theta),
		FormatFloat(r.SigmaV),
		FormatFloat(r.Rho),
		FormatFloat(r.Dt),
		FormatFloat(r.Idiosyncratic),
		strconv.Itoa(r.Duration),
	}
	for _, e := range r.Exposures {
		args = append(args, FormatFloat(e))
	}
	return args
}

// FormatFloat renders v as the shortest decimal string that round-trips,
// always with a fractional part or exponent ("100.0", "0.2", "1e-05").
func FormatFloat(v float64) string {
	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

type queryParser struct {
	q   url.Values
	err error
}

func (p *queryParser) int(name string, dst *int) {
	raw, ok := p.raw(name)
	if !ok {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.err = &ValidationError{Field: name, Message: "must be an integer"}
		return
	}
	*dst = v
}

func (p *queryParser) int64(name string, dst *int64) {
	raw, ok := p.raw(name)
	if !ok {
		return
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.err = &ValidationError{Field: name, Message: "must be an integer"}
		return
	}
	*dst = v
}

func (p *queryParser) float(name string, dst *float64) {
	raw, ok := p.raw(name)
	if !ok {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !finite(v) {
		p.err = &ValidationError{Field: name, Message: "must be a number"}
		return
	}
	*dst = v
}

// raw returns the trimmed value for name, or false if absent or an earlier
// parameter already failed.
func (p *queryParser) raw(name string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := lookup(p.q, name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func lookup(q url.Values, name string) (string, bool) {
	vs, ok := q[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func rangeError(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
