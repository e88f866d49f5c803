package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"factor-heston-sim/internal/config"
	"factor-heston-sim/internal/engine"
	"factor-heston-sim/internal/simulation"
)

var (
	serverURL string
	timeout   time.Duration

	params    = simulation.DefaultRequest()
	exposures string

	runStatus string
	runLimit  int
)

func main() {
	root := &cobra.Command{
		Use:   "sim-cli",
		Short: "CLI client for factor-heston-sim",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("SIM_SERVER", "http://localhost:8080"), "Server URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 150*time.Second, "HTTP request timeout")

	simCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a factor + Heston simulation",
		Args:  cobra.NoArgs,
		RunE:  runSimulate,
	}
	f := simCmd.Flags()
	f.IntVar(&params.Duration, "duration", params.Duration, "Number of simulated periods")
	f.Float64Var(&params.Volatility, "volatility", params.Volatility, "Factor volatility")
	f.Int64Var(&params.Seed, "seed", params.Seed, "Random seed")
	f.IntVar(&params.NumAssets, "num-assets", params.NumAssets, "Number of assets")
	f.Float64Var(&params.InitialPrice, "initial-price", params.InitialPrice, "Initial asset price")
	f.Float64Var(&params.InitialVariance, "initial-variance", params.InitialVariance, "Initial variance")
	f.Float64Var(&params.Kappa, "kappa", params.Kappa, "Mean reversion speed")
	f.Float64Var(&params.Theta, "theta", params.Theta, "Long-run variance")
	f.Float64Var(&params.SigmaV, "sigma-v", params.SigmaV, "Volatility of variance")
	f.Float64Var(&params.Rho, "rho", params.Rho, "Price/variance correlation")
	f.Float64Var(&params.Dt, "dt", params.Dt, "Time step")
	f.Float64Var(&params.Idiosyncratic, "idiosyncratic", params.Idiosyncratic, "Idiosyncratic volatility")
	f.StringVar(&exposures, "factor-exposures", "1", "Comma-separated factor exposures")
	root.AddCommand(simCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect audited simulation runs",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&runStatus, "status", "", "Filter by outcome (success, validation, timeout, ...)")
	listCmd.Flags().IntVar(&runLimit, "limit", 20, "Maximum runs to return")
	runsCmd.AddCommand(listCmd)
	runsCmd.AddCommand(&cobra.Command{
		Use:   "get [run-id]",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	})
	root.AddCommand(runsCmd)

	enginesCmd := &cobra.Command{
		Use:   "engines",
		Short: "Local engine installation commands",
	}
	enginesCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Verify the engine executables configured for this host",
		Args:  cobra.NoArgs,
		RunE:  runEnginesCheck,
	})
	root.AddCommand(enginesCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSimulate(_ *cobra.Command, _ []string) error {
	exp, err := simulation.ParseExposures(exposures)
	if err != nil {
		return err
	}
	params.Exposures = exp
	if err := params.Validate(); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("duration", strconv.Itoa(params.Duration))
	q.Set("volatility", simulation.FormatFloat(params.Volatility))
	q.Set("seed", strconv.FormatInt(params.Seed, 10))
	q.Set("num_assets", strconv.Itoa(params.NumAssets))
	q.Set("initial_price", simulation.FormatFloat(params.InitialPrice))
	q.Set("initial_variance", simulation.FormatFloat(params.InitialVariance))
	q.Set("kappa", simulation.FormatFloat(params.Kappa))
	q.Set("theta", simulation.FormatFloat(params.Theta))
	q.Set("sigma_v", simulation.FormatFloat(params.SigmaV))
	q.Set("rho", simulation.FormatFloat(params.Rho))
	q.Set("dt", simulation.FormatFloat(params.Dt))
	q.Set("idiosyncratic", simulation.FormatFloat(params.Idiosyncratic))
	q.Set("factor_exposures", exposures)

	resp, err := get("/simulate?" + q.Encode())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if id := resp.Header.Get("X-Run-ID"); id != "" {
		fmt.Fprintf(os.Stderr, "run %s\n", id)
	}
	return printJSON(resp)
}

func runHealth(_ *cobra.Command, _ []string) error {
	resp, err := get("/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	return printJSON(resp)
}

func runList(_ *cobra.Command, _ []string) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(runLimit))
	if runStatus != "" {
		q.Set("status", runStatus)
	}

	resp, err := get("/runs?" + q.Encode())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printJSON(resp)
}

func runGet(_ *cobra.Command, args []string) error {
	resp, err := get("/runs/" + url.PathEscape(args[0]))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printJSON(resp)
}

func runEnginesCheck(_ *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	registry := engine.NewRegistry(cfg.Engines.Dir)
	registry.SetBinary(engine.Factor, cfg.Engines.FactorBinary)
	registry.SetBinary(engine.Heston, cfg.Engines.HestonBinary)

	statuses := registry.Check()
	for _, st := range statuses {
		if st.Available {
			fmt.Printf("%-8s ok       %s\n", st.Name, st.Binary)
		} else {
			fmt.Printf("%-8s missing  %s\n", st.Name, st.Problem)
		}
	}
	if !engine.AllAvailable(statuses) {
		return fmt.Errorf("engines not installed in %s", cfg.Engines.Dir)
	}
	return nil
}

func get(path string) (*http.Response, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(serverURL + path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// printJSON pretty-prints the body and turns non-2xx responses into errors.
func printJSON(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	formatted, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(formatted))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
