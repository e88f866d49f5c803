package simulation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"

	"factor-heston-sim/internal/engine"
)

// fakeInvoker records every call and, instead of spawning a process, runs
// a Go function standing in for the engine.
type fakeInvoker struct {
	mu    sync.Mutex
	calls []InvokeRequest
	impl  map[string]func(req InvokeRequest) error
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{impl: map[string]func(InvokeRequest) error{
		engine.Factor: writeFactorTable,
		engine.Heston: writeHestonTable,
	}}
}

func (f *fakeInvoker) Invoke(ctx context.Context, req InvokeRequest) (*Invocation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.impl[req.Engine]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &EngineError{Engine: req.Engine, ExitCode: -1, Err: fmt.Errorf("%w: %w", ErrEngineTimeout, err)}
	}
	if fn != nil {
		if err := fn(req); err != nil {
			return nil, err
		}
	}
	return &Invocation{InvokeRequest: req}, nil
}

func (f *fakeInvoker) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.calls {
		if c.Engine == name {
			n++
		}
	}
	return n
}

// writeFactorTable mimics the factor engine: one row per period whose
// level is derived from the seed, so results reveal which request made them.
func writeFactorTable(req InvokeRequest) error {
	n, _ := strconv.Atoi(req.Args[0])
	seed, _ := strconv.Atoi(req.Args[3])
	var b strings.Builder
	b.WriteString("period,asset_1,factor_level\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%d,0.5,%d\n", i, seed*1000+i)
	}
	return os.WriteFile(filepath.Join(req.Dir, "factor_output.csv"), []byte(b.String()), 0o600)
}

// writeHestonTable mimics the Heston engine: duration rows of constant
// price and variance taken from the initial values.
func writeHestonTable(req InvokeRequest) error {
	n, _ := strconv.Atoi(req.Args[8])
	var b strings.Builder
	b.WriteString("step,price,variance\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%d,%s,%s\n", i, req.Args[0], req.Args[1])
	}
	return os.WriteFile(filepath.Join(req.Dir, "heston_output.csv"), []byte(b.String()), 0o600)
}

func newTestStore(t *testing.T) *ArtifactStore {
	t.Helper()
	store, err := NewArtifactStore(filepath.Join(t.TempDir(), "work"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func newTestPipeline(t *testing.T, inv Invoker, store *ArtifactStore) *Pipeline {
	t.Helper()
	p, err := NewPipeline(PipelineConfig{
		Store:            store,
		Invoker:          inv,
		Registry:         engine.NewRegistry(t.TempDir()),
		MaxArtifactBytes: 1 << 20,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("work dir not empty after run: %v", names)
	}
}

// Shell scripts that honour the engine contract, for tests that spawn real
// processes.
const (
	factorScript = `#!/bin/sh
n=$1
echo "period,level" > factor_output.csv
i=1
while [ $i -le $n ]; do
  echo "$i,$(( $4 * 1000 + i ))" >> factor_output.csv
  i=$((i+1))
done
`
	hestonScript = `#!/bin/sh
n=$9
echo "step,price,variance" > heston_output.csv
i=1
while [ $i -le $n ]; do
  echo "$i,$1,$2" >> heston_output.csv
  i=$((i+1))
done
`
)

// installEngines writes executable scripts for the given engines into a
// fresh directory and returns a registry pointing at it. An empty script
// leaves that engine uninstalled.
func installEngines(t *testing.T, factor, heston string) *engine.Registry {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script engines require a POSIX system")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	dir := t.TempDir()
	reg := engine.NewRegistry(dir)
	for name, script := range map[string]string{engine.Factor: factor, engine.Heston: heston} {
		if script == "" {
			continue
		}
		path, err := reg.Path(name)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}
