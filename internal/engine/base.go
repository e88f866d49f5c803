package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
)

// Engine names.
const (
	Factor = "factor"
	Heston = "heston"
)

var (
	ErrUnknownEngine = errors.New("unknown engine")
	ErrNotFound      = errors.New("engine executable not found")
	ErrNotExecutable = errors.New("engine file is not executable")
)

// Engine describes one external numerical engine.
type Engine interface {
	// Name returns the engine identifier ("factor", "heston").
	Name() string

	// Label is the human-readable name used in error messages.
	Label() string

	// BinaryName returns the default executable file name for the host platform.
	BinaryName() string

	// OutputFile is the table the engine writes into its working directory.
	OutputFile() string
}

// Registry maps engine names to their definitions and installed executables.
type Registry struct {
	dir      string
	engines  map[string]Engine
	binaries map[string]string
}

// NewRegistry creates a registry with both engines, resolved against dir.
func NewRegistry(dir string) *Registry {
	r := &Registry{
		dir:      dir,
		engines:  make(map[string]Engine),
		binaries: make(map[string]string),
	}
	r.Register(&FactorEngine{})
	r.Register(&HestonEngine{})
	return r
}

// Register adds an engine to the registry.
func (r *Registry) Register(e Engine) {
	r.engines[e.Name()] = e
}

// SetBinary overrides the executable file name for an engine.
func (r *Registry) SetBinary(name, binary string) {
	if binary != "" {
		r.binaries[name] = binary
	}
}

// Get returns the engine definition for the given name.
func (r *Registry) Get(name string) (Engine, error) {
	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return e, nil
}

// Names returns all registered engine names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns the configured executable path for an engine without checking it.
func (r *Registry) Path(name string) (string, error) {
	e, err := r.Get(name)
	if err != nil {
		return "", err
	}
	binary := e.BinaryName()
	if b, ok := r.binaries[name]; ok {
		binary = b
	}
	if filepath.IsAbs(binary) {
		return binary, nil
	}
	return filepath.Join(r.dir, binary), nil
}

// Resolve returns the executable path for an engine, failing if it is missing or not executable.
func (r *Registry) Resolve(name string) (string, error) {
	path, err := r.Path(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotExecutable, filepath.Base(path))
	}
	return path, nil
}

// Status reports whether an engine is installed and runnable.
type Status struct {
	Name      string `json:"name"`
	Binary    string `json:"binary"`
	Available bool   `json:"available"`
	Problem   string `json:"problem,omitempty"`
}

// Check resolves every registered engine.
func (r *Registry) Check() []Status {
	statuses := make([]Status, 0, len(r.engines))
	for _, name := range r.Names() {
		st := Status{Name: name}
		if path, err := r.Path(name); err == nil {
			st.Binary = filepath.Base(path)
		}
		if _, err := r.Resolve(name); err != nil {
			st.Problem = err.Error()
		} else {
			st.Available = true
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// AllAvailable reports whether every engine in statuses resolved.
func AllAvailable(statuses []Status) bool {
	for _, st := range statuses {
		if !st.Available {
			return false
		}
	}
	return true
}

func platformBinary(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}
