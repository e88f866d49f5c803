package engine

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry(t.TempDir())

	for _, name := range []string{Factor, Heston} {
		e, err := r.Get(name)
		if err != nil {
			t.Fatalf("Get(%s) = %v", name, err)
		}
		if e.Name() != name {
			t.Errorf("Name() = %q, want %q", e.Name(), name)
		}
	}

	if _, err := r.Get("black-scholes"); !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("Get(unknown) error = %v, want ErrUnknownEngine", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry(t.TempDir())
	names := r.Names()
	if len(names) != 2 || names[0] != Factor || names[1] != Heston {
		t.Errorf("Names() = %v, want [factor heston]", names)
	}
}

func TestEngines_OutputFiles(t *testing.T) {
	if got := (&FactorEngine{}).OutputFile(); got != "factor_output.csv" {
		t.Errorf("factor OutputFile() = %q", got)
	}
	if got := (&HestonEngine{}).OutputFile(); got != "heston_output.csv" {
		t.Errorf("heston OutputFile() = %q", got)
	}
}

func TestEngines_BinaryName(t *testing.T) {
	want := "factor_model"
	if runtime.GOOS == "windows" {
		want += ".exe"
	}
	if got := (&FactorEngine{}).BinaryName(); got != want {
		t.Errorf("BinaryName() = %q, want %q", got, want)
	}
}

func TestRegistry_Path(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)

	path, err := r.Path(Heston)
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, (&HestonEngine{}).BinaryName()) {
		t.Errorf("Path(heston) = %q", path)
	}

	r.SetBinary(Heston, "heston_v2")
	path, _ = r.Path(Heston)
	if path != filepath.Join(dir, "heston_v2") {
		t.Errorf("Path(heston) after override = %q", path)
	}

	r.SetBinary(Factor, "/usr/local/bin/factor")
	path, _ = r.Path(Factor)
	if path != "/usr/local/bin/factor" {
		t.Errorf("absolute override not honoured: %q", path)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit checks are POSIX-only")
	}
	dir := t.TempDir()
	r := NewRegistry(dir)

	if _, err := r.Resolve(Factor); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing binary: error = %v, want ErrNotFound", err)
	}

	factorPath, _ := r.Path(Factor)
	if err := os.WriteFile(factorPath, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(Factor); !errors.Is(err, ErrNotExecutable) {
		t.Errorf("non-executable binary: error = %v, want ErrNotExecutable", err)
	}

	if err := os.Chmod(factorPath, 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := r.Resolve(Factor)
	if err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if got != factorPath {
		t.Errorf("Resolve() = %q, want %q", got, factorPath)
	}

	// A directory with the binary's name is not an engine.
	hestonPath, _ := r.Path(Heston)
	if err := os.Mkdir(hestonPath, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(Heston); !errors.Is(err, ErrNotFound) {
		t.Errorf("directory: error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_ResolveErrorHidesDirectory(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	_, err := r.Resolve(Factor)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), dir) {
		t.Errorf("error %q leaks install directory", err)
	}
}

func TestRegistry_Check(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit checks are POSIX-only")
	}
	dir := t.TempDir()
	r := NewRegistry(dir)

	statuses := r.Check()
	if len(statuses) != 2 {
		t.Fatalf("Check() returned %d statuses, want 2", len(statuses))
	}
	if AllAvailable(statuses) {
		t.Error("AllAvailable() = true with no binaries installed")
	}

	for _, name := range r.Names() {
		p, _ := r.Path(name)
		if err := os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	statuses = r.Check()
	if !AllAvailable(statuses) {
		t.Errorf("AllAvailable() = false, statuses = %+v", statuses)
	}
	for _, st := range statuses {
		if st.Problem != "" {
			t.Errorf("%s: unexpected problem %q", st.Name, st.Problem)
		}
	}
}
