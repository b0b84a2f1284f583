package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"lbe/internal/diag"
	"lbe/internal/instrument"
	"lbe/internal/ir"
)

// Loader turns a textual IR file on disk into an in-memory Module. The real
// pipeline this project was distilled from reads LLVM bitcode through
// inkwell; this module carries no LLVM-bitcode binding (see DESIGN.md), so
// Loader is an injection point: production wiring supplies one backed by
// whatever IR-producing front end is available, tests supply one backed by
// ir.Builder-constructed fixtures.
type Loader func(path string) (*ir.Module, error)

// Printer serializes a Module back to a file the external compiler can
// consume for the final link stage.
type Printer func(mod *ir.Module, path string) error

// Orchestrator runs the compile -> instrument -> link pipeline described by
// a Config, matching tools/src/compile.rs's three-stage build function.
type Orchestrator struct {
	Config Config
	Loader Loader
	Printer Printer

	// runCommand executes an external compiler invocation; overridable in
	// tests so the pipeline can be exercised without a real toolchain.
	runCommand func(ctx context.Context, name string, args ...string) error
}

// NewOrchestrator wires a default Loader that always returns an error (no
// IR parser is built in), a default Printer that writes ir.Print's dump
// (which is not read back), and a real os/exec command runner.
func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{
		Config:  cfg,
		Loader:  defaultLoader,
		Printer: defaultPrinter,
		runCommand: func(ctx context.Context, name string, args ...string) error {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd.Run()
		},
	}
}

func defaultLoader(path string) (*ir.Module, error) {
	return nil, errors.Errorf("no IR loader configured for %s: wire a front end that parses the compiler's emitted IR", path)
}

func defaultPrinter(mod *ir.Module, path string) error {
	return os.WriteFile(path, []byte(ir.Print(mod)), 0o644)
}

// Run executes all three stages and stops at the first failure, returning
// its error wrapped with the stage name; only an instrumentation-pass
// failure carries a formatted diag.Diagnostic as its message.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Config.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(o.Config.OutDir, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	irFile, err := o.compileToIR(ctx)
	if err != nil {
		return errors.Wrap(err, "compile to IR")
	}

	instrumentedFile, err := o.instrument(irFile)
	if err != nil {
		return errors.Wrap(err, "instrument")
	}

	if err := o.compileToBin(ctx, instrumentedFile); err != nil {
		return errors.Wrap(err, "link")
	}
	return nil
}

func (o *Orchestrator) compileToIR(ctx context.Context) (string, error) {
	base := strings.TrimSuffix(filepath.Base(o.Config.InputFile), filepath.Ext(o.Config.InputFile))
	out := filepath.Join(o.Config.OutDir, base+".ll")
	args := []string{
		"-Wno-everything",
		"-" + string(o.Config.OptLevel),
		"-g", "-S", "-emit-llvm",
		o.Config.InputFile,
		"-o", out,
	}
	if err := o.runCommand(ctx, string(o.Config.Compiler), args...); err != nil {
		return "", errors.Wrapf(err, "%s failed", o.Config.Compiler)
	}
	return out, nil
}

func (o *Orchestrator) instrument(irFile string) (string, error) {
	mod, err := o.Loader(irFile)
	if err != nil {
		return "", err
	}
	if err := instrument.Run(mod); err != nil {
		d := diag.VerificationFailed(mod.SourceFilename, err.Error())
		return "", errors.New(diag.NewReporter(mod.SourceFilename, "").Format(d))
	}
	out := filepath.Join(o.Config.OutDir, "instrumented_"+filepath.Base(irFile))
	if err := o.Printer(mod, out); err != nil {
		return "", err
	}
	return out, nil
}

func (o *Orchestrator) compileToBin(ctx context.Context, instrumentedFile string) error {
	outPath := filepath.Join(o.Config.OutDir, o.Config.OutBinName)
	args := []string{"-Wno-everything", instrumentedFile}
	for _, lib := range []RuntimeLib{
		o.Config.CoverageLib, o.Config.ASANLib, o.Config.FuzzerLib,
		o.Config.SymbolicLib, o.Config.RaceLib,
	} {
		args = append(args, lib.linkerArgs()...)
	}
	args = append(args, "-o", outPath)
	if err := o.runCommand(ctx, string(o.Config.Compiler), args...); err != nil {
		return errors.Wrapf(err, "%s failed", o.Config.Compiler)
	}
	fmt.Printf("[+] binary created (%s)\n", outPath)
	fmt.Printf("[+] run with LD_LIBRARY_PATH=%s %s\n", o.Config.CoverageLib.Path, outPath)
	return nil
}
