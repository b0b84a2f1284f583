// Package build implements the build orchestrator (C10): it composes the
// compile, instrument, and link stages into the single pipeline described in
// the original project's tools/src/compile.rs, adapted from three
// inkwell/LLVM-bitcode calls into a pluggable Go pipeline since this module
// has no LLVM-bitcode binding in its dependency set.
package build

import (
	"fmt"

	"github.com/pkg/errors"
)

// Compiler selects the external C/C++ compiler driver.
type Compiler string

const (
	Clang   Compiler = "clang"
	ClangPP Compiler = "clang++"
)

// OptLevel is one of the four optimization levels the CLI accepts.
type OptLevel string

const (
	O0 OptLevel = "O0"
	O1 OptLevel = "O1"
	O2 OptLevel = "O2"
	O3 OptLevel = "O3"
)

// RuntimeLib is a (search path, library name) pair passed to the linker as
// `-L<Path> -l<Name>`.
type RuntimeLib struct {
	Path string
	Name string
}

// Config holds every input the CLI (build orchestrator) requires, per the
// external-interfaces section of the design: source file, output
// directory/name, compiler selector, optimization level, and five runtime
// library pairs for coverage, asan, fuzzer, symbolic, and race.
type Config struct {
	InputFile  string
	OutDir     string
	OutBinName string
	Compiler   Compiler
	OptLevel   OptLevel

	CoverageLib RuntimeLib
	ASANLib     RuntimeLib
	FuzzerLib   RuntimeLib
	SymbolicLib RuntimeLib
	RaceLib     RuntimeLib
}

// Validate rejects a Config before any stage runs, mirroring compile_to_ir's
// "O0..O3" and "clang|clang++" guards.
func (c Config) Validate() error {
	if c.InputFile == "" {
		return errors.New("input file is required")
	}
	if c.OutDir == "" {
		return errors.New("output directory is required")
	}
	if c.OutBinName == "" {
		return errors.New("output binary name is required")
	}
	switch c.Compiler {
	case Clang, ClangPP:
	default:
		return errors.Errorf("invalid compiler %q: only clang|clang++ allowed", c.Compiler)
	}
	switch c.OptLevel {
	case O0, O1, O2, O3:
	default:
		return errors.Errorf("invalid opt level %q: only O0..O3 allowed", c.OptLevel)
	}
	for _, lib := range []struct {
		name string
		rl   RuntimeLib
	}{
		{"coverage", c.CoverageLib}, {"asan", c.ASANLib}, {"fuzzer", c.FuzzerLib},
		{"symbolic", c.SymbolicLib}, {"race", c.RaceLib},
	} {
		if lib.rl.Path == "" || lib.rl.Name == "" {
			return errors.Errorf("%s runtime library path and name are required", lib.name)
		}
	}
	return nil
}

func (rl RuntimeLib) linkerArgs() []string {
	name := rl.Name
	for _, suffix := range []string{".so", ".a"} {
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			name = name[:len(name)-len(suffix)]
		}
	}
	return []string{fmt.Sprintf("-L%s", rl.Path), fmt.Sprintf("-l%s", name)}
}
