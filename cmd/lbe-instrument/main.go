// Package main is the build orchestrator's CLI front end: compile a C/C++
// source file to IR, run the five instrumentation passes over it, and link
// the result against the selected runtimes (§6 "CLI (build orchestrator)").
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"

	"lbe/internal/build"
)

func main() {
	var (
		projectFile = flag.String("project", "", "path to a project YAML file (required: the runtime library pairs come only from it)")
		input       = flag.String("input", "", "source file to compile and instrument")
		outDir      = flag.String("out-dir", "", "output directory")
		outBinName  = flag.String("out-bin", "", "output binary name")
		compiler    = flag.String("compiler", "", "clang | clang++")
		optLevel    = flag.String("opt", "", "O0 | O1 | O2 | O3")
		verbose     = flag.Int("verbose", 0, "log verbosity (0=info, 1=debug)")
	)
	flag.Parse()

	commonlog.Configure(*verbose, nil)
	logger := commonlog.GetLogger("lbe.build")

	cfg, err := resolveConfig(*projectFile, *input, *outDir, *outBinName, *compiler, *optLevel)
	if err != nil {
		color.Red("✗ %s", err)
		os.Exit(1)
	}

	orchestrator := build.NewOrchestrator(cfg)
	logger.Infof("building %s -> %s/%s", cfg.InputFile, cfg.OutDir, cfg.OutBinName)
	if err := orchestrator.Run(context.Background()); err != nil {
		color.Red("✗ build failed: %s", err)
		os.Exit(1)
	}
	color.Green("✓ instrumented build complete: %s/%s", cfg.OutDir, cfg.OutBinName)
}

func resolveConfig(projectFile, input, outDir, outBinName, compiler, optLevel string) (build.Config, error) {
	var cfg build.Config
	if projectFile != "" {
		loaded, err := build.LoadProjectFile(projectFile)
		if err != nil {
			return build.Config{}, err
		}
		cfg = loaded
	}

	override := build.Config{
		InputFile:  input,
		OutDir:     outDir,
		OutBinName: outBinName,
		Compiler:   build.Compiler(compiler),
		OptLevel:   build.OptLevel(optLevel),
	}
	cfg = cfg.Override(override)

	if err := cfg.Validate(); err != nil {
		return build.Config{}, fmt.Errorf("invalid configuration (pass -project or all of -input/-out-dir/-out-bin/-compiler/-opt plus runtime library flags in the project file): %w", err)
	}
	return cfg, nil
}
