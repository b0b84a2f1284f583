// Package main is the fuzzer's CLI front end (§6 "CLI (fuzzer)"): point it
// at an instrumented target binary and a seed directory, and it drives a
// coverage-guided campaign until the seed pool is exhausted or the user
// interrupts it. Grounded on fuzzer/src/cli.rs and fuzzer/src/main.rs.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"

	"lbe/internal/fuzzer"
	"lbe/internal/shmem"
)

const (
	defaultShmSize    = 1 << 16
	defaultAuxSize    = 1 << 20 // room for a large visited-edge window
	envShmID          = "SHM_ID"
	envShmSize        = "SHM_SIZE"
	envShmAuxID       = "SHM_AUX_ID"
	envShmAuxSize     = "SHM_AUX_SIZE"
)

func main() {
	var (
		programPath = flag.String("program", "", "path to the instrumented target program (required)")
		seedDir     = flag.String("seed", "", "seed corpus directory (required)")
		inputTyp    = flag.String("input_type", "", "file | stdin (required)")
		crashDir    = flag.String("crash-dir", "crashes", "directory to write minimized crash files into")
		verbose     = flag.Int("verbose", 0, "log verbosity (0=info, 1=debug)")
	)
	flag.Parse()

	commonlog.Configure(*verbose, nil)

	if *programPath == "" || *seedDir == "" || *inputTyp == "" {
		fmt.Fprintln(os.Stderr, "Usage: lbe-fuzz -program <path> -seed <dir> -input_type <file|stdin>")
		os.Exit(1)
	}
	if _, err := os.Stat(*programPath); err != nil {
		color.Red("✗ program path (%s) does not exist", *programPath)
		os.Exit(1)
	}
	if _, err := os.Stat(*seedDir); err != nil {
		color.Red("✗ seed directory path (%s) does not exist", *seedDir)
		os.Exit(1)
	}

	mode, err := parseInputMode(*inputTyp)
	if err != nil {
		color.Red("✗ %s", err)
		os.Exit(1)
	}

	covMap, aux, err := setupShm()
	if err != nil {
		color.Red("✗ shared memory setup failed: %s", err)
		os.Exit(1)
	}
	defer covMap.Close()
	defer aux.Close()

	campaign, err := fuzzer.NewCampaign(fuzzer.Config{
		ProgramPath: *programPath,
		SeedDir:     *seedDir,
		InputMode:   mode,
		CrashDir:    *crashDir,
	}, covMap, aux)
	if err != nil {
		color.Red("✗ %s", err)
		os.Exit(1)
	}

	go printEvents(campaign.Events)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigCh; ok {
			color.Yellow("interrupt received, stopping campaign")
			campaign.Stop()
		}
	}()
	defer signal.Stop(sigCh)

	result, err := campaign.Run()
	if err != nil {
		color.Red("✗ campaign failed: %s", err)
		os.Exit(1)
	}
	reportResult(result)
}

func parseInputMode(s string) (fuzzer.InputMode, error) {
	switch s {
	case "file":
		return fuzzer.ModeArgument, nil
	case "stdin":
		return fuzzer.ModeStdin, nil
	default:
		return 0, fmt.Errorf("invalid input type %q: only <file | stdin> available", s)
	}
}

func setupShm() (covMap, aux *shmem.Region, err error) {
	covMap, err = shmem.Create(os.TempDir(), "lbe-covmap", defaultShmSize)
	if err != nil {
		return nil, nil, err
	}
	os.Setenv(envShmID, covMap.Path)
	os.Setenv(envShmSize, fmt.Sprintf("%d", defaultShmSize))

	aux, err = shmem.Create(os.TempDir(), "lbe-aux", defaultAuxSize)
	if err != nil {
		covMap.Close()
		return nil, nil, err
	}
	os.Setenv(envShmAuxID, aux.Path)
	os.Setenv(envShmAuxSize, fmt.Sprintf("%d", defaultAuxSize))
	return covMap, aux, nil
}

func printEvents(events <-chan fuzzer.Event) {
	for ev := range events {
		switch ev.Kind {
		case fuzzer.EventCrash:
			color.Red("crash #%d: %s -> %s", ev.Crash.Crashes, ev.Crash.Origin.ToHex(), ev.Crash.Minimized.ToHex())
		case fuzzer.EventSeedInfo:
			color.Green("pool=%d new_paths=%d visit_edges=%d", ev.SeedInfo.Seeds, ev.SeedInfo.NewPaths, ev.SeedInfo.VisitEdges)
		case fuzzer.EventProgramOutput:
			fmt.Println(ev.ProgramOutput)
		case fuzzer.EventTerminated:
			color.Yellow("campaign terminated")
		}
	}
}

func reportResult(result fuzzer.Result) {
	switch result {
	case fuzzer.ResultAllSeedsConsumed:
		color.Green("✓ seed pool exhausted")
	case fuzzer.ResultUserTerminated:
		color.Yellow("campaign stopped by user")
	default:
		color.Green("✓ campaign finished")
	}
}
