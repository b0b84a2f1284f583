package fuzzer

import (
	"time"

	"lbe/internal/covrt"
	"lbe/internal/seedpool"
)

// InputMode selects how a seed is delivered to the target, matching
// cli.rs's FuzzInput.
type InputMode int

const (
	// ModeStdin pipes the seed bytes to the target's standard input.
	ModeStdin InputMode = iota
	// ModeArgument writes the seed to a scratch file and passes its path
	// as the target's first argument.
	ModeArgument
)

func (m InputMode) String() string {
	if m == ModeArgument {
		return "file"
	}
	return "stdin"
}

// CrashInfo records one minimized crash, matching campaign.rs's CrashInfo.
type CrashInfo struct {
	Crashes   int
	Origin    seedpool.Seed
	Minimized seedpool.Seed
}

// Metadata reports one loop iteration's timing, matching
// campaign.rs's FuzzerMetadata.
type Metadata struct {
	FuzzCount     uint64
	InputMode     InputMode
	Timeout       time.Duration
	TargetElapsed time.Duration
	TotalElapsed  time.Duration
}

// SeedInfo reports the pool's state after accepting a productive seed,
// matching campaign.rs's FuzzerSeed.
type SeedInfo struct {
	Seeds      int
	CurSeed    seedpool.Seed
	NextSeed   seedpool.Seed
	VisitEdges uint64
	NewPaths   int
}

// EventKind tags which field of Event is populated, the Go analogue of the
// FuzzShot enum (campaign.rs).
type EventKind int

const (
	EventProgramOutput EventKind = iota
	EventCoverage
	EventCrash
	EventMetadata
	EventSeedInfo
	EventTerminated
)

// Event is one message on the campaign's event stream (§ SUPPLEMENTED
// FEATURES: campaign UI), mirroring FuzzShot.
type Event struct {
	Kind          EventKind
	ProgramOutput string
	Coverage      []covrt.Report
	Crash         CrashInfo
	Metadata      Metadata
	SeedInfo      SeedInfo
}

// Result reports how a campaign ended, matching fuzzer.rs's FuzzResult.
type Result int

const (
	ResultSuccess Result = iota
	ResultAllSeedsConsumed
	ResultUserTerminated
)
