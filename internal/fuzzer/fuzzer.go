// Package fuzzer implements the coverage-guided fuzzer's campaign loop
// (C8): feed a seed to the instrumented target through the fork-server,
// score it by how much new or rare coverage it exercised, grow the seed
// pool, and minimize any crash before reporting it. Grounded on
// fuzzer/src/fuzzer.rs.
package fuzzer

import (
	"math"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"
	"github.com/tliron/commonlog"
	"golang.org/x/sys/unix"

	"lbe/internal/covrt"
	"lbe/internal/ddmin"
	"lbe/internal/forkserver"
	"lbe/internal/mutate"
	"lbe/internal/seedpool"
	"lbe/internal/shmem"
)

// initialTimeoutUpperBound sizes the learned per-run watchdog from the
// very first run's wall time, matching INITIAL_TIMEOUT_UPPER_BOUND.
const initialTimeoutUpperBound = 5

// Config gathers everything a Campaign needs to drive one target.
type Config struct {
	ProgramPath string
	SeedDir     string
	InputMode   InputMode
	CrashDir    string // defaults to "crashes" if empty
}

// Campaign drives repeated fork-server runs of one target, scoring and
// growing a seed pool, minimizing and persisting crashes, and publishing
// progress on Events. It is the Go analogue of fuzzer.rs's Fuzzer plus
// campaign.rs's FuzzingCampaign.
type Campaign struct {
	cfg Config

	cov      covrt.EdgeCoverage
	covState *covrt.State
	rng      *rand.Rand
	logger   commonlog.Logger

	seeds        *seedpool.Pool
	crashes      map[string]struct{}
	crashCount   int
	newPaths     int
	seedFilePath string

	stopOnce sync.Once
	stop     chan struct{}

	Events chan Event
}

// NewCampaign wires a fresh campaign over shared-memory regions sized per
// the environment (§6), loading its initial seed corpus from cfg.SeedDir.
func NewCampaign(cfg Config, covMap, aux *shmem.Region) (*Campaign, error) {
	seeds, err := seedpool.LoadDir(cfg.SeedDir)
	if err != nil {
		return nil, errors.Wrap(err, "fuzzer: load seed corpus")
	}
	if cfg.CrashDir == "" {
		cfg.CrashDir = "crashes"
	}
	return &Campaign{
		cfg:          cfg,
		cov:          covrt.EdgeCoverage{CovMap: covMap, Aux: aux},
		covState:     covrt.NewState(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:       commonlog.GetLogger("lbe.fuzzer"),
		seeds:        seeds,
		crashes:      make(map[string]struct{}),
		seedFilePath: ksuid.New().String() + ".seed",
		stop:         make(chan struct{}),
		Events:       make(chan Event, 64),
	}, nil
}

// Stop requests that Run terminate at the next iteration boundary and
// report ResultUserTerminated, matching §4.4's "UI channel closed" exit:
// this Go rewrite surfaces that as an explicit cancellation signal (the
// campaign's own Events channel is host-to-UI only and is never closed by
// the consumer), since a caller observing its UI go away is the trigger,
// not the channel's direction. Safe to call more than once or concurrently
// with Run.
func (c *Campaign) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Campaign) stopRequested() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Campaign) send(ev Event) {
	select {
	case c.Events <- ev:
	default:
		// A slow consumer must not stall the fuzzing loop; drop the
		// oldest-style event rather than block.
	}
}

func (c *Campaign) feedSeed(sess *forkserver.Session, seed seedpool.Seed) error {
	if c.cfg.InputMode == ModeStdin && sess.Stdin != nil {
		if _, err := sess.Stdin.Write(seed.Input); err != nil {
			return errors.Wrap(err, "fuzzer: write seed to target stdin")
		}
	}
	if c.cfg.InputMode == ModeArgument {
		if err := os.WriteFile(c.seedFilePath, seed.Input, 0o644); err != nil {
			return errors.Wrap(err, "fuzzer: write seed scratch file")
		}
	}
	return nil
}

// evalSeed scores the most recent run: zero for a hang (caller passes
// status SIGKILL through forkserver.IsCrash's sibling check), max score
// for first-ever coverage, else the summed rarity score of every edge
// visited this run. Mirrors Fuzzer::eval_seed.
func (c *Campaign) evalSeed(hung bool) (visitEdges uint64, score uint64) {
	if hung {
		return 0, 0
	}
	visitEdges = c.cov.VisitMark()
	if c.cov.NewCoverage() {
		c.newPaths++
		return visitEdges, math.MaxUint64
	}
	var total uint64
	for i := uint64(0); i < visitEdges; i++ {
		edge := c.cov.VisitedEdge(i)
		if edge != 0 {
			total += uint64(getScore(c.cov.HitCount(edge)))
		}
	}
	return visitEdges, total
}

// Run drives the campaign against target until the seed pool drains, Stop
// is called, or a fork-server or I/O step returns an error. It owns the
// fork-server session end to end: spawn, repeated wakeup/wait, terminate.
func (c *Campaign) Run() (Result, error) {
	defer close(c.Events)

	sess, err := forkserver.Start(c.cfg.ProgramPath, c.argsFor(), c.envFor(), c.cfg.InputMode == ModeStdin)
	if err != nil {
		return ResultSuccess, errors.Wrap(err, "fuzzer: start target")
	}
	defer sess.Close()

	if c.seeds.IsEmpty() {
		return ResultAllSeedsConsumed, nil
	}
	seed, _ := c.seeds.Pop()

	started := time.Now()
	timeout := 9999 * time.Second
	timeoutLearned := false
	var loopCount uint64

	for {
		loopCount++
		if c.stopRequested() {
			sess.Terminate()
			c.send(Event{Kind: EventTerminated})
			return ResultUserTerminated, nil
		}
		if err := c.feedSeed(sess, seed); err != nil {
			return ResultSuccess, err
		}
		if err := sess.Wakeup(timeout); err != nil {
			return ResultSuccess, errors.Wrap(err, "fuzzer: wake target")
		}
		runStarted := time.Now()
		status, err := sess.Wait()
		if err != nil {
			return ResultSuccess, errors.Wrap(err, "fuzzer: wait for target")
		}
		elapsed := time.Since(runStarted)
		if !timeoutLearned {
			timeout = elapsed * initialTimeoutUpperBound
			timeoutLearned = true
		}

		hung := status == int32(unix.SIGKILL) // a watchdog-killed run scores as a hang, not a crash
		visitEdges, score := c.evalSeed(hung)
		c.logger.Debugf("iteration %d: status=%d visit_edges=%d score=%d", loopCount, status, visitEdges, score)
		c.publishDebug(loopCount, timeout, elapsed, time.Since(started))
		c.cov.ClearNewCoverage()
		c.cov.ClearVisitedEdges()

		if c.seeds.IsEmpty() {
			sess.Terminate()
			c.send(Event{Kind: EventTerminated})
			return ResultAllSeedsConsumed, nil
		}

		if forkserver.IsCrash(status) {
			minimized := c.minimize(sess, timeout, seed)
			c.recordCrash(seed, minimized)
		} else if score > 0 {
			c.growPool(seed, score, visitEdges)
		}

		seed, _ = c.seeds.Pop()
	}
}

func (c *Campaign) growPool(seed seedpool.Seed, score, visitEdges uint64) {
	seed.Score = score
	c.seeds.Add(seed)
	curSeed := seed

	mutated, _ := mutate.Mutate(c.rng, append([]byte(nil), seed.Input...))
	next := seedpool.New(mutated, saturatingAddOne(score))
	c.seeds.Add(next)

	c.send(Event{Kind: EventSeedInfo, SeedInfo: SeedInfo{
		Seeds:      c.seeds.Len(),
		CurSeed:    curSeed,
		NextSeed:   next,
		VisitEdges: visitEdges,
		NewPaths:   c.newPaths,
	}})
}

func (c *Campaign) minimize(sess *forkserver.Session, timeout time.Duration, seed seedpool.Seed) seedpool.Seed {
	oracle := func(candidate []byte) ddmin.Result {
		if err := c.feedSeed(sess, seedpool.New(candidate, 0)); err != nil {
			return ddmin.Pass
		}
		if err := sess.Wakeup(timeout); err != nil {
			return ddmin.Pass
		}
		status, err := sess.Wait()
		if err != nil {
			return ddmin.Pass
		}
		c.cov.ClearNewCoverage()
		c.cov.ClearVisitedEdges()
		if forkserver.IsCrash(status) {
			return ddmin.Fail
		}
		return ddmin.Pass
	}
	minimizedBytes := ddmin.Minimize(seed.Input, oracle)
	return seedpool.New(minimizedBytes, 0)
}

func (c *Campaign) recordCrash(origin, minimized seedpool.Seed) {
	key := minimized.ToHex()
	if _, seen := c.crashes[key]; seen {
		return
	}
	c.crashes[key] = struct{}{}
	c.crashCount++
	if err := minimized.WriteCrashFile(c.cfg.CrashDir, c.crashCount); err != nil {
		c.logger.Errorf("fuzzer: persist crash %d: %v", c.crashCount, err)
	}
	c.send(Event{Kind: EventCrash, Crash: CrashInfo{
		Crashes:   c.crashCount,
		Origin:    origin,
		Minimized: minimized,
	}})
}

func (c *Campaign) publishDebug(loopCount uint64, timeout, targetElapsed, totalElapsed time.Duration) {
	reports := c.covState.MakeReports()
	if len(reports) > 0 {
		c.send(Event{Kind: EventCoverage, Coverage: reports})
	}
	c.send(Event{Kind: EventMetadata, Metadata: Metadata{
		FuzzCount:     loopCount,
		InputMode:     c.cfg.InputMode,
		Timeout:       timeout,
		TargetElapsed: targetElapsed,
		TotalElapsed:  totalElapsed,
	}})
}

func (c *Campaign) argsFor() []string {
	if c.cfg.InputMode == ModeArgument {
		return []string{c.seedFilePath}
	}
	return nil
}

func (c *Campaign) envFor() []string {
	return []string{"LD_LIBRARY_PATH=."}
}

func saturatingAddOne(v uint64) uint64 {
	if v == math.MaxUint64 {
		return v
	}
	return v + 1
}
