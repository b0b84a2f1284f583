// Package forkserver implements the fuzzer host's side of the fork-server
// wire protocol (§4.3, §6): a pair of pipes used to wake the instrumented
// target for one more run and collect its exit status, avoiding a fresh
// exec() per test case. Grounded on fuzzer/src/fuzzer.rs's
// wakeup_forkserver/wait_forkserver and fuzzer_runtime/src/coverage.rs's
// read_wakeup/notify_process_exit, which implement the target-side half.
package forkserver

import (
	"encoding/binary"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ProcessExitNormal is the status value the target reports for a clean
// exit with code 0 — real zero is never sent over the wire since a zero
// word there would be indistinguishable from "nothing written yet".
const ProcessExitNormal uint64 = 1

// terminateSentinel tells the target's read_wakeup loop to exit instead of
// forking again; it is astronomically larger than any real timeout.
const terminateSentinel uint64 = 99_999_999_999

// EnvHostFD and EnvRuntimeFD name the environment variables the target
// process reads to learn its end of each pipe's fd number.
const (
	EnvHostFD    = "FORK_SERVER_HOST"
	EnvRuntimeFD = "FORK_SERVER_RUNTIME"
)

// Session manages one forked target process across repeated test-case
// runs.
type Session struct {
	cmd *exec.Cmd

	hostRead     *os.File // host end: read the target's exit status
	runtimeWrite *os.File // host end: write the wakeup signal

	// Stdin is the host's write end of the target's standard input, set
	// only when Start was called with stdin=true. The caller writes one
	// seed's bytes here before each Wakeup, mirroring fuzzer.rs's
	// feed_seed over child_stdin.
	Stdin *os.File
}

// Start launches program under a fork-server handshake: the process is
// exec'd once, and thereafter Wakeup/Wait drive it through repeated forks
// without repaying exec's cost per test case. When stdin is true, the
// target's standard input is a pipe whose write end is exposed as
// Session.Stdin.
func Start(program string, args []string, env []string, stdin bool) (*Session, error) {
	hostRead, hostWrite, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "forkserver: create host pipe")
	}
	runtimeRead, runtimeWrite, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "forkserver: create runtime pipe")
	}

	cmd := exec.Command(program, args...)
	// ExtraFiles renumbers inherited descriptors starting at fd 3; index 0
	// lands at 3, index 1 at 4.
	cmd.ExtraFiles = []*os.File{hostWrite, runtimeRead}
	cmd.Env = append(append([]string{}, env...),
		EnvHostFD+"=3",
		EnvRuntimeFD+"=4",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	var stdinWrite *os.File
	if stdin {
		stdinRead, w, err := os.Pipe()
		if err != nil {
			hostRead.Close()
			hostWrite.Close()
			runtimeRead.Close()
			runtimeWrite.Close()
			return nil, errors.Wrap(err, "forkserver: create stdin pipe")
		}
		cmd.Stdin = stdinRead
		stdinWrite = w
		defer stdinRead.Close()
	}

	if err := cmd.Start(); err != nil {
		hostRead.Close()
		hostWrite.Close()
		runtimeRead.Close()
		runtimeWrite.Close()
		if stdinWrite != nil {
			stdinWrite.Close()
		}
		return nil, errors.Wrap(err, "forkserver: start target")
	}

	// The host no longer needs the ends it handed to the child.
	hostWrite.Close()
	runtimeRead.Close()

	return &Session{
		cmd:          cmd,
		hostRead:     hostRead,
		runtimeWrite: runtimeWrite,
		Stdin:        stdinWrite,
	}, nil
}

// Wakeup tells the target to fork and run one more test case, with the
// given watchdog timeout. A zero timeout is sent as one second, mirroring
// the original's HostSend::Wakeup(0) => 1 rewrite.
func (s *Session) Wakeup(timeout time.Duration) error {
	secs := uint64(timeout.Seconds())
	if secs == 0 {
		secs = 1
	}
	return s.writeWord(secs)
}

// Terminate tells the target's fork-server loop to exit rather than fork
// again.
func (s *Session) Terminate() error {
	return s.writeWord(terminateSentinel)
}

func (s *Session) writeWord(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := s.runtimeWrite.Write(buf[:])
	return errors.Wrap(err, "forkserver: write wakeup word")
}

// Wait blocks until the target reports the exit status of its most recent
// forked run.
func (s *Session) Wait() (int32, error) {
	var buf [8]byte
	if _, err := readFull(s.hostRead, buf[:]); err != nil {
		return 0, errors.Wrap(err, "forkserver: read status word")
	}
	return int32(binary.LittleEndian.Uint64(buf[:])), nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, errors.New("forkserver: unexpected EOF from target")
		}
	}
	return total, nil
}

// IsCrash reports whether a reported status indicates an abnormal target
// exit, matching Fuzzer::is_crash: anything other than a clean-exit
// rewrite or a SIGKILL (issued by the session's own watchdog) counts.
func IsCrash(status int32) bool {
	return status != int32(ProcessExitNormal) && status != int32(unix.SIGKILL)
}

// Close releases the session's host-side pipe ends and waits for the
// target process to exit after a prior Terminate.
func (s *Session) Close() error {
	s.runtimeWrite.Close()
	s.hostRead.Close()
	if s.Stdin != nil {
		s.Stdin.Close()
	}
	if s.cmd.Process != nil {
		return s.cmd.Wait()
	}
	return nil
}
