// Package irnames is the single source of truth for the reserved runtime
// symbol names the instrumentation engine emits and the skip policy checks
// against. Grounded on instrument/src/names.rs in the original project:
// keeping every synthesized name in one place means the race runtime's
// prefix-stripping logic and the engine's skip policy can never drift apart.
package irnames

// ReservedPrefixes are the function-name prefixes that mark a function as
// runtime-owned; the instrumentation skip policy (§4.1) never instruments a
// function whose name begins with one of these.
var ReservedPrefixes = []string{
	"__cov_",
	"__asan_",
	"__fuzzer_",
	"__symbolic_",
	"__race_",
}

// Coverage pass symbol names.
const (
	CovModuleInit   = "__cov_module_init"
	CovHitBatch     = "__cov_hit_batch"
	CovMappingSrc   = "__cov_mapping_src"
)

// ASAN pass symbol names.
const (
	ASANMemCheck     = "__asan_mem_check"
	ASANInitRedzone  = "__asan_init_redzone"
)

// Fuzz pass symbol names.
const (
	FuzzModuleInit    = "__fuzzer_module_init"
	FuzzForkserverInit = "__fuzzer_forkserver_init"
	FuzzTraceEdge      = "__fuzzer_trace_edge"
)

// Symbolic pass symbol names.
const (
	SymbolicModuleInit    = "__symbolic_init"
	SymbolicMakeVar       = "__make_symbolic"
	SymbolicMakePrepare   = "__symbolic_make_prepare"
	SymbolicModuleAddSym  = "__symbolic_module_add_sym"
)

// Race pass symbol names.
const (
	RaceModuleInit                     = "__race_module_init"
	RaceUpdateLockHeld                  = "__race_update_lock_held"
	RaceUpdateSharedMem                 = "__race_update_shared_mem"
	RaceInitCandidateLocksetGlobalVar   = "__race_init_candidate_lockset_global_var"
	RaceInitCandidateLocksetLockVar     = "__race_init_candidate_lockset_lock_var"
	// RaceGlobalPrefix is stripped from a global's debug name before it is
	// shown in a race report (§4.7).
	RaceGlobalPrefix = "__race.global."

	PthreadMutexLock   = "pthread_mutex_lock"
	PthreadMutexUnlock = "pthread_mutex_unlock"
	PthreadSelf        = "pthread_self"
)

// HasReservedPrefix reports whether name begins with any reserved runtime
// prefix, implementing the function half of §4.1's skip policy.
func HasReservedPrefix(name string) bool {
	for _, p := range ReservedPrefixes {
		if len(name) >= len(p) && name[:len(p)] == p {
			return true
		}
	}
	return false
}
