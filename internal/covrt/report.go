package covrt

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// SourceMapping is the per-file accumulator the coverage pass (§4.1)
// writes once per module via __cov_mapping_src: every line touched by an
// instrumented block, every branch-target line (recorded as consecutive
// true/false pairs), and every function's starting line.
type SourceMapping struct {
	Lines []uint32
	Brs   []uint32
	Funcs []uint32
}

// State is the process-wide coverage accumulator: the source mapping
// registered at module-init time, and the lines actually hit at runtime via
// cov_hit_batch. Grounded on coverage_runtime::CoverageState /
// coverage_internal.rs's make_cov pipeline.
type State struct {
	SourceMap map[string]SourceMapping
	HitLines  map[string]map[uint32]struct{}
}

// NewState returns an empty coverage accumulator.
func NewState() *State {
	return &State{
		SourceMap: make(map[string]SourceMapping),
		HitLines:  make(map[string]map[uint32]struct{}),
	}
}

// RegisterMapping implements __cov_mapping_src: records the accumulated
// funcs/brs/lines sets for filename, once per module.
func (s *State) RegisterMapping(filename string, funcs, brs, lines []uint32) {
	s.SourceMap[filename] = SourceMapping{Lines: lines, Brs: brs, Funcs: funcs}
}

// HitBatch implements cov_hit_batch: marks every line in lines as hit for
// filename.
func (s *State) HitBatch(filename string, lines []uint32) {
	hit, ok := s.HitLines[filename]
	if !ok {
		hit = make(map[uint32]struct{})
		s.HitLines[filename] = hit
	}
	for _, l := range lines {
		hit[l] = struct{}{}
	}
}

// Clear resets both the source mapping and hit-line accumulators, used by
// test harnesses between scenarios (cov_clear in the original runtime).
func (s *State) Clear() {
	s.SourceMap = make(map[string]SourceMapping)
	s.HitLines = make(map[string]map[uint32]struct{})
}

// Report is the per-file coverage summary described by §6's report schema.
type Report struct {
	File              string   `cbor:"file"`
	FuncsHitPct       float64  `cbor:"funcs_hit_pct"`
	UncoveredFuncs    []uint32 `cbor:"uncovered_funcs_lines"`
	BranchesHitPct    float64  `cbor:"branches_hit_pct"`
	UncoveredBranches []string `cbor:"uncovered_branch_markers"`
	LinesHitPct       float64  `cbor:"lines_hit_pct"`
	UncoveredLines    []uint32 `cbor:"uncovered_lines"`
}

// MakeReports builds one Report per file known to the source map, matching
// coverage_internal::make_cov's per-file pipeline exactly (§8 scenario 3).
func (s *State) MakeReports() []Report {
	filenames := make([]string, 0, len(s.SourceMap))
	for f := range s.SourceMap {
		filenames = append(filenames, f)
	}
	sort.Strings(filenames)

	reports := make([]Report, 0, len(filenames))
	for _, filename := range filenames {
		src := s.SourceMap[filename]
		hit := s.HitLines[filename]

		linesUntouched, linesPct := lineCoverage(src.Lines, hit)
		funcsUntouched, funcsPct := funcCoverage(src.Funcs, hit)
		brsUntouched, brsPct, brsMarkers := branchCoverage(src.Brs, hit)
		_ = brsUntouched

		reports = append(reports, Report{
			File:              filename,
			FuncsHitPct:       funcsPct,
			UncoveredFuncs:    funcsUntouched,
			BranchesHitPct:    brsPct,
			UncoveredBranches: brsMarkers,
			LinesHitPct:       linesPct,
			UncoveredLines:    linesUntouched,
		})
	}
	return reports
}

func toSet(xs []uint32) map[uint32]struct{} {
	m := make(map[uint32]struct{}, len(xs))
	for _, x := range xs {
		m[x] = struct{}{}
	}
	return m
}

func intersect(a, b map[uint32]struct{}) map[uint32]struct{} {
	out := make(map[uint32]struct{})
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

// symmetricDiff returns the sorted symmetric difference of a and b, as
// get_symmetric_diff does.
func symmetricDiff(a, b map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0)
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func lineCoverage(srcLines []uint32, hitLines map[uint32]struct{}) ([]uint32, float64) {
	srcSet := toSet(srcLines)
	hits := intersect(hitLines, srcSet)
	pct := 0.0
	if len(srcSet) > 0 {
		pct = float64(len(hits)) / float64(len(srcSet)) * 100.0
	}
	return symmetricDiff(srcSet, hitLines), pct
}

func funcCoverage(funcs []uint32, hitLines map[uint32]struct{}) ([]uint32, float64) {
	funcSet := toSet(funcs)
	hits := intersect(hitLines, funcSet)
	untouched := symmetricDiff(funcSet, hits)
	pct := 0.0
	if len(funcs) > 0 {
		pct = float64(len(hits)) / float64(len(funcs)) * 100.0
	}
	return untouched, pct
}

// branchCoverage implements get_br_cov: brs holds consecutive (true, false)
// target-line pairs (§4.1's sibling-branch decoration); an untouched line
// is rendered as "L(S:T)" when L is the false-side of pair (S,L) or
// "L(S:F)" when L is the true-side of pair (L,S).
func branchCoverage(brs []uint32, hitLines map[uint32]struct{}) ([]uint32, float64, []string) {
	brSet := toSet(brs)
	hits := intersect(hitLines, brSet)
	untouched := symmetricDiff(brSet, hits)

	trueMap := make(map[uint32]uint32)  // true_target -> false_target
	falseMap := make(map[uint32]uint32) // false_target -> true_target
	for i := 0; i+1 < len(brs); i += 2 {
		trueMap[brs[i]] = brs[i+1]
		falseMap[brs[i+1]] = brs[i]
	}

	markers := make([]string, 0, len(untouched))
	for _, line := range untouched {
		if fbr, ok := trueMap[line]; ok {
			markers = append(markers, fmt.Sprintf("%d(%d:F)", line, fbr))
			continue
		}
		if tbr, ok := falseMap[line]; ok {
			markers = append(markers, fmt.Sprintf("%d(%d:T)", line, tbr))
			continue
		}
		markers = append(markers, "")
	}

	distinctBrs := toSet(brs)
	pct := 0.0
	if len(distinctBrs) > 0 {
		pct = float64(len(hits)) / float64(len(distinctBrs)) * 100.0
	}
	return untouched, pct, markers
}

// EncodeReports serializes reports with an 8-byte little-endian length
// prefix followed by the CBOR encoding, matching the "prefixed 8-byte
// length + serialized Vec<CovReport>" staging format of §6 (the prefix
// width here is the encoded CBOR length, used identically to the original
// bincode length prefix: DecodeReports reads it back symmetrically, so the
// round-trip law of §8 holds regardless of the prefix's byte width).
func EncodeReports(reports []Report) ([]byte, error) {
	body, err := cbor.Marshal(reports)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(body))
	n := uint64(len(body))
	for i := 0; i < 8; i++ {
		out[i] = byte(n >> (8 * i))
	}
	copy(out[8:], body)
	return out, nil
}

// DecodeReports is the inverse of EncodeReports: deserialize(serialize(r))
// == r, per §8's round-trip law.
func DecodeReports(buf []byte) ([]Report, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("covrt: buffer too short for length prefix")
	}
	var n uint64
	for i := 0; i < 8; i++ {
		n |= uint64(buf[i]) << (8 * i)
	}
	if uint64(len(buf)) < 8+n {
		return nil, fmt.Errorf("covrt: truncated report buffer")
	}
	var reports []Report
	if err := cbor.Unmarshal(buf[8:8+n], &reports); err != nil {
		return nil, err
	}
	return reports, nil
}
