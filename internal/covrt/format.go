package covrt

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

// FormatTable renders reports as the persisted cov.out table (§6). The
// retrieval pack carries no table-rendering library equivalent to the
// original's `tabled` crate (see DESIGN.md), so this formats columns with
// the standard library's text/tabwriter and reserves
// github.com/fatih/color, already used throughout this project for
// diagnostic output, for the colored terminal variant.
func FormatTable(reports []Report, colored bool) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 2, 4, 2, ' ', 0)

	header := []string{"File", "% Funcs", "Uncovered Funcs", "% Branch", "Uncovered Branches", "% Lines", "Uncovered lines"}
	fmt.Fprintln(w, strings.Join(header, "\t"))

	red := color.New(color.FgRed).SprintFunc()
	for _, r := range reports {
		funcsCol := fmt.Sprintf("%.2f", r.FuncsHitPct)
		brsCol := fmt.Sprintf("%.2f", r.BranchesHitPct)
		linesCol := fmt.Sprintf("%.2f", r.LinesHitPct)
		uncoveredFuncs := joinUint32(r.UncoveredFuncs)
		uncoveredBrs := strings.Join(r.UncoveredBranches, ",")
		uncoveredLines := joinUint32(r.UncoveredLines)
		if colored {
			uncoveredFuncs = red(uncoveredFuncs)
			uncoveredBrs = red(uncoveredBrs)
			uncoveredLines = red(uncoveredLines)
		}
		row := []string{r.File, funcsCol, uncoveredFuncs, brsCol, uncoveredBrs, linesCol, uncoveredLines}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	return buf.String()
}

func joinUint32(xs []uint32) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%d", x)
	}
	return strings.Join(parts, ",")
}
