package suite

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-contest/types"
)

// Reporter receives progress while a file runs.
type Reporter interface {
	SuiteStart(title string, depth int)
	TestEnd(result types.TestResult)
	Done(stats Stats)
}

// SpecReporter prints results the way mocha's spec reporter does: a tree of suites and tests
// followed by a summary and the details of every failure.
type SpecReporter struct {
	w      io.Writer
	colors bool

	mu       sync.Mutex
	failures []types.TestResult
}

// NewSpecReporter writes to w. Colours are emitted when colors is set.
func NewSpecReporter(w io.Writer, colors bool) *SpecReporter {
	return &SpecReporter{w: w, colors: colors}
}

func (r *SpecReporter) paint(c text.Colors, s string) string {
	if !r.colors {
		return s
	}
	return c.Sprint(s)
}

func indent(depth int) string {
	return strings.Repeat("  ", depth+1)
}

func (r *SpecReporter) SuiteStart(title string, depth int) {
	if depth == 0 {
		fmt.Fprintln(r.w)
	}
	fmt.Fprintf(r.w, "%s%s\n", indent(depth), title)
}

func (r *SpecReporter) TestEnd(res types.TestResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Tests sit one level below their describe block.
	depth := len(res.HierarchyPath)
	if depth > 0 {
		depth--
	}
	title := res.Title
	if res.Hook && len(res.HierarchyPath) > 0 {
		title = res.Title + " in \"" + res.GetParentName() + "\""
	}

	switch {
	case res.Status == types.TestStatusSkip:
		fmt.Fprintf(r.w, "%s%s\n", indent(depth), r.paint(text.Colors{text.FgCyan}, "- "+title))
	case res.Status.IsFailure():
		r.failures = append(r.failures, res)
		fmt.Fprintf(r.w, "%s%s\n", indent(depth), r.paint(text.Colors{text.FgRed}, fmt.Sprintf("%d) %s", len(r.failures), title)))
	default:
		line := r.paint(text.Colors{text.FgGreen}, "✓") + " " + r.paint(text.Colors{text.FgHiBlack}, title)
		if res.Duration >= 75*time.Millisecond {
			line += r.paint(text.Colors{text.FgYellow}, fmt.Sprintf(" (%dms)", res.Duration.Milliseconds()))
		}
		fmt.Fprintf(r.w, "%s%s\n", indent(depth), line)
	}
}

func (r *SpecReporter) Done(stats Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "  %s %s\n", r.paint(text.Colors{text.FgGreen}, fmt.Sprintf("%d passing", stats.Passes)),
		r.paint(text.Colors{text.FgHiBlack}, fmt.Sprintf("(%s)", stats.Duration.Round(time.Millisecond))))
	if stats.Failures > 0 {
		fmt.Fprintf(r.w, "  %s\n", r.paint(text.Colors{text.FgRed}, fmt.Sprintf("%d failing", stats.Failures)))
	}
	if stats.Pending > 0 {
		fmt.Fprintf(r.w, "  %s\n", r.paint(text.Colors{text.FgCyan}, fmt.Sprintf("%d pending", stats.Pending)))
	}
	for i, f := range r.failures {
		fmt.Fprintln(r.w)
		parents := f.HierarchyPath
		if len(parents) > 0 {
			parents = parents[:len(parents)-1]
		}
		fmt.Fprintf(r.w, "  %d) %s\n", i+1, strings.Join(append(append([]string{}, parents...), f.Title+":"), "\n     "))
		fmt.Fprintf(r.w, "     %s\n", r.paint(text.Colors{text.FgRed}, strings.ReplaceAll(f.Error, "\n", "\n     ")))
	}
	fmt.Fprintln(r.w)
}
