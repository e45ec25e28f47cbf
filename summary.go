package contest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-contest/runner"
	"github.com/ethereum-optimism/infra/op-contest/types"
	"github.com/ethereum-optimism/infra/op-contest/ui"
)

// printSummary prints the results table followed by the one line summary of the run.
func (c *contest) printSummary(result *runner.Result) {
	if len(result.Workers) > 0 {
		printResultsTable(c.stdout, c.config.TestPath, result)
	}
	fmt.Fprintln(c.stdout, summaryLine(result.Failures))
}

func summaryLine(failures int) string {
	if failures == 0 {
		return " > All tests passed"
	}
	return fmt.Sprintf(" > Total number of failures: %d", failures)
}

// printResultsTable prints one row per test file, followed by the tree of its failed tests.
func printResultsTable(w io.Writer, root string, result *runner.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Contract Test Results (%s)", formatDuration(result.Duration)))

	t.AppendHeader(table.Row{
		"Type", "File/Test", "Duration", "Tests", "Passed", "Failed", "Skipped", "Status", "Error",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "File/Test", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	var total, passed, failed, skipped int
	for _, worker := range result.Workers {
		p, f, s := worker.Counts()
		total += len(worker.Tests)
		passed += p
		failed += f
		skipped += s

		status := types.TestStatusPass
		if worker.Failures > 0 || worker.Crashed {
			status = types.TestStatusFail
		}
		var errMsg string
		if worker.Err != nil {
			errMsg = extractKeyErrorMessage(worker.Err.Error())
		}
		t.AppendRow(table.Row{
			"File",
			displayPath(root, worker.File),
			formatDuration(worker.Duration),
			len(worker.Tests),
			p,
			f,
			s,
			getResultString(status),
			errMsg,
		})

		failures := worker.Failed()
		paths := make([][]string, len(failures))
		for i, test := range failures {
			paths[i] = test.HierarchyPath
			if len(paths[i]) == 0 {
				paths[i] = []string{test.Title}
			}
		}
		for _, node := range ui.Flatten(paths) {
			if node.Leaf < 0 {
				t.AppendRow(table.Row{"Suite", node.Prefix + node.Label, "", "", "", "", "", "", ""})
				continue
			}
			test := failures[node.Leaf]
			kind := "Test"
			if test.Hook {
				kind = "Hook"
			}
			t.AppendRow(table.Row{
				kind,
				node.Prefix + node.Label,
				formatDuration(test.Duration),
				"",
				"",
				"",
				"",
				getResultString(test.Status),
				extractKeyErrorMessage(test.Error),
			})
		}
		t.AppendSeparator()
	}

	if result.Failures == 0 {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	overall := types.TestStatusPass
	if result.Failures > 0 {
		overall = types.TestStatusFail
	}
	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d files, %d failures", len(result.Workers), result.Failures),
		formatDuration(result.Duration),
		total,
		passed,
		failed,
		skipped,
		getResultString(overall),
		"",
	})

	t.Render()
}

// displayPath shortens file to a path relative to the test directory when possible.
func displayPath(root, file string) string {
	base := root
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		base = filepath.Dir(root)
	}
	if rel, err := filepath.Rel(base, file); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return file
}

// extractKeyErrorMessage keeps the first line of an error message.
func extractKeyErrorMessage(msg string) string {
	if idx := strings.Index(msg, "\n"); idx != -1 {
		msg = msg[:idx]
	}
	if len(msg) > 200 {
		msg = msg[:197] + "..."
	}
	return msg
}

// getResultString returns a string representing the test result
func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓ pass"
	case types.TestStatusSkip:
		return "- skip"
	default:
		return "✗ fail"
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
