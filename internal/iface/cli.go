package iface

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/thyrook/shogisolver/internal/notation"
	"github.com/thyrook/shogisolver/internal/shogi"
	"github.com/thyrook/shogisolver/internal/solver"
	"github.com/thyrook/shogisolver/internal/vision"
)

// CLI writes human readable output for the command line tools
type CLI struct {
	out   io.Writer
	quiet bool
	mu    sync.Mutex
}

// NewCLI creates a CLI writing to out; nil means stdout. Quiet mode keeps
// only results and errors.
func NewCLI(out io.Writer, quiet bool) *CLI {
	if out == nil {
		out = os.Stdout
	}
	return &CLI{out: out, quiet: quiet}
}

func (c *CLI) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}

// PrintBanner displays the application banner
func (c *CLI) PrintBanner(name string) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.printf("%s\n  %s\n%s\n\n", strings.Repeat("=", 50), name, strings.Repeat("=", 50))
}

// PrintStatus prints a timestamped status message
func (c *CLI) PrintStatus(message string, level string) {
	if c.quiet && level != "error" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var prefix string
	switch level {
	case "success":
		prefix = "[ok]"
	case "warning":
		prefix = "[warn]"
	case "error":
		prefix = "[error]"
	default:
		prefix = "[info]"
	}
	c.printf("%s %s %s\n", time.Now().Format("15:04:05"), prefix, message)
}

// PrintError prints an error message
func (c *CLI) PrintError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf("Error: %v\n", err)
}

// PrintRecord prints a position as a KIF board diagram
func (c *CLI) PrintRecord(r *shogi.Record) {
	if r == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf("%s\n", notation.BOD(r))
}

// PrintResult prints the outcome of one solve
func (c *CLI) PrintResult(name string, res *solver.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.printf("%s\n", strings.Repeat("─", 50))
	c.printf("image=%s, result=%s", name, res.Status)
	if res.Cached {
		c.printf(" (cached)")
	}
	c.printf("\n")
	if res.SFEN != "" {
		c.printf("sfen=%s\n", res.SFEN)
	}
	if !c.quiet && res.CSA != "" {
		c.printf("csa:\n%s\n", strings.TrimRight(res.CSA, "\n"))
	}
	if res.KIF != "" {
		c.printf("mate: %s\n", res.KIF)
	}
	if res.HintKIF != "" {
		c.printf("next: %s (%s)\n", res.HintKIF, res.HintScore)
	}
	if !c.quiet {
		c.printf("time: %s\n", res.Elapsed.Round(time.Millisecond))
	}
}

// PrintSolverStats prints the per-status tally of a run
func (c *CLI) PrintSolverStats(stats solver.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.printf("\n%s\n", strings.Repeat("═", 50))
	c.printf("  SOLVER STATISTICS\n")
	c.printf("%s\n", strings.Repeat("═", 50))
	c.printf("Images:          %d (%d cached)\n", stats.Images, stats.Cached)
	statuses := []solver.Status{solver.StatusSolved, solver.StatusNoMate, solver.StatusSolveNG, solver.StatusParseNG, solver.StatusImageNG}
	for _, st := range statuses {
		c.printf("  %-14s %d\n", st, stats.ByStatus[st])
	}
	if stats.AvgSolveMs > 0 {
		c.printf("Mate search:     avg %.1fms, max %.1fms\n", stats.AvgSolveMs, stats.MaxSolveMs)
	}
	if stats.EngineErrors > 0 {
		c.printf("Engine errors:   %d\n", stats.EngineErrors)
	}
	c.printf("nomate/total = %d/%d\n", stats.ByStatus[solver.StatusNoMate], stats.Images)
}

// PrintPipelineStats prints live watcher counters
func (c *CLI) PrintPipelineStats(stats vision.PipelineStats) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.printf("Frames: %d, changes: %d, records: %d, not a board: %d, misread: %d, errors: %d, avg %.1fms\n",
		stats.FramesProcessed, stats.ChangesDetected, stats.RecordsEmitted,
		stats.NotBoard, stats.OverSupply, stats.Errors, float64(stats.AverageFrameTime.Microseconds())/1000.0)
}

// PrintCounts prints a name → count table sorted by name
func (c *CLI) PrintCounts(title string, counts map[string]int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, len(names))
	for i, name := range names {
		rows[i] = []string{name, fmt.Sprintf("%d", counts[name])}
	}
	c.PrintTable([]string{title, "count"}, rows)
}

// PrintTable prints data in a formatted table
func (c *CLI) PrintTable(headers []string, rows [][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	colWidths := make([]int, len(headers))
	for i, h := range headers {
		colWidths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(colWidths) && len(cell) > colWidths[i] {
				colWidths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		c.printf("%-*s  ", colWidths[i], h)
	}
	c.printf("\n")
	for _, w := range colWidths {
		c.printf("%s", strings.Repeat("-", w+2))
	}
	c.printf("\n")
	for _, row := range rows {
		for i, cell := range row {
			if i < len(colWidths) {
				c.printf("%-*s  ", colWidths[i], cell)
			}
		}
		c.printf("\n")
	}
}

// PrintProgressBar displays a progress bar
func (c *CLI) PrintProgressBar(current, total int, label string) {
	if c.quiet || total <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	width := 40
	percentage := float64(current) / float64(total)
	if percentage > 1 {
		percentage = 1
	}
	filled := int(percentage * float64(width))

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	c.printf("\r%s [%s] %d/%d (%.1f%%) ", label, bar, current, total, percentage*100)
	if current >= total {
		c.printf("\n")
	}
}
