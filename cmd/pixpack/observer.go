package main

import (
	"fmt"
	"io"
	"strings"

	"pixpack-go/internal/job"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
)

// consoleObserver renders job events on the terminal: a pterm progress bar
// and coloured log lines. The relay calls it from a single goroutine.
type consoleObserver struct {
	out   io.Writer
	title string
	quiet bool
	bar   *pterm.ProgressbarPrinter
}

func newConsoleObserver(out io.Writer, title string, quiet bool) *consoleObserver {
	return &consoleObserver{out: out, title: title, quiet: quiet}
}

func (o *consoleObserver) OnProgress(percent int) {
	if o.quiet {
		return
	}
	if o.bar == nil {
		bar, err := pterm.DefaultProgressbar.
			WithTotal(100).
			WithTitle(o.title).
			WithWriter(o.out).
			Start()
		if err != nil {
			return
		}
		o.bar = bar
	}
	// the bar only moves forward
	if delta := percent - o.bar.Current; delta > 0 {
		o.bar.Add(delta)
	}
}

func (o *consoleObserver) OnLog(line string) {
	if o.quiet {
		return
	}
	fmt.Fprintln(o.out, colorLine(line))
}

func (o *consoleObserver) OnComplete(result job.Result) {
	if o.bar != nil {
		_, _ = o.bar.Stop()
		o.bar = nil
	}
	if result.Success {
		if !o.quiet {
			fmt.Fprintf(o.out, "✅ %s\n", color.New(color.FgGreen).Sprintf(
				"%d item(s) in %d ms -> %s", result.ItemCount, result.ElapsedMs, result.OutputPath))
		}
		return
	}
	// failures are shown even in quiet mode
	fmt.Fprintf(o.out, "❌ %s\n", color.New(color.FgRed).Sprintf("[%s] %s", result.ErrorKind, result.Error))
}

func colorLine(line string) string {
	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, "failed"), strings.Contains(lower, "error"), strings.Contains(lower, "corrupt"), strings.Contains(lower, "mismatch"):
		return color.New(color.FgRed).Sprint(line)
	case strings.HasPrefix(lower, "warning"), strings.Contains(lower, "cannot"):
		return color.New(color.FgYellow).Sprint(line)
	case strings.HasPrefix(line, "---"), strings.HasPrefix(lower, "done"):
		return color.New(color.Bold, color.FgCyan).Sprint(line)
	default:
		return color.New(color.Faint).Sprint(line)
	}
}
