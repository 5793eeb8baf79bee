package indexer

import (
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// ProgressFunc reports indexing progress. total == 0 marks a setup or
// informational message; total > 0 marks quantified progress where info
// carries a pre-formatted status string (throughput, active threads,
// current file).
type ProgressFunc func(current, total int, path string, info string)

// progressSink serializes callback invocations. File workers call it
// concurrently, so the callback itself only needs to be fast, not
// thread-safe.
type progressSink struct {
	mu sync.Mutex
	fn ProgressFunc
}

func newProgressSink(fn ProgressFunc) *progressSink {
	return &progressSink{fn: fn}
}

func (s *progressSink) report(current, total int, path, info string) {
	if s == nil || s.fn == nil {
		return
	}
	s.mu.Lock()
	s.fn(current, total, path, info)
	s.mu.Unlock()
}

// ConsoleProgressEnabled reports whether stderr is a terminal.
func ConsoleProgressEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// ConsoleProgress returns a ProgressFunc rendering a progress bar on
// stderr. Run-level setup messages (total == 0, no path) are printed as
// plain lines; per-file stage events carry a path and are not rendered.
func ConsoleProgress() ProgressFunc {
	var bar *progressbar.ProgressBar
	var barTotal int
	return func(current, total int, path, info string) {
		if total == 0 {
			if path != "" || info == "" {
				return
			}
			if bar != nil {
				_ = bar.Clear()
			}
			os.Stderr.WriteString(info + "\n")
			return
		}
		if bar == nil || barTotal != total {
			barTotal = total
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("indexing"),
				progressbar.OptionSetWidth(32),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "=",
					SaucerHead:    ">",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)
		}
		_ = bar.Set(current)
		if info != "" {
			bar.Describe(info)
		}
	}
}
