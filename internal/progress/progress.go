// Package progress draws a terminal spinner while a long step blocks.
package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Enabled reports whether stderr is a terminal.
func Enabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// Spinner animates a description until Stop is called.
type Spinner struct {
	bar  *progressbar.ProgressBar
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// StartSpinner starts a spinner writing to w. It returns nil when disabled;
// a nil *Spinner is safe to Stop.
func StartSpinner(w io.Writer, enabled bool, desc string) *Spinner {
	if !enabled {
		return nil
	}
	if w == nil {
		w = os.Stderr
	}

	s := &Spinner{
		bar: progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSpinnerType(9),
			progressbar.OptionSetDescription(desc),
			progressbar.OptionSetWidth(10),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetElapsedTime(true),
			// The bar is only advanced from the goroutine below.
			progressbar.OptionSetSpinnerChangeInterval(0),
		),
		done: make(chan struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = s.bar.Add(1)
			case <-s.done:
				_ = s.bar.Finish()
				return
			}
		}
	}()
	return s
}

// Stop ends the animation and clears the line. It is idempotent.
func (s *Spinner) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}
