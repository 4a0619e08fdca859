// Package progress draws a terminal spinner while a long step runs.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var frameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

// Spinner animates on its own goroutine until Stop. Stop closes the stop
// channel and waits for the goroutine, so no frame is drawn after it returns.
type Spinner struct {
	out     io.Writer
	message string
	frames  spinner.Spinner
	enabled bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates a spinner writing to out. It only draws when out is a
// terminal.
func New(out io.Writer, message string) *Spinner {
	enabled := false
	if f, ok := out.(*os.File); ok {
		enabled = term.IsTerminal(int(f.Fd()))
	}
	return newSpinner(out, message, enabled)
}

func newSpinner(out io.Writer, message string, enabled bool) *Spinner {
	return &Spinner{
		out:     out,
		message: message,
		frames:  spinner.Dot,
		enabled: enabled,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins drawing. Calling it again has no effect.
func (s *Spinner) Start() {
	s.startOnce.Do(func() {
		if !s.enabled {
			close(s.done)
			return
		}
		go s.run()
	})
}

func (s *Spinner) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.frames.FPS)
	defer ticker.Stop()

	for i := 0; ; i++ {
		frame := s.frames.Frames[i%len(s.frames.Frames)]
		fmt.Fprintf(s.out, "\r%s %s", frameStyle.Render(frame), s.message)

		select {
		case <-s.stop:
			// Clear the line
			fmt.Fprint(s.out, "\r\033[K")
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the animation and waits for it to finish. It is safe to call
// without Start and more than once.
func (s *Spinner) Stop() {
	s.Start()
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}
