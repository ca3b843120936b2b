// Package progress renders diff progress on a terminal.
package progress

import (
	"io"
	"sync"
	"time"

	"github.com/TFMV/tabdelta/pkg/core"
	"github.com/briandowns/spinner"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Bar is a progress bar fed by core.ProgressSink updates.
type Bar interface {
	core.ProgressSink
	// Done completes the bar and waits for it to render.
	Done()
	// Abort removes the bar without completing it.
	Abort()
}

type noopBar struct{}

func (noopBar) Progress(processed, total int64) {}
func (noopBar) Done()                           {}
func (noopBar) Abort()                          {}

// NewNoopBar returns a bar that renders nothing.
func NewNoopBar() Bar { return noopBar{} }

type bar struct {
	once sync.Once
	out  io.Writer
	name string
	p    *mpb.Progress
	b    *mpb.Bar
}

// NewBar returns a bar named name writing to out. When quiet is set the bar
// renders nothing.
func NewBar(out io.Writer, name string, quiet bool) Bar {
	if quiet {
		return noopBar{}
	}
	return &bar{out: out, name: name}
}

// The total is only known with the first update, so the bar is created then.
func (b *bar) start(total int64) {
	b.p = mpb.New(mpb.WithOutput(b.out))
	b.b = b.p.New(total,
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding(" ").Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(b.name, decor.WC{W: len(b.name) + 1, C: decor.DidentRight}),
			decor.Counters(0, "%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5, C: decor.DidentRight}),
			decor.Elapsed(decor.ET_STYLE_GO),
		),
		mpb.BarRemoveOnComplete(),
	)
}

func (b *bar) Progress(processed, total int64) {
	b.once.Do(func() { b.start(total) })
	b.b.SetCurrent(processed)
}

func (b *bar) Done() {
	if b.b == nil {
		return
	}
	if b.b.IsRunning() {
		b.b.SetTotal(-1, true)
	}
	b.p.Wait()
}

func (b *bar) Abort() {
	if b.b == nil {
		return
	}
	if b.b.IsRunning() {
		b.b.Abort(true)
	}
	b.p.Wait()
}

// Spinner shows activity while a step of unknown length runs.
type Spinner struct {
	s *spinner.Spinner
}

// StartSpinner starts a spinner with the given suffix on out. A quiet
// spinner renders nothing.
func StartSpinner(out io.Writer, suffix string, quiet bool) *Spinner {
	if quiet {
		return &Spinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	s.Suffix = " " + suffix
	s.Start()
	return &Spinner{s: s}
}

// Stop stops the spinner.
func (s *Spinner) Stop() {
	if s.s != nil {
		s.s.Stop()
	}
}
