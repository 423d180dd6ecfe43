package ui

import (
	"os"

	"github.com/pterm/pterm"
	"golang.org/x/term"
)

// StdoutIsTerminal reports whether a live spinner can be drawn.
func StdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Progress is the one-line status of a running scan. Update may be called
// from any goroutine; only the Progress's own goroutine touches the spinner.
// Without a live spinner the final outcome is still printed.
type Progress struct {
	spinner *pterm.SpinnerPrinter
	updates chan string
	quit    chan struct{}
	done    chan struct{}

	// text is owned by run until done is closed.
	text string
}

// StartProgress shows text and starts the render loop. live selects a pterm
// spinner; otherwise updates are only tracked.
func StartProgress(text string, live bool) *Progress {
	p := &Progress{
		updates: make(chan string, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		text:    text,
	}
	if live {
		p.spinner, _ = pterm.DefaultSpinner.Start(text)
	}
	go p.run()
	return p
}

func (p *Progress) run() {
	defer close(p.done)
	for {
		select {
		case text := <-p.updates:
			p.show(text)
		case <-p.quit:
			select {
			case text := <-p.updates:
				p.show(text)
			default:
			}
			return
		}
	}
}

func (p *Progress) show(text string) {
	p.text = text
	if p.spinner != nil {
		p.spinner.UpdateText(text)
	}
}

// Update replaces the status text. It never blocks; an update not yet drawn
// is superseded by a newer one.
func (p *Progress) Update(text string) {
	for {
		select {
		case <-p.quit:
			return
		case p.updates <- text:
			return
		default:
		}
		select {
		case <-p.updates:
		default:
		}
	}
}

// stop ends the render loop. Later updates are discarded.
func (p *Progress) stop() {
	select {
	case <-p.quit:
	default:
		close(p.quit)
	}
	<-p.done
}

func (p *Progress) Success(text string) {
	p.stop()
	if p.spinner != nil {
		p.spinner.Success(text)
		return
	}
	pterm.Success.Println(text)
}

func (p *Progress) Fail(text string) {
	p.stop()
	if p.spinner != nil {
		p.spinner.Fail(text)
		return
	}
	pterm.Error.Println(text)
}

func (p *Progress) Warning(text string) {
	p.stop()
	if p.spinner != nil {
		p.spinner.Warning(text)
		return
	}
	pterm.Warning.Println(text)
}
