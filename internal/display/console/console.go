// Package console renders feed events to a terminal, one entry per event.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"nuha.dev/udpgps/internal/feed"
)

type Console struct {
	mu      sync.Mutex
	w       io.Writer
	normal  lipgloss.Style
	failure lipgloss.Style
	notice  lipgloss.Style
}

func New(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		w:       w,
		normal:  r.NewStyle(),
		failure: r.NewStyle().Foreground(lipgloss.Color("9")),
		notice:  r.NewStyle().Faint(true),
	}
}

// Handle renders one event. It is safe to register directly on a feed.
func (c *Console) Handle(ev feed.Event) {
	if ev.Kind == feed.KindError {
		c.Error(ev.Message())
		return
	}
	c.Print(ev.Message())
}

func (c *Console) Print(text string) {
	c.write(c.normal, text)
}

func (c *Console) Error(text string) {
	c.write(c.failure, text)
}

func (c *Console) Notice(text string) {
	c.write(c.notice, text)
}

func (c *Console) write(st lipgloss.Style, text string) {
	text = strings.TrimRight(text, "\n")
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintln(c.w, st.Render(line))
	}
	fmt.Fprintln(c.w)
}
