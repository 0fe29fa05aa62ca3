package tui

import (
	"context"
	"errors"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kirillkom/cvclient/internal/core/ports"
)

// Run builds the session against sinks that feed the program, then blocks
// until the user quits or ctx is cancelled.
func Run(ctx context.Context, build func(ports.Sinks) (Deps, error)) error {
	var program atomic.Pointer[tea.Program]
	sink := NewSink(func(msg tea.Msg) {
		if p := program.Load(); p != nil {
			p.Send(msg)
		}
	})

	deps, err := build(sink.Sinks())
	if err != nil {
		return err
	}

	p := tea.NewProgram(NewModel(deps), tea.WithAltScreen(), tea.WithContext(ctx))
	program.Store(p)

	_, runErr := p.Run()
	program.Store(nil)
	if runErr != nil && errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return runErr
}
