// Package ui is the terminal front end. It renders orchestrator snapshots
// and turns user input into orchestrator commands.
package ui

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/raine/listing-agent/internal/capture"
	"github.com/raine/listing-agent/internal/workflow"
)

// Controller is the orchestrator surface the UI drives.
type Controller interface {
	SubmitImage(img *capture.Image)
	HangUp()
	AcceptListing()
	RejectListing()
	SubmitFeedback(text string)
	Reupload()
	Snapshot() workflow.Session
	Subscribe() <-chan workflow.Session
}

var _ Controller = (*workflow.Orchestrator)(nil)

type App struct {
	ctrl     Controller
	prompter Prompter
	out      io.Writer
}

func NewApp(ctrl Controller, prompter Prompter, out io.Writer) *App {
	return &App{ctrl: ctrl, prompter: prompter, out: out}
}

// Run drives the session until the user quits or ctx is done. A prompt is
// abandoned when the session moves on without the user, for example when
// the agent hangs up first.
func (a *App) Run(ctx context.Context) error {
	updates := a.ctrl.Subscribe()
	var lastView string

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Snapshot after draining so pending updates are never older than s
		if !drain(updates) {
			return nil
		}
		s := a.ctrl.Snapshot()
		if view := Render(s); view != lastView {
			fmt.Fprintln(a.out, view)
			fmt.Fprintln(a.out)
			lastView = view
		}

		if waiting(s) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case _, ok := <-updates:
				if !ok {
					return nil
				}
			}
			continue
		}

		promptCtx, cancel := context.WithCancel(ctx)
		stop := watchForChange(promptCtx, cancel, updates, s)
		err := a.act(promptCtx, s)
		closed := stop()
		cancel()

		switch {
		case errors.Is(err, errQuit), errors.Is(err, huh.ErrUserAborted):
			return nil
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.Canceled):
			// The session moved on while the prompt was open
		case err != nil:
			return err
		}
		if closed {
			return nil
		}
	}
}

var errQuit = errors.New("quit")

// drain discards pending updates. It returns false if the channel is
// closed.
func drain(updates <-chan workflow.Session) bool {
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

// waiting reports whether the session is busy with no input to ask for.
func waiting(s workflow.Session) bool {
	if s.Step == workflow.StepChat {
		return false
	}
	return s.Busy() || s.Stage == workflow.StagePublishing
}

// watchForChange cancels the prompt context when a snapshot arrives whose
// step differs from s. The returned stop function ends the watch and
// reports whether the updates channel was closed.
func watchForChange(ctx context.Context, cancel context.CancelFunc, updates <-chan workflow.Session, s workflow.Session) func() bool {
	done := make(chan struct{})
	result := make(chan bool, 1)

	go func() {
		for {
			select {
			case <-done:
				result <- false
				return
			case <-ctx.Done():
				result <- false
				return
			case u, ok := <-updates:
				if !ok {
					cancel()
					result <- true
					return
				}
				if u.String() != s.String() || u.Stage != s.Stage {
					cancel()
					result <- false
					return
				}
			}
		}
	}()

	return func() bool {
		close(done)
		return <-result
	}
}

func (a *App) act(ctx context.Context, s workflow.Session) error {
	switch {
	case s.Step == workflow.StepUpload:
		path, err := a.prompter.ImagePath(ctx)
		if err != nil {
			return err
		}
		img, err := capture.LoadImage(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to load image")
			fmt.Fprintln(a.out, errorStyle.Render("✗ "+err.Error()))
			return nil
		}
		a.ctrl.SubmitImage(img)

	case s.Step == workflow.StepChat:
		if err := a.prompter.HangUp(ctx); err != nil {
			return err
		}
		a.ctrl.HangUp()

	case s.Step == workflow.StepReview:
		accept, err := a.prompter.Review(ctx, s.Listing)
		if err != nil {
			return err
		}
		if accept {
			a.ctrl.AcceptListing()
		} else {
			a.ctrl.RejectListing()
		}

	case s.Step == workflow.StepFeedback:
		text, err := a.prompter.Feedback(ctx)
		if err != nil {
			return err
		}
		a.ctrl.SubmitFeedback(text)

	case s.Failed():
		choice, err := a.prompter.Recover(ctx)
		if err != nil {
			return err
		}
		switch choice {
		case RecoveryRetry:
			if s.Feedback != "" {
				a.ctrl.SubmitFeedback(s.Feedback)
			} else {
				a.ctrl.SubmitImage(s.Image)
			}
		case RecoveryReupload:
			a.ctrl.Reupload()
		}

	case s.Step == workflow.StepAccepted:
		another, err := a.prompter.Another(ctx)
		if err != nil {
			return err
		}
		if !another {
			return errQuit
		}
		a.ctrl.Reupload()
	}

	return nil
}

// PrintBanner prints the startup title.
func PrintBanner(w io.Writer) {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1).
		Render("🏷  Listing Agent")
	fmt.Fprintln(w, banner)
}
