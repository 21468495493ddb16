package ui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/raine/listing-agent/internal/listing"
)

// FeedbackSuggestions are offered when the user rejects a listing.
var FeedbackSuggestions = []string{
	"Price seems too high",
	"Description needs more detail",
	"Wrong category",
	"Title could be better",
	"Missing specifications",
}

const otherFeedback = "Something else..."

// Recovery is the user's choice after a failed pass.
type Recovery int

const (
	RecoveryRetry Recovery = iota
	RecoveryReupload
)

// Prompter asks the user for input. Every method blocks until the user
// answers or ctx is done.
type Prompter interface {
	ImagePath(ctx context.Context) (string, error)
	HangUp(ctx context.Context) error
	Review(ctx context.Context, l *listing.Listing) (accept bool, err error)
	Feedback(ctx context.Context) (string, error)
	Recover(ctx context.Context) (Recovery, error)
	Another(ctx context.Context) (bool, error)
}

// HuhPrompter implements Prompter with interactive terminal forms.
type HuhPrompter struct{}

func run(ctx context.Context, fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).
		WithTheme(huh.ThemeBase16()).
		RunWithContext(ctx)
}

func (HuhPrompter) ImagePath(ctx context.Context) (string, error) {
	var path string
	err := run(ctx, huh.NewInput().
		Title("Photo path").
		Description("Path to a JPEG, PNG, GIF or WebP image").
		Value(&path).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("path is required")
			}
			return nil
		}))
	return strings.TrimSpace(path), err
}

func (HuhPrompter) HangUp(ctx context.Context) error {
	var done bool
	return run(ctx, huh.NewConfirm().
		Title("Hang up when you're finished").
		Affirmative("Hang up").
		Negative("").
		Value(&done))
}

func (HuhPrompter) Review(ctx context.Context, l *listing.Listing) (bool, error) {
	var accept bool
	err := run(ctx, huh.NewSelect[bool]().
		Title("Does this look right?").
		Options(
			huh.NewOption("Accept and publish", true),
			huh.NewOption("Reject and give feedback", false),
		).
		Value(&accept))
	return accept, err
}

func (HuhPrompter) Feedback(ctx context.Context) (string, error) {
	var choice string
	options := huh.NewOptions(append(FeedbackSuggestions, otherFeedback)...)
	if err := run(ctx, huh.NewSelect[string]().
		Title("What should change?").
		Options(options...).
		Value(&choice)); err != nil {
		return "", err
	}
	if choice != otherFeedback {
		return choice, nil
	}

	var text string
	err := run(ctx, huh.NewText().
		Title("Tell the agent what to fix").
		Value(&text).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("feedback is required")
			}
			return nil
		}))
	return strings.TrimSpace(text), err
}

func (HuhPrompter) Recover(ctx context.Context) (Recovery, error) {
	choice := RecoveryRetry
	err := run(ctx, huh.NewSelect[Recovery]().
		Title("What next?").
		Options(
			huh.NewOption("Try again with the same photo", RecoveryRetry),
			huh.NewOption("Upload a different photo", RecoveryReupload),
		).
		Value(&choice))
	return choice, err
}

func (HuhPrompter) Another(ctx context.Context) (bool, error) {
	another := true
	err := run(ctx, huh.NewConfirm().
		Title("List another item?").
		Affirmative("Yes").
		Negative("Quit").
		Value(&another))
	return another, err
}
