package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/raine/listing-agent/internal/listing"
	"github.com/raine/listing-agent/internal/workflow"
)

// ErrorMessage is shown for every failed pass regardless of the cause.
const ErrorMessage = "Something went wrong. Please try again or upload a different photo."

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99"))

	stageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

// FormatPrice formats a price for display, e.g. £49.99.
func FormatPrice(price float64) string {
	return fmt.Sprintf("£%.2f", price)
}

// Render draws the screen for a session snapshot.
func Render(s workflow.Session) string {
	var b strings.Builder

	switch s.Step {
	case workflow.StepUpload:
		b.WriteString(titleStyle.Render("📷 Upload a photo of the item you want to sell"))

	case workflow.StepProgress:
		if s.Failed() {
			b.WriteString(errorStyle.Render("✗ " + ErrorMessage))
			break
		}
		b.WriteString(titleStyle.Render("⏳ Working on it"))
		if s.Stage != workflow.StageNone {
			b.WriteString("\n")
			b.WriteString(stageStyle.Render("  " + capitalize(string(s.Stage)) + "..."))
		}

	case workflow.StepChat:
		b.WriteString(titleStyle.Render("🎙  Talking to the listing agent"))
		b.WriteString("\n")
		b.WriteString(stageStyle.Render("  Answer the agent's questions out loud. Hang up when you're done."))

	case workflow.StepReview:
		b.WriteString(titleStyle.Render("📝 Review your listing"))
		if s.Listing != nil {
			b.WriteString("\n")
			b.WriteString(RenderListing(s.Listing))
		}
		if s.Stage == workflow.StagePublishing {
			b.WriteString("\n")
			b.WriteString(stageStyle.Render("  Publishing..."))
		} else if s.Err != nil {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render("✗ " + ErrorMessage))
		}

	case workflow.StepFeedback:
		b.WriteString(titleStyle.Render("💬 What should change?"))

	case workflow.StepAccepted:
		b.WriteString(successStyle.Render("✓ Listing published"))
	}

	return b.String()
}

// RenderListing draws a listing card.
func RenderListing(l *listing.Listing) string {
	rows := []string{
		labelStyle.Render("Title") + l.Title,
		labelStyle.Render("Price") + FormatPrice(l.Price),
		labelStyle.Render("Category") + l.Category,
		"",
		lipgloss.NewStyle().Width(60).Render(l.Description),
	}
	return cardStyle.Render(strings.Join(rows, "\n"))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
