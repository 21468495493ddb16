package workflow

import (
	"github.com/raine/listing-agent/internal/capture"
	"github.com/raine/listing-agent/internal/listing"
)

// Step is the screen the user is on.
type Step string

const (
	StepUpload   Step = "upload"
	StepProgress Step = "progress"
	StepChat     Step = "chat"
	StepReview   Step = "review"
	StepFeedback Step = "feedback"
	StepAccepted Step = "accepted"
)

// Progress is the sub-state of StepProgress. Empty outside a pass.
type Progress string

const (
	ProgressAnalyzing Progress = "analyzing"
	ProgressComplete  Progress = "complete"
	ProgressError     Progress = "error"
)

// Stage names the pipeline stage currently running. Display only.
type Stage string

const (
	StageNone         Stage = ""
	StageAnalyzing    Stage = "analyzing image"
	StageMicrophone   Stage = "opening microphone"
	StageConnecting   Stage = "connecting to agent"
	StageConversation Stage = "in conversation"
	StageTranscript   Stage = "fetching transcript"
	StagePricing      Stage = "pricing"
	StagePublishing   Stage = "publishing"
)

// Session is the state of one user journey from photo to listing.
type Session struct {
	Step     Step
	Progress Progress
	Stage    Stage

	Image          *capture.Image
	AnalysisText   string
	ConversationID string
	// Transcript grows line by line during the conversation and is replaced
	// by the server transcript once it ends.
	Transcript string
	Listing    *listing.Listing

	// Feedback is the user's last rejection reason, forwarded to the agent
	// on the next pass.
	Feedback string
	Err      error
	Pass     int
}

// initialSession is what a fresh or reuploaded session looks like.
func initialSession() Session {
	return Session{Step: StepUpload}
}

// Clone returns a copy that shares no mutable state with s. The image is
// treated as immutable and shared.
func (s Session) Clone() Session {
	s.Listing = s.Listing.Clone()
	return s
}

// Busy reports whether a pass is in flight.
func (s Session) Busy() bool {
	return (s.Step == StepProgress && s.Progress == ProgressAnalyzing) || s.Step == StepChat
}

// Failed reports whether the last pass ended in an error.
func (s Session) Failed() bool {
	return s.Step == StepProgress && s.Progress == ProgressError
}

func (s Session) String() string {
	if s.Step == StepProgress {
		return string(s.Step) + "/" + string(s.Progress)
	}
	return string(s.Step)
}
