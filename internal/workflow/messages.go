package workflow

import (
	"github.com/rs/zerolog/log"

	"github.com/raine/listing-agent/internal/capture"
	"github.com/raine/listing-agent/internal/listing"
	"github.com/raine/listing-agent/internal/voice"
)

type msgType string

const (
	// User commands
	msgSubmitImage msgType = "submit_image"
	msgHangUp      msgType = "hang_up"
	msgAccept      msgType = "accept"
	msgReject      msgType = "reject"
	msgFeedback    msgType = "feedback"
	msgReupload    msgType = "reupload"
	msgShutdown    msgType = "shutdown"

	// Task results
	msgAnalysisDone   msgType = "analysis_done"
	msgMicReady       msgType = "mic_ready"
	msgVoiceOpened    msgType = "voice_opened"
	msgUtterance      msgType = "utterance"
	msgVoiceEnded     msgType = "voice_ended"
	msgTranscriptDone msgType = "transcript_done"
	msgListingDone    msgType = "listing_done"
	msgPublishDone    msgType = "publish_done"
)

// message is one unit of work for the orchestrator worker.
type message struct {
	Type msgType
	Gen  uint64        // Generation of the pass that produced a task result
	Done chan struct{} // Closed when processing is complete (for synchronous dispatch)

	// Command data
	Image *capture.Image
	Text  string

	// Task result data (only what the Type needs is set)
	Err       error
	Listing   *listing.Listing
	Stream    capture.Stream
	Conv      voice.Conversation
	Utterance voice.Utterance
}

// release closes resources carried by a message that will not be
// processed, or whose pass is gone.
func (m message) release() {
	if m.Stream != nil {
		if err := m.Stream.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to release stale microphone stream")
		}
	}
	if m.Conv != nil {
		if err := m.Conv.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close stale voice session")
		}
	}
}
