package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/raine/listing-agent/internal/listing"
	"github.com/raine/listing-agent/internal/voice"
)

// Dynamic variable names understood by the voice agent.
const (
	varAnalysisResult = "image_analysis_result"
	varFeedback       = "feedback"
)

// handle is the single entry point that mutates the session. Called only
// from the worker.
func (o *Orchestrator) handle(msg message) {
	switch msg.Type {
	case msgSubmitImage:
		o.handleSubmitImage(msg)
		return
	case msgHangUp:
		o.handleHangUp()
		return
	case msgAccept:
		o.handleAccept()
		return
	case msgReject:
		o.handleReject()
		return
	case msgFeedback:
		o.handleFeedback(msg.Text)
		return
	case msgReupload:
		o.handleReupload()
		return
	case msgShutdown:
		o.endPass()
		log.Info().Msg("orchestrator shut down")
		return
	}

	if msg.Gen != o.gen {
		log.Debug().
			Str("type", string(msg.Type)).
			Uint64("gen", msg.Gen).
			Uint64("current", o.gen).
			Msg("dropping result of superseded pass")
		msg.release()
		return
	}

	switch msg.Type {
	case msgAnalysisDone:
		o.handleAnalysisDone(msg)
	case msgMicReady:
		o.handleMicReady(msg)
	case msgVoiceOpened:
		o.handleVoiceOpened(msg)
	case msgUtterance:
		o.handleUtterance(msg.Utterance)
	case msgVoiceEnded:
		o.handleVoiceEnded(msg)
	case msgTranscriptDone:
		o.handleTranscriptDone(msg)
	case msgListingDone:
		o.handleListingDone(msg)
	case msgPublishDone:
		o.handlePublishDone(msg)
	default:
		log.Warn().Str("type", string(msg.Type)).Msg("unknown orchestrator message")
	}
}

// --- User commands ---

func (o *Orchestrator) handleSubmitImage(msg message) {
	s := &o.session
	if msg.Image == nil {
		log.Warn().Msg("ignoring submit without image")
		return
	}
	if !(s.Step == StepUpload || s.Failed()) {
		log.Info().Str("state", s.String()).Msg("ignoring image submit")
		return
	}

	o.deps.Journal.User("submitted image %s (%s, %d bytes)", msg.Image.Name, msg.Image.MIMEType, len(msg.Image.Data))
	s.Image = msg.Image
	s.Feedback = ""
	o.startPass()
}

func (o *Orchestrator) handleHangUp() {
	if o.session.Step != StepChat || o.conv == nil {
		log.Info().Str("state", o.session.String()).Msg("ignoring hang up")
		return
	}
	o.deps.Journal.User("hung up")
	if err := o.conv.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close voice session")
	}
}

func (o *Orchestrator) handleAccept() {
	s := &o.session
	if s.Step != StepReview || s.Listing == nil {
		log.Info().Str("state", s.String()).Msg("ignoring accept")
		return
	}
	if s.Stage == StagePublishing {
		log.Info().Msg("ignoring accept, already publishing")
		return
	}

	o.deps.Journal.User("accepted %q", s.Listing.Title)
	s.Stage = StagePublishing
	s.Err = nil
	o.commit()

	sub := Submission{
		Listing:        s.Listing.Clone(),
		Image:          s.Image,
		AnalysisText:   s.AnalysisText,
		ConversationID: s.ConversationID,
		Transcript:     s.Transcript,
	}
	o.spawn(func(ctx context.Context) message {
		return message{Type: msgPublishDone, Err: o.deps.Publisher.Publish(ctx, sub)}
	})
}

func (o *Orchestrator) handleReject() {
	s := &o.session
	if s.Step != StepReview || s.Stage == StagePublishing {
		log.Info().Str("state", s.String()).Msg("ignoring reject")
		return
	}
	o.deps.Journal.User("rejected %q", s.Listing.Title)
	s.Step = StepFeedback
	s.Stage = StageNone
	s.Listing = nil
	o.commit()
}

func (o *Orchestrator) handleFeedback(text string) {
	s := &o.session
	if !(s.Step == StepFeedback || s.Failed()) || s.Image == nil {
		log.Info().Str("state", s.String()).Msg("ignoring feedback")
		return
	}

	s.Feedback = strings.TrimSpace(text)
	s.Listing = nil
	s.Transcript = ""
	o.deps.Journal.User("feedback %q", s.Feedback)
	o.startPass()
}

func (o *Orchestrator) handleReupload() {
	o.deps.Journal.User("reupload")
	o.endPass()
	o.session = initialSession()
	log.Info().Msg("session reset")
	o.commit()
}

// --- Pipeline ---

// startPass runs the image pipeline against the session's image.
func (o *Orchestrator) startPass() {
	o.endPass()

	s := &o.session
	s.Pass++
	s.Step = StepProgress
	s.Progress = ProgressAnalyzing
	s.Stage = StageAnalyzing
	s.AnalysisText = ""
	s.ConversationID = ""
	s.Transcript = ""
	s.Listing = nil
	s.Err = nil
	o.passCtx, o.passCancel = context.WithCancel(o.ctx)

	log.Info().Int("pass", s.Pass).Str("image", s.Image.Name).Msg("starting pass")
	o.commit()

	img := s.Image
	o.deps.Journal.API("analyze image %s", img.Name)
	o.spawn(func(ctx context.Context) message {
		text, err := o.deps.Analyzer.AnalyzeImage(ctx, img)
		return message{Type: msgAnalysisDone, Text: text, Err: err}
	})
}

func (o *Orchestrator) handleAnalysisDone(msg message) {
	if msg.Err != nil {
		o.fail("image analysis", msg.Err)
		return
	}

	s := &o.session
	s.AnalysisText = msg.Text
	s.Stage = StageMicrophone
	o.deps.Journal.API("image analysis: %s", msg.Text)
	o.commit()

	o.spawn(func(ctx context.Context) message {
		stream, err := o.deps.Microphone.Acquire(ctx)
		return message{Type: msgMicReady, Stream: stream, Err: err}
	})
}

func (o *Orchestrator) handleMicReady(msg message) {
	if msg.Err != nil {
		o.fail("microphone", msg.Err)
		return
	}

	s := &o.session
	o.mic = msg.Stream
	s.Stage = StageConnecting
	o.commit()

	vars := map[string]string{varAnalysisResult: s.AnalysisText}
	if s.Feedback != "" {
		vars[varFeedback] = s.Feedback
	}
	gen := o.gen
	opts := voice.Options{
		DynamicVariables: vars,
		Microphone:       msg.Stream,
		Output:           o.deps.Player,
		OnUtterance: func(u voice.Utterance) {
			o.post(message{Type: msgUtterance, Gen: gen, Utterance: u})
		},
	}

	o.spawn(func(ctx context.Context) message {
		conv, err := o.deps.Voice.Open(ctx, opts)
		return message{Type: msgVoiceOpened, Conv: conv, Err: err}
	})
}

func (o *Orchestrator) handleVoiceOpened(msg message) {
	if msg.Err != nil {
		o.fail("voice session", msg.Err)
		return
	}

	s := &o.session
	conv := msg.Conv
	o.conv = conv
	s.ConversationID = conv.ID()
	s.Step = StepChat
	s.Stage = StageConversation
	o.deps.Journal.API("voice session %s opened", conv.ID())
	log.Info().Str("conversationID", conv.ID()).Int("pass", s.Pass).Msg("conversation started")
	o.commit()

	// The conversation signals its end by closing Done; no polling
	gen := o.gen
	go func() {
		<-conv.Done()
		o.post(message{Type: msgVoiceEnded, Gen: gen, Err: conv.Err()})
	}()
}

func (o *Orchestrator) handleUtterance(u voice.Utterance) {
	s := &o.session
	if s.Step != StepChat {
		return
	}
	line := voice.FormatTranscript([]voice.Utterance{u})
	if s.Transcript != "" {
		s.Transcript += "\n"
	}
	s.Transcript += line
	o.deps.Journal.Voice("%s", line)
	o.commit()
}

func (o *Orchestrator) handleVoiceEnded(msg message) {
	s := &o.session
	if s.Step != StepChat {
		return
	}

	// The microphone goes first, whatever the outcome
	o.releaseMic()
	o.conv = nil

	if msg.Err != nil {
		o.fail("voice session", msg.Err)
		return
	}

	s.Step = StepProgress
	s.Progress = ProgressAnalyzing
	s.Stage = StageTranscript
	log.Info().Str("conversationID", s.ConversationID).Msg("conversation ended")
	o.commit()

	id := s.ConversationID
	o.deps.Journal.API("fetch transcript %s", id)
	o.spawn(func(ctx context.Context) message {
		text, err := o.deps.Transcripts.FetchTranscript(ctx, id)
		return message{Type: msgTranscriptDone, Text: text, Err: err}
	})
}

func (o *Orchestrator) handleTranscriptDone(msg message) {
	if msg.Err != nil {
		o.fail("transcript", msg.Err)
		return
	}

	s := &o.session
	s.Transcript = msg.Text
	s.Stage = StagePricing
	o.commit()

	transcript, analysis := s.Transcript, s.AnalysisText
	o.deps.Journal.API("synthesize listing")
	o.spawn(func(ctx context.Context) message {
		l, err := o.deps.Synthesizer.SynthesizeListing(ctx, transcript, analysis)
		return message{Type: msgListingDone, Listing: l, Err: err}
	})
}

func (o *Orchestrator) handleListingDone(msg message) {
	if msg.Err == nil && msg.Listing == nil {
		msg.Err = &listing.ServiceError{Op: "price analysis", Err: errors.New("no listing returned")}
	}
	if msg.Err != nil {
		o.fail("pricing", msg.Err)
		return
	}

	s := &o.session
	s.Listing = msg.Listing
	s.Step = StepReview
	s.Progress = ProgressComplete
	s.Stage = StageNone
	o.deps.Journal.API("listing %q price=%.2f category=%q", s.Listing.Title, s.Listing.Price, s.Listing.Category)
	log.Info().Int("pass", s.Pass).Str("title", s.Listing.Title).Msg("listing ready for review")
	o.commit()
}

func (o *Orchestrator) handlePublishDone(msg message) {
	s := &o.session
	if s.Step != StepReview || s.Stage != StagePublishing {
		return
	}
	s.Stage = StageNone

	if msg.Err != nil {
		s.Err = msg.Err
		log.Error().Err(msg.Err).Int("pass", s.Pass).Msg("failed to publish listing")
		o.deps.Journal.Error("publish: %v", msg.Err)
		o.commit()
		return
	}

	o.endPass()
	s.Step = StepAccepted
	log.Info().Int("pass", s.Pass).Str("title", s.Listing.Title).Msg("listing published")
	o.commit()
}

// --- Resources ---

// spawn runs task in its own goroutine with the current pass context and
// posts the result back tagged with the current generation.
func (o *Orchestrator) spawn(task func(ctx context.Context) message) {
	ctx, gen := o.passCtx, o.gen
	if ctx == nil {
		ctx = o.ctx
	}
	go func() {
		msg := task(ctx)
		msg.Gen = gen
		o.post(msg)
	}()
}

// endPass invalidates every in-flight task of the current pass and
// releases the resources it holds.
func (o *Orchestrator) endPass() {
	o.gen++
	if o.passCancel != nil {
		o.passCancel()
		o.passCancel = nil
		o.passCtx = nil
	}
	o.releaseMic()
	o.closeConversation()
}

func (o *Orchestrator) releaseMic() {
	if o.mic == nil {
		return
	}
	if err := o.mic.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to release microphone")
	}
	o.mic = nil
}

func (o *Orchestrator) closeConversation() {
	if o.conv == nil {
		return
	}
	if err := o.conv.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close voice session")
	}
	o.conv = nil
}

// fail ends the pass in progress/error.
func (o *Orchestrator) fail(stage string, err error) {
	o.endPass()

	s := &o.session
	s.Step = StepProgress
	s.Progress = ProgressError
	s.Stage = StageNone
	s.Err = err
	s.ConversationID = ""
	s.Listing = nil

	log.Error().Err(err).Int("pass", s.Pass).Str("stage", stage).Msg("pass failed")
	o.deps.Journal.Error("%s: %v", stage, err)
	o.commit()
}
