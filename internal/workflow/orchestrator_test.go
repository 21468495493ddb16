package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raine/listing-agent/internal/capture"
	"github.com/raine/listing-agent/internal/listing"
	"github.com/raine/listing-agent/internal/voice"
)

const (
	testAnalysis   = "A black 35mm film camera with a 50mm lens."
	testTranscript = "AI: What condition is it in?\nUSER: Mint, barely used."
)

var (
	waitTimeout = 2 * time.Second
	tick        = 5 * time.Millisecond
	quiet       = 100 * time.Millisecond
)

func vintageCamera() *listing.Listing {
	return &listing.Listing{
		Title:       "Vintage Camera",
		Description: "...",
		Price:       49.99,
		Category:    "Electronics",
	}
}

func testImage(name string) *capture.Image {
	return &capture.Image{
		Name:     name,
		MIMEType: "image/jpeg",
		Data:     []byte{0xFF, 0xD8, 0xFF, 0xE0},
		Preview:  "file:///tmp/" + name,
	}
}

type harness struct {
	o           *Orchestrator
	analyzer    *mockAnalyzer
	mic         *fakeMicrophone
	voice       *voice.MockOpener
	transcripts *mockTranscripts
	synth       *mockSynthesizer
	publisher   *mockPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		analyzer:    &mockAnalyzer{},
		mic:         &fakeMicrophone{},
		voice:       &voice.MockOpener{},
		transcripts: &mockTranscripts{},
		synth:       &mockSynthesizer{},
		publisher:   &mockPublisher{},
	}
	h.o = New(Deps{
		Analyzer:    h.analyzer,
		Microphone:  h.mic,
		Voice:       h.voice,
		Transcripts: h.transcripts,
		Synthesizer: h.synth,
		Publisher:   h.publisher,
	})
	t.Cleanup(h.o.Close)
	return h
}

// stubSuccess registers successful responses for every remote call that
// has no expectation yet.
func (h *harness) stubSuccess() {
	h.analyzer.On("AnalyzeImage", mock.Anything, mock.Anything).Return(testAnalysis, nil)
	h.transcripts.On("FetchTranscript", mock.Anything, "mock-conversation").Return(testTranscript, nil)
	h.synth.On("SynthesizeListing", mock.Anything, testTranscript, testAnalysis).Return(vintageCamera(), nil)
	h.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
}

func (h *harness) waitFor(t *testing.T, desc string, pred func(Session) bool) Session {
	t.Helper()
	var last Session
	ok := assert.Eventually(t, func() bool {
		last = h.o.Snapshot()
		return pred(last)
	}, waitTimeout, tick, desc)
	if !ok {
		t.Fatalf("last state: %s stage=%q err=%v", last, last.Stage, last.Err)
	}
	return last
}

func (h *harness) waitStep(t *testing.T, step Step) Session {
	t.Helper()
	return h.waitFor(t, "step "+string(step), func(s Session) bool { return s.Step == step })
}

func (h *harness) waitError(t *testing.T) Session {
	t.Helper()
	return h.waitFor(t, "progress/error", func(s Session) bool { return s.Failed() })
}

// toChat submits img and waits for the conversation to start.
func (h *harness) toChat(t *testing.T, img *capture.Image) *voice.MockConversation {
	t.Helper()
	n := len(h.voice.Conversations())
	h.o.SubmitImage(img)
	h.waitStep(t, StepChat)
	convs := h.voice.Conversations()
	require.Len(t, convs, n+1)
	return convs[n]
}

// toReview drives a full pass and hangs up.
func (h *harness) toReview(t *testing.T, img *capture.Image) *voice.MockConversation {
	t.Helper()
	conv := h.toChat(t, img)
	h.o.HangUp()
	h.waitStep(t, StepReview)
	return conv
}

func TestHappyPath_ProducesExactListing(t *testing.T) {
	h := newHarness(t)
	h.stubSuccess()
	img := testImage("camera.jpg")

	conv := h.toChat(t, img)

	s := h.o.Snapshot()
	assert.Equal(t, "mock-conversation", s.ConversationID)
	assert.Equal(t, testAnalysis, s.AnalysisText)
	assert.Same(t, img, s.Image)
	assert.Equal(t, 1, s.Pass)

	opens := h.voice.Opens()
	require.Len(t, opens, 1)
	assert.Equal(t, map[string]string{"image_analysis_result": testAnalysis}, opens[0].DynamicVariables)
	assert.NotNil(t, opens[0].Microphone)

	conv.Say(voice.Utterance{Speaker: voice.SpeakerAgent, Text: "What condition is it in?"})
	conv.Say(voice.Utterance{Speaker: voice.SpeakerUser, Text: "Mint."})
	h.waitFor(t, "live transcript", func(s Session) bool {
		return s.Transcript == "AI: What condition is it in?\nUSER: Mint."
	})

	h.o.HangUp()
	s = h.waitStep(t, StepReview)

	assert.Equal(t, ProgressComplete, s.Progress)
	assert.Equal(t, vintageCamera(), s.Listing)
	assert.Equal(t, testTranscript, s.Transcript)
	assert.NoError(t, s.Err)
	assert.Equal(t, 1, conv.CloseCalls())

	streams := h.mic.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, 1, streams[0].Closed())
}

func TestPricingWaitsForDisconnect(t *testing.T) {
	h := newHarness(t)
	h.stubSuccess()

	conv := h.toChat(t, testImage("camera.jpg"))

	time.Sleep(quiet)
	h.transcripts.AssertNotCalled(t, "FetchTranscript", mock.Anything, mock.Anything)
	h.synth.AssertNotCalled(t, "SynthesizeListing", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, StepChat, h.o.Snapshot().Step)

	// Remote side ends the call
	conv.End(nil)
	h.waitStep(t, StepReview)
	h.synth.AssertNumberOfCalls(t, "SynthesizeListing", 1)
}

func TestAnalysisTransportError_ThenReupload(t *testing.T) {
	h := newHarness(t)
	svcErr := &listing.ServiceError{Op: "analyze image", Err: errors.New("connection refused")}
	h.analyzer.On("AnalyzeImage", mock.Anything, mock.Anything).Return("", svcErr)

	h.o.SubmitImage(testImage("camera.jpg"))
	s := h.waitError(t)

	assert.True(t, listing.IsService(s.Err))
	assert.Nil(t, s.Listing)
	assert.Empty(t, s.ConversationID)
	assert.Zero(t, h.mic.Calls())

	h.o.Reupload()
	s = h.o.Snapshot()
	assert.Equal(t, initialSession(), s)
	assert.Nil(t, s.Image)
	assert.Equal(t, StepUpload, s.Step)
}

func TestTranscriptNotFound(t *testing.T) {
	h := newHarness(t)
	h.analyzer.On("AnalyzeImage", mock.Anything, mock.Anything).Return(testAnalysis, nil)
	h.transcripts.On("FetchTranscript", mock.Anything, "mock-conversation").
		Return("", &listing.NotFoundError{Resource: "transcript", ID: "mock-conversation"})

	h.toChat(t, testImage("camera.jpg"))
	h.o.HangUp()
	s := h.waitError(t)

	assert.True(t, listing.IsNotFound(s.Err))
	assert.Nil(t, s.Listing)
	h.synth.AssertNotCalled(t, "SynthesizeListing", mock.Anything, mock.Anything, mock.Anything)
}

func TestPricingFailure(t *testing.T) {
	h := newHarness(t)
	h.analyzer.On("AnalyzeImage", mock.Anything, mock.Anything).Return(testAnalysis, nil)
	h.transcripts.On("FetchTranscript", mock.Anything, mock.Anything).Return(testTranscript, nil)
	h.synth.On("SynthesizeListing", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &listing.ServiceError{Op: "price analysis", StatusCode: 500})

	h.toChat(t, testImage("camera.jpg"))
	h.o.HangUp()
	s := h.waitError(t)

	assert.True(t, listing.IsService(s.Err))
	assert.Nil(t, s.Listing)
}

func TestMissingListingIsServiceError(t *testing.T) {
	h := newHarness(t)
	h.analyzer.On("AnalyzeImage", mock.Anything, mock.Anything).Return(testAnalysis, nil)
	h.transcripts.On("FetchTranscript", mock.Anything, mock.Anything).Return(testTranscript, nil)
	h.synth.On("SynthesizeListing", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	h.toChat(t, testImage("camera.jpg"))
	h.o.HangUp()
	s := h.waitError(t)
	assert.True(t, listing.IsService(s.Err))
}

func TestMicrophoneDenied(t *testing.T) {
	h := newHarness(t)
	h.stubSuccess()
	h.mic.err = &listing.CaptureError{Op: "microphone", Err: errors.New("permission denied")}

	h.o.SubmitImage(testImage("camera.jpg"))
	s := h.waitError(t)

	assert.True(t, listing.IsCapture(s.Err))
	assert.Empty(t, h.voice.Opens())
}

func TestVoiceOpenFailure_ReleasesMicrophone(t *testing.T) {
	h := newHarness(t)
	h.stubSuccess()
	h.voice.OpenFunc = func(ctx context.Context, opts voice.Options) (voice.Conversation, error) {
		return nil, &listing.SessionError{Op: "dial", Err: errors.New("agent unreachable")}
	}

	h.o.SubmitImage(testImage("camera.jpg"))
	s := h.waitError(t)

	assert.True(t, listing.IsSession(s.Err))
	assert.Empty(t, s.ConversationID)
	streams := h.mic.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, 1, streams[0].Closed())
}

func TestAbnormalVoiceEnd(t *testing.T) {
	h := newHarness(t)
	h.stubSuccess()

	conv := h.toChat(t, testImage("camera.jpg"))
	conv.End(&listing.SessionError{Op: "read", Err: errors.New("unexpected EOF")})

	s := h.waitError(t)
	assert.True(t, listing.IsSession(s.Err))
	assert.Empty(t, s.ConversationID)
	h.transcripts.AssertNotCalled(t, "FetchTranscript", mock.Anything, mock.Anything)

	streams := h.mic.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, 1, streams[0].Closed())
}

func TestReuploadDuringChat_ReleasesEverything(t *testing.T) {
	h := newHarness(t)
	h.stubSuccess()

	conv := h.toChat(t, testImage("camera.jpg"))
	h.o.Reupload()

	assert.Equal(t, initialSession(), h.o.Snapshot())
	assert.Equal(t, 1, conv.CloseCalls())
	streams := h.mic.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, 1, streams[0].Closed())

	// The conversation's end belongs to the abandoned pass
	assert.Never(t, func() bool { return h.o.Snapshot().Step != StepUpload }, quiet, tick)
	h.transcripts.AssertNotCalled(t, "FetchTranscript", mock.Anything, mock.Anything)
}

func TestReuploadDuringAnalysis_DropsResult(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	h.analyzer.On("AnalyzeImage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(testAnalysis, nil)

	h.o.SubmitImage(testImage("camera.jpg"))
	<-started
	h.o.Reupload()

	assert.Never(t, func() bool { return h.mic.Calls() > 0 }, quiet, tick)
	assert.Equal(t, initialSession(), h.o.Snapshot())
}

func TestStaleMicrophoneIsReleased(t *testing.T) {
	h := newHarness(t)
	h.stubSuccess()
	h.mic.block = make(chan struct{})

	h.o.SubmitImage(testImage("camera.jpg"))
	h.waitFor(t, "acquiring microphone", func(s Session) bool { return s.Stage == StageMicrophone })
	require.Eventually(t, func() bool { return h.mic.Calls() == 1 }, waitTimeout, tick)

	h.o.Reupload()
	close(h.mic.block)

	require.Eventually(t, func() bool {
		streams := h.mic.Streams()
		return len(streams) == 1 && streams[0].Closed() == 1
	}, waitTimeout, tick)
	assert.Empty(t, h.voice.Opens())
	assert.Equal(t, StepUpload, h.o.Snapshot().Step)
}

func TestSubmitImageTwiceWhileAnalyzing(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.analyzer.On("AnalyzeImage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-release }).
		Return(testAnalysis, nil)

	first := testImage("first.jpg")
	h.o.SubmitImage(first)
	h.o.SubmitImage(testImage("second.jpg"))
	close(release)

	s := h.waitStep(t, StepChat)
	assert.Same(t, first, s.Image)
	assert.Equal(t, 1, s.Pass)
	h.analyzer.AssertNumberOfCalls(t, "AnalyzeImage", 1)
	assert.Equal(t, 1, h.mic.Calls())
	assert.Len(t, h.voice.Opens(), 1)
}

func TestSubmitImageIgnoredOutsideUpload(t *testing.T) {
	h := newHarness(t)
	h.stubSuccess()
	first := testImage("first.jpg")

	h.toChat(t, first)
	h.o.SubmitImage(testImage("second.jpg"))

	s := h.o.Snapshot()
	assert.Equal(t, StepChat, s.Step)
	assert.Same(t, first, s.Image)
	h.analyzer.AssertNumberOfCalls(t, "AnalyzeImage", 1)
}

func TestSubmitImageAfterErrorStartsNewPass(t *testing.T) {
	h := newHarness(t)
	h.analyzer.On("AnalyzeImage", mock.Anything, mock.Anything).
		Return("", &listing.ServiceError{Op: "analyze image", StatusCode: 502}).Once()
	h.stubSuccess()

	h.o.SubmitImage(testImage("blurry.jpg"))
	h.waitError(t)

	sharp := testImage("sharp.jpg")
	h.o.SubmitImage(sharp)
	s := h.waitStep(t, StepChat)
	assert.Same(t, sharp, s.Image)
	assert.Equal(t, 2, s.Pass)
	assert.NoError(t, s.Err)
}

func TestRejectThenFeedback_ReusesImage(t *testing.T) {
	h := newHarness(t)
	h.stubSuccess()
	img := testImage("camera.jpg")

	h.toReview(t, img)
	h.o.RejectListing()

	s := h.o.Snapshot()
	assert.Equal(t, StepFeedback, s.Step)
	assert.Nil(t, s.Listing)
	assert.Same(t, img, s.Image)

	h.o.SubmitFeedback("  Price seems too high ")
	s = h.o.Snapshot()
	assert.Equal(t, StepProgress, s.Step)
	assert.Equal(t, ProgressAnalyzing, s.Progress)
	assert.Empty(t, s.Transcript)
	assert.Nil(t, s.Listing)
	assert.Equal(t, "Price seems too high", s.Feedback)

	s = h.waitStep(t, StepChat)
	assert.Equal(t, 2, s.Pass)

	calls := 0
	for _, c := range h.analyzer.Calls {
		if c.Method == "AnalyzeImage" {
			assert.Same(t, img, c.Arguments.Get(1))
			calls++
		}
	}
	assert.Equal(t, 2, calls)

	opens := h.voice.Opens()
	require.Len(t, opens, 2)
	assert.Equal(t, "Price seems too high", opens[1].DynamicVariables["feedback"])
	assert.Equal(t, testAnalysis, opens[1].DynamicVariables["image_analysis_result"])

	h.o.HangUp()
	s = h.waitStep(t, StepReview)
	assert.Equal(t, vintageCamera(), s.Listing)
}

func TestFeedbackAfterErrorRetriesSameImage(t *testing.T) {
	h := newHarness(t)
	h.stubSuccess()
	img := testImage("camera.jpg")

	conv := h.toChat(t, img)
	conv.End(&listing.SessionError{Op: "read"})
	h.waitError(t)

	h.o.SubmitFeedback("")
	s := h.waitStep(t, StepChat)
	assert.Same(t, img, s.Image)
	assert.Equal(t, 2, s.Pass)
}

func TestFeedbackIgnoredWhileAnalyzing(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.analyzer.On("AnalyzeImage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-release }).
		Return(testAnalysis, nil)

	h.o.SubmitImage(testImage("camera.jpg"))
	h.o.SubmitFeedback("again")
	h.o.SubmitFeedback("again")
	close(release)

	s := h.waitStep(t, StepChat)
	assert.Equal(t, 1, s.Pass)
	assert.Empty(t, s.Feedback)
	h.analyzer.AssertNumberOfCalls(t, "AnalyzeImage", 1)
}

func TestAcceptListing_Publishes(t *testing.T) {
	h := newHarness(t)
	h.stubSuccess()
	img := testImage("camera.jpg")

	h.toReview(t, img)
	h.o.AcceptListing()
	s := h.waitStep(t, StepAccepted)

	assert.Equal(t, vintageCamera(), s.Listing)
	assert.NoError(t, s.Err)

	h.publisher.AssertNumberOfCalls(t, "Publish", 1)
	sub := h.publisher.Calls[0].Arguments.Get(1).(Submission)
	assert.Equal(t, vintageCamera(), sub.Listing)
	assert.Same(t, img, sub.Image)
	assert.Equal(t, testTranscript, sub.Transcript)
	assert.Equal(t, "mock-conversation", sub.ConversationID)
	assert.Equal(t, testAnalysis, sub.AnalysisText)
}

func TestAcceptListing_DuplicateIgnored(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.publisher.On("Publish", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-release }).
		Return(nil)
	h.stubSuccess()

	h.toReview(t, testImage("camera.jpg"))
	h.o.AcceptListing()
	h.o.AcceptListing()
	h.o.RejectListing()

	s := h.o.Snapshot()
	assert.Equal(t, StepReview, s.Step)
	assert.Equal(t, StagePublishing, s.Stage)

	close(release)
	h.waitStep(t, StepAccepted)
	h.publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func TestAcceptListing_FailureStaysInReview(t *testing.T) {
	h := newHarness(t)
	pubErr := errors.New("bucket unavailable")
	h.publisher.On("Publish", mock.Anything, mock.Anything).Return(pubErr).Once()
	h.stubSuccess()

	h.toReview(t, testImage("camera.jpg"))
	h.o.AcceptListing()
	s := h.waitFor(t, "publish failure", func(s Session) bool { return s.Err != nil })

	assert.Equal(t, StepReview, s.Step)
	assert.Equal(t, StageNone, s.Stage)
	assert.ErrorIs(t, s.Err, pubErr)
	assert.Equal(t, vintageCamera(), s.Listing)

	// The user may try again
	h.o.AcceptListing()
	s = h.waitStep(t, StepAccepted)
	assert.NoError(t, s.Err)
	h.publisher.AssertNumberOfCalls(t, "Publish", 2)
}

func TestCommandsIgnoredInWrongState(t *testing.T) {
	h := newHarness(t)

	h.o.HangUp()
	h.o.AcceptListing()
	h.o.RejectListing()
	h.o.SubmitFeedback("nope")
	h.o.SubmitImage(nil)

	assert.Equal(t, initialSession(), h.o.Snapshot())
	assert.Zero(t, h.mic.Calls())
}

func TestSubscribe_ReceivesTransitions(t *testing.T) {
	h := newHarness(t)
	h.stubSuccess()
	updates := h.o.Subscribe()

	h.toReview(t, testImage("camera.jpg"))

	seen := map[Step]bool{}
	timeout := time.After(waitTimeout)
	for !seen[StepReview] {
		select {
		case s := <-updates:
			seen[s.Step] = true
		case <-timeout:
			t.Fatalf("review snapshot not delivered, saw %v", seen)
		}
	}
	assert.True(t, seen[StepChat] || seen[StepProgress])

	h.o.Close()
	for range updates {
	}
	_, ok := <-updates
	assert.False(t, ok)
}

func TestClose_ReleasesResources(t *testing.T) {
	h := newHarness(t)
	h.stubSuccess()

	conv := h.toChat(t, testImage("camera.jpg"))
	h.o.Close()

	assert.Equal(t, 1, conv.CloseCalls())
	streams := h.mic.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, 1, streams[0].Closed())

	// Calls after Close return without blocking
	h.o.HangUp()
	h.o.Reupload()
	h.o.Close()
}

func TestSession_CloneIsIndependent(t *testing.T) {
	s := Session{Step: StepReview, Listing: vintageCamera()}
	c := s.Clone()
	c.Listing.Price = 1

	assert.Equal(t, 49.99, s.Listing.Price)
	assert.Equal(t, "progress/error", Session{Step: StepProgress, Progress: ProgressError}.String())
	assert.Equal(t, "review", s.String())
}
