package workflow

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/raine/listing-agent/internal/capture"
	"github.com/raine/listing-agent/internal/journal"
	"github.com/raine/listing-agent/internal/listing"
	"github.com/raine/listing-agent/internal/voice"
)

// Analyzer turns an image into a text description of the item.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, img *capture.Image) (string, error)
}

// TranscriptFetcher returns the authoritative transcript of a finished
// conversation.
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, conversationID string) (string, error)
}

// Synthesizer derives a listing from the conversation and the image
// analysis.
type Synthesizer interface {
	SynthesizeListing(ctx context.Context, transcript, analysisText string) (*listing.Listing, error)
}

// Submission is what gets handed over when the user accepts a listing.
type Submission struct {
	Listing        *listing.Listing
	Image          *capture.Image
	AnalysisText   string
	ConversationID string
	Transcript     string
}

// Publisher persists an accepted listing.
type Publisher interface {
	Publish(ctx context.Context, sub Submission) error
}

// Deps are the collaborators the orchestrator drives. Player and Journal
// are optional.
type Deps struct {
	Analyzer    Analyzer
	Microphone  capture.Microphone
	Voice       voice.Opener
	Transcripts TranscriptFetcher
	Synthesizer Synthesizer
	Publisher   Publisher
	Player      io.Writer
	Journal     *journal.Journal
}

const (
	inboxSize      = 64
	subscriberSize = 16
)

// Orchestrator sequences one listing session: image analysis, voice
// conversation, transcript retrieval, pricing, review and acceptance.
//
// Threading model:
//   - A single worker goroutine owns the Session and every resource of the
//     current pass (pass context, microphone stream, voice conversation).
//   - Public methods enqueue a message and wait until the worker processed
//     it, so state observed right after a call reflects that call.
//   - Blocking calls run in task goroutines that never touch the Session;
//     they post their result back tagged with the generation that started
//     them. Results of an older generation are dropped and whatever
//     resource they carry is released.
type Orchestrator struct {
	deps Deps

	inbox   chan message
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped chan struct{}

	closeOnce sync.Once

	// Worker-owned
	session    Session
	gen        uint64
	passCtx    context.Context
	passCancel context.CancelFunc
	mic        capture.Stream
	conv       voice.Conversation

	mu       sync.Mutex
	snapshot Session
	subs     []chan Session
}

// New creates an orchestrator in the upload step and starts its worker.
func New(deps Deps) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:     deps,
		inbox:    make(chan message, inboxSize),
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
		session:  initialSession(),
		snapshot: initialSession(),
	}
	o.wg.Add(1)
	go o.runWorker()
	return o
}

// SubmitImage starts a pass for img. Ignored unless the session is waiting
// for an image or the previous pass failed.
func (o *Orchestrator) SubmitImage(img *capture.Image) {
	o.sendSync(message{Type: msgSubmitImage, Image: img})
}

// HangUp asks the agent conversation to end. Pricing starts once it has
// disconnected.
func (o *Orchestrator) HangUp() {
	o.sendSync(message{Type: msgHangUp})
}

// AcceptListing publishes the listing under review.
func (o *Orchestrator) AcceptListing() {
	o.sendSync(message{Type: msgAccept})
}

// RejectListing moves from review to feedback.
func (o *Orchestrator) RejectListing() {
	o.sendSync(message{Type: msgReject})
}

// SubmitFeedback discards the rejected result and runs a new pass with the
// same image.
func (o *Orchestrator) SubmitFeedback(text string) {
	o.sendSync(message{Type: msgFeedback, Text: text})
}

// Reupload abandons everything in flight and returns to the upload step.
func (o *Orchestrator) Reupload() {
	o.sendSync(message{Type: msgReupload})
}

// Snapshot returns a copy of the current session.
func (o *Orchestrator) Snapshot() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot.Clone()
}

// Subscribe returns a channel that receives a snapshot after every state
// change. Slow subscribers miss intermediate snapshots but always get the
// latest one. The channel is closed by Close.
func (o *Orchestrator) Subscribe() <-chan Session {
	ch := make(chan Session, subscriberSize)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx.Err() != nil {
		close(ch)
		return ch
	}
	o.subs = append(o.subs, ch)
	return ch
}

// Close releases the microphone and the conversation, cancels running
// tasks and stops the worker.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.sendSync(message{Type: msgShutdown})

		o.mu.Lock()
		o.cancel()
		o.mu.Unlock()
		o.wg.Wait()
		o.drain()

		o.mu.Lock()
		for _, ch := range o.subs {
			close(ch)
		}
		o.subs = nil
		o.mu.Unlock()
	})
}

// --- Worker ---

func (o *Orchestrator) runWorker() {
	defer o.wg.Done()
	defer close(o.stopped)

	for {
		select {
		case <-o.ctx.Done():
			o.drain()
			return
		case msg := <-o.inbox:
			o.processMessage(msg)
		}
	}
}

// drain discards queued messages so nothing is left holding a resource or
// a waiter.
func (o *Orchestrator) drain() {
	for {
		select {
		case msg := <-o.inbox:
			msg.release()
			if msg.Done != nil {
				close(msg.Done)
			}
		default:
			return
		}
	}
}

func (o *Orchestrator) processMessage(msg message) {
	defer func() {
		// Recover from any panics to keep the worker running
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("type", string(msg.Type)).
				Msg("recovered from panic in orchestrator worker")
		}
		if msg.Done != nil {
			close(msg.Done)
		}
	}()

	o.handle(msg)
}

// post queues a message without waiting for it to be processed.
func (o *Orchestrator) post(msg message) {
	if o.ctx.Err() != nil {
		msg.release()
		if msg.Done != nil {
			close(msg.Done)
		}
		return
	}
	select {
	case o.inbox <- msg:
	case <-o.ctx.Done():
		msg.release()
		if msg.Done != nil {
			close(msg.Done)
		}
	}
}

func (o *Orchestrator) sendSync(msg message) {
	msg.Done = make(chan struct{})
	o.post(msg)
	select {
	case <-msg.Done:
	case <-o.stopped:
	}
}

// commit publishes the worker's session to Snapshot and subscribers.
func (o *Orchestrator) commit() {
	snap := o.session.Clone()

	o.mu.Lock()
	o.snapshot = snap
	subs := make([]chan Session, len(o.subs))
	copy(subs, o.subs)
	o.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap.Clone():
		default:
			// Full: drop the oldest so the latest state always gets through
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap.Clone():
			default:
			}
		}
	}

	log.Debug().
		Str("state", snap.String()).
		Str("stage", string(snap.Stage)).
		Int("pass", snap.Pass).
		Msg("session state")
	o.deps.Journal.State("%s stage=%q pass=%d", snap, snap.Stage, snap.Pass)
}
