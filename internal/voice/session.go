package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/listing-agent/internal/capture"
	"github.com/raine/listing-agent/internal/listing"
)

// Status is the connection status of a voice session.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Utterance is one finalized, speaker-tagged line of the conversation.
type Utterance struct {
	Speaker Speaker
	Text    string
}

// Options configures a voice session.
type Options struct {
	// DynamicVariables are handed to the agent on connect, e.g. the image
	// analysis result.
	DynamicVariables map[string]string
	// Microphone is the owned capture stream. The session reads it but
	// never closes it.
	Microphone capture.Stream
	// Output receives the agent's PCM audio. Optional.
	Output io.Writer
	// OnUtterance and OnStatus are invoked from session goroutines.
	OnUtterance func(Utterance)
	OnStatus    func(Status)
}

// Conversation is an open voice session.
type Conversation interface {
	ID() string
	Status() Status
	// Done is closed once the session reaches StatusDisconnected.
	Done() <-chan struct{}
	// Err is nil after a graceful close, valid once Done is closed.
	Err() error
	// Close requests graceful termination. Idempotent.
	Close() error
	Transcript() []Utterance
}

// Opener opens voice sessions.
type Opener interface {
	Open(ctx context.Context, opts Options) (Conversation, error)
}

const (
	micChunkSize = 3200 // 100ms of 16kHz 16-bit mono
	writeTimeout = 10 * time.Second
	closeGrace   = 2 * time.Second
)

// Session is a live conversation over a websocket.
type Session struct {
	id   string
	conn *websocket.Conn
	opts Options

	writeMu sync.Mutex
	mu      sync.Mutex
	status  Status
	utts    []Utterance
	err     error

	closing   atomic.Bool
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ Conversation = (*Session)(nil)

func newSession(id string, conn *websocket.Conn, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:     id,
		conn:   conn,
		opts:   opts,
		status: StatusConnecting,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Transcript returns a copy of the utterances received so far.
func (s *Session) Transcript() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Utterance, len(s.utts))
	copy(out, s.utts)
	return out
}

// Close sends a close frame and gives the agent a short grace period to
// acknowledge before the connection is torn down.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		log.Info().Str("conversationID", s.id).Msg("closing voice session")

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)); err != nil {
			log.Debug().Err(err).Msg("failed to write close frame")
			s.cancel()
			return
		}

		go func() {
			select {
			case <-s.done:
			case <-time.After(closeGrace):
				s.cancel()
			}
		}()
	})
	return nil
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	changed := s.status != status
	s.status = status
	s.mu.Unlock()

	if changed && s.opts.OnStatus != nil {
		s.opts.OnStatus(status)
	}
}

func (s *Session) addUtterance(u Utterance) {
	u.Text = strings.TrimSpace(u.Text)
	if u.Text == "" {
		return
	}
	s.mu.Lock()
	s.utts = append(s.utts, u)
	s.mu.Unlock()

	if s.opts.OnUtterance != nil {
		s.opts.OnUtterance(u)
	}
}

func (s *Session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// run drives the session until the agent hangs up, Close is called, or the
// transport or microphone fails. It closes done exactly once.
func (s *Session) run() {
	g, ctx := errgroup.WithContext(s.ctx)

	chunks := make(chan []byte, 16)
	micErr := make(chan error, 1)
	go s.pumpMicrophone(ctx, chunks, micErr)

	g.Go(func() error {
		defer s.cancel()
		return s.readLoop()
	})
	g.Go(func() error {
		defer s.cancel()
		return s.sendLoop(ctx, chunks, micErr)
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.conn.Close()
	})

	err := g.Wait()
	if s.closing.Load() {
		err = nil
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("conversationID", s.id).Msg("voice session ended abnormally")
	} else {
		log.Info().Str("conversationID", s.id).Int("utterances", len(s.Transcript())).Msg("voice session ended")
	}

	s.setStatus(StatusDisconnected)
	close(s.done)
}

// pumpMicrophone copies PCM from the microphone into chunks. It is not part
// of the errgroup: a blocked Read only returns once the owner closes the
// stream, which must not hold up the session teardown.
func (s *Session) pumpMicrophone(ctx context.Context, chunks chan<- []byte, micErr chan<- error) {
	buf := make([]byte, micChunkSize)
	for {
		n, err := s.opts.Microphone.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			micErr <- err
			return
		}
	}
}

func (s *Session) sendLoop(ctx context.Context, chunks <-chan []byte, micErr <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-micErr:
			if ctx.Err() != nil || s.closing.Load() {
				return nil
			}
			return &listing.CaptureError{Op: "microphone lost", Err: err}
		case chunk := <-chunks:
			msg := userAudioChunk{UserAudioChunk: base64.StdEncoding.EncodeToString(chunk)}
			if err := s.writeJSON(msg); err != nil {
				if ctx.Err() != nil || s.closing.Load() {
					return nil
				}
				return &listing.SessionError{Op: "send audio", Err: err}
			}
		}
	}
}

func (s *Session) readLoop() error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closing.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if errors.Is(s.ctx.Err(), context.Canceled) {
				// Torn down because the send side failed; that error wins
				return nil
			}
			return &listing.SessionError{Op: "read", Err: err}
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("ignoring malformed agent message")
			continue
		}
		if err := s.handleMessage(&msg); err != nil {
			return err
		}
	}
}

func (s *Session) handleMessage(msg *serverMessage) error {
	switch msg.Type {
	case msgPing:
		if msg.PingEvent == nil {
			return nil
		}
		if err := s.writeJSON(pong{Type: msgPong, EventID: msg.PingEvent.EventID}); err != nil && !s.closing.Load() {
			return &listing.SessionError{Op: "pong", Err: err}
		}
	case msgAudio:
		if msg.AudioEvent == nil || s.opts.Output == nil {
			return nil
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.AudioEvent.AudioBase64)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring undecodable audio chunk")
			return nil
		}
		if _, err := s.opts.Output.Write(pcm); err != nil {
			log.Debug().Err(err).Msg("audio playback write failed")
		}
	case msgUserTranscript:
		if msg.UserTranscriptionEvent != nil {
			s.addUtterance(Utterance{Speaker: SpeakerUser, Text: msg.UserTranscriptionEvent.UserTranscript})
		}
	case msgAgentResponse:
		if msg.AgentResponseEvent != nil {
			s.addUtterance(Utterance{Speaker: SpeakerAgent, Text: msg.AgentResponseEvent.AgentResponse})
		}
	case msgInterruption:
		log.Debug().Str("conversationID", s.id).Msg("agent interrupted")
	}
	return nil
}

// FormatTranscript renders utterances as "ROLE: text" lines, the same shape
// the transcript endpoint returns.
func FormatTranscript(utts []Utterance) string {
	var sb strings.Builder
	for i, u := range utts {
		if i > 0 {
			sb.WriteString("\n")
		}
		role := "USER"
		if u.Speaker == SpeakerAgent {
			role = "AI"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(u.Text)
	}
	return sb.String()
}
