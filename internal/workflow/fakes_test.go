package workflow

import (
	"context"
	"io"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/raine/listing-agent/internal/capture"
	"github.com/raine/listing-agent/internal/listing"
)

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) AnalyzeImage(ctx context.Context, img *capture.Image) (string, error) {
	args := m.Called(ctx, img)
	return args.String(0), args.Error(1)
}

type mockTranscripts struct {
	mock.Mock
}

func (m *mockTranscripts) FetchTranscript(ctx context.Context, conversationID string) (string, error) {
	args := m.Called(ctx, conversationID)
	return args.String(0), args.Error(1)
}

type mockSynthesizer struct {
	mock.Mock
}

func (m *mockSynthesizer) SynthesizeListing(ctx context.Context, transcript, analysisText string) (*listing.Listing, error) {
	args := m.Called(ctx, transcript, analysisText)
	l, _ := args.Get(0).(*listing.Listing)
	return l, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, sub Submission) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

// fakeStream is a microphone stream that only records Close calls.
type fakeStream struct {
	mu     sync.Mutex
	closed int
}

func (s *fakeStream) Read(p []byte) (int, error) { return 0, io.EOF }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeStream) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeMicrophone hands out fakeStreams. When block is set, Acquire waits
// for it to be closed before returning.
type fakeMicrophone struct {
	mu      sync.Mutex
	err     error
	block   chan struct{}
	streams []*fakeStream
	calls   int
}

func (m *fakeMicrophone) Acquire(ctx context.Context) (capture.Stream, error) {
	m.mu.Lock()
	m.calls++
	block, err := m.block, m.err
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}

	s := &fakeStream{}
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

func (m *fakeMicrophone) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *fakeMicrophone) Streams() []*fakeStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*fakeStream, len(m.streams))
	copy(out, m.streams)
	return out
}
