package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/raine/listing-agent/internal/listing"
)

// DefaultMicCommand records 16kHz mono signed 16-bit PCM to stdout, the
// format the voice agent expects by default.
const DefaultMicCommand = "arecord -q -f S16_LE -r 16000 -c 1 -t raw"

// Stream is an acquired microphone stream. Close is idempotent and must be
// called on every exit path.
type Stream interface {
	io.Reader
	Close() error
}

// Microphone acquires microphone streams.
type Microphone interface {
	Acquire(ctx context.Context) (Stream, error)
}

// CommandMicrophone captures audio by running an external recorder that
// writes raw PCM to stdout.
type CommandMicrophone struct {
	command []string
}

// NewCommandMicrophone creates a microphone from a command line such as
// DefaultMicCommand. An empty command uses the default.
func NewCommandMicrophone(command string) *CommandMicrophone {
	if strings.TrimSpace(command) == "" {
		command = DefaultMicCommand
	}
	return &CommandMicrophone{command: strings.Fields(command)}
}

// Acquire starts the recorder. Failures are reported as CaptureError.
func (m *CommandMicrophone) Acquire(ctx context.Context) (Stream, error) {
	if len(m.command) == 0 {
		return nil, &listing.CaptureError{Op: "microphone", Err: errors.New("no capture command configured")}
	}

	// Not bound to ctx: the stream outlives the acquire call and is
	// released through Close
	cmd := exec.Command(m.command[0], m.command[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &listing.CaptureError{Op: "microphone", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &listing.CaptureError{Op: "microphone", Err: fmt.Errorf("failed to start %s: %w", m.command[0], err)}
	}

	log.Info().Str("command", strings.Join(m.command, " ")).Int("pid", cmd.Process.Pid).Msg("microphone acquired")

	return &commandStream{cmd: cmd, stdout: stdout}, nil
}

type commandStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	once   sync.Once
}

func (s *commandStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *commandStream) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		// Wait closes stdout; the kill makes its exit error expected
		_ = s.cmd.Wait()
		log.Info().Msg("microphone released")
	})
	return nil
}
