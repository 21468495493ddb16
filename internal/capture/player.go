package capture

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultPlayerCommand plays 16kHz mono signed 16-bit PCM from stdin.
const DefaultPlayerCommand = "aplay -q -f S16_LE -r 16000 -c 1 -t raw"

// CommandPlayer plays agent audio by piping PCM into an external player.
// The player process is started on the first write.
type CommandPlayer struct {
	command []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
}

// NewCommandPlayer creates a player. An empty command uses the default.
func NewCommandPlayer(command string) *CommandPlayer {
	if strings.TrimSpace(command) == "" {
		command = DefaultPlayerCommand
	}
	return &CommandPlayer{command: strings.Fields(command)}
}

// Write sends PCM to the player, starting it if needed.
func (p *CommandPlayer) Write(pcm []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if p.cmd == nil {
		if err := p.start(); err != nil {
			return 0, err
		}
	}
	return p.stdin.Write(pcm)
}

func (p *CommandPlayer) start() error {
	cmd := exec.Command(p.command[0], p.command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open player stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start player %s: %w", p.command[0], err)
	}
	p.cmd = cmd
	p.stdin = stdin
	log.Debug().Str("command", strings.Join(p.command, " ")).Msg("audio player started")
	return nil
}

// Close stops playback. Safe to call more than once.
func (p *CommandPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.cmd == nil {
		return nil
	}
	_ = p.stdin.Close()
	_ = p.cmd.Process.Kill()
	_ = p.cmd.Wait()
	return nil
}
