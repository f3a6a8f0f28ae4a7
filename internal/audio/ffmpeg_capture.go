// Package audio acquires raw PCM from the microphone and the system loopback
// (monitor) device by streaming ffmpeg's stdout.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/domain"
	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/ports"
)

// FFmpegCapture opens capture sessions for one device through ffmpeg.
type FFmpegCapture struct {
	command string
	source  domain.Source
}

// NewFFmpegCapture builds a capture for the given source identity. The source
// decides error attribution, not device selection; the device comes from the
// per-session config.
func NewFFmpegCapture(command string, source domain.Source) *FFmpegCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegCapture{command: command, source: source}
}

func (c *FFmpegCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.SampleFormat == "" {
		cfg.SampleFormat = "f32le"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", cfg.SampleFormat,
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, domain.WrapError(domain.ErrDeviceUnavailable, c.source,
			fmt.Errorf("start %s: %w", c.command, err))
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// An immediate exit means the device could not be opened; classify the
	// failure from ffmpeg's own diagnostics.
	select {
	case err := <-waitErr:
		detail := strings.TrimSpace(stderr.String())
		if err == nil {
			err = errors.New("ffmpeg exited before capture started")
		}
		return nil, classifyCaptureError(c.source, err, detail)
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

// classifyCaptureError maps ffmpeg device-open failures onto the error
// taxonomy so callers can distinguish a denied permission from a missing or
// busy device.
func classifyCaptureError(source domain.Source, err error, detail string) error {
	lowered := strings.ToLower(detail)
	wrapped := err
	if detail != "" {
		wrapped = fmt.Errorf("%w: %s", err, detail)
	}

	if strings.Contains(lowered, "permission denied") || strings.Contains(lowered, "access denied") {
		return domain.WrapError(domain.ErrPermission, source, wrapped)
	}
	// Missing device, busy device and everything else ffmpeg reports at
	// startup all mean the source cannot be captured right now.
	return domain.WrapError(domain.ErrDeviceUnavailable, source, wrapped)
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	pauseMu sync.Mutex
	paused  bool

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

// Pause suspends the capture process without releasing the device, the cheap
// path for a user-paused meeting. Resume continues where it left off.
func (s *ffmpegSession) Pause() error {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.paused || s.process == nil {
		return nil
	}
	if err := s.process.Signal(syscall.SIGSTOP); err != nil {
		return fmt.Errorf("suspend capture: %w", err)
	}
	s.paused = true
	return nil
}

func (s *ffmpegSession) Resume() error {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if !s.paused || s.process == nil {
		return nil
	}
	if err := s.process.Signal(syscall.SIGCONT); err != nil {
		return fmt.Errorf("resume capture: %w", err)
	}
	s.paused = false
	return nil
}

// Stop releases the device and the OS capture indicator. Idempotent.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		s.pauseMu.Lock()
		if s.paused && s.process != nil {
			// A stopped process cannot handle the interrupt.
			_ = s.process.Signal(syscall.SIGCONT)
			s.paused = false
		}
		s.pauseMu.Unlock()

		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
