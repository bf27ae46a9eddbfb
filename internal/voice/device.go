package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// CommandDevice records by running an external capture program that writes
// encoded audio to stdout, such as ffmpeg or arecord
type CommandDevice struct {
	Path     string
	Args     []string
	MimeType string
}

// NewFFmpegDevice captures the default ALSA input as webm/opus
func NewFFmpegDevice() *CommandDevice {
	return &CommandDevice{
		Path: "ffmpeg",
		Args: []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "alsa", "-i", "default",
			"-c:a", "libopus", "-f", "webm", "pipe:1",
		},
		MimeType: "audio/webm",
	}
}

// Open checks the capture program is available
func (d *CommandDevice) Open(ctx context.Context) (Recorder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := exec.LookPath(d.Path)
	if err != nil {
		return nil, fmt.Errorf("%s not found: %w", d.Path, err)
	}
	return &commandRecorder{path: path, args: d.Args, mimeType: d.MimeType}, nil
}

type commandRecorder struct {
	path     string
	args     []string
	mimeType string

	mu        sync.Mutex
	cmd       *exec.Cmd
	buf       bytes.Buffer
	copied    chan struct{}
	timeslice time.Duration
	closed    bool
}

func (r *commandRecorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return ErrAlreadyRecording
	}

	cmd := exec.Command(r.path, r.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", r.path, err)
	}

	r.cmd = cmd
	r.timeslice = timeslice
	r.copied = make(chan struct{})
	go func() {
		defer close(r.copied)
		chunk := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(chunk)
			if n > 0 {
				r.mu.Lock()
				r.buf.Write(chunk[:n])
				r.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return nil
}

// Stop interrupts the program so it finalizes its container, then waits
// until stdout is drained. A program that does not exit within a few
// timeslices is killed.
func (r *commandRecorder) Stop(ctx context.Context) (Blob, error) {
	r.mu.Lock()
	cmd, copied, timeslice := r.cmd, r.copied, r.timeslice
	r.mu.Unlock()
	if cmd == nil {
		return Blob{}, ErrNotRecording
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = cmd.Process.Kill()
	}

	flush := time.NewTimer(4 * timeslice)
	defer flush.Stop()
	select {
	case <-copied:
	case <-flush.C:
		_ = cmd.Process.Kill()
		<-copied
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-copied
		return Blob{}, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.buf.Len() == 0 {
		return Blob{}, io.ErrUnexpectedEOF
	}
	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	return Blob{Data: data, MimeType: r.mimeType}, nil
}

func (r *commandRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.cmd == nil {
		r.closed = true
		return nil
	}
	r.closed = true
	if r.cmd.ProcessState == nil {
		_ = r.cmd.Process.Kill()
	}
	// Wait reaps the process; an exit caused by the interrupt is expected
	_ = r.cmd.Wait()
	return nil
}

func (r *commandRecorder) ActiveTracks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.closed {
		return 0
	}
	return 1
}
