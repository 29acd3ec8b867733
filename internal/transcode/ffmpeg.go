package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var commandContext = exec.CommandContext

// Option configures the CLI client.
type Option func(*FFmpeg)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(f *FFmpeg) {
		if binary != "" {
			f.binary = binary
		}
	}
}

// WithFPS overrides the output frame rate.
func WithFPS(fps int) Option {
	return func(f *FFmpeg) {
		if fps > 0 {
			f.fps = fps
		}
	}
}

// FFmpeg shells out to the ffmpeg binary for video-to-gif conversion.
type FFmpeg struct {
	binary string
	fps    int
}

func NewFFmpeg(opts ...Option) *FFmpeg {
	f := &FFmpeg{binary: "ffmpeg", fps: 15}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Convert runs a single-pass gif encode with an inline palette filter.
func (f *FFmpeg) Convert(ctx context.Context, src, dst string) error {
	if strings.TrimSpace(src) == "" {
		return errors.New("source path required")
	}
	if strings.TrimSpace(dst) == "" {
		return errors.New("destination path required")
	}
	filter := fmt.Sprintf("fps=%d,split[a][b];[a]palettegen[p];[b][p]paletteuse", f.fps)
	args := []string{"-y", "-i", src, "-filter_complex", filter, dst}
	cmd := commandContext(ctx, f.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 300 {
			detail = detail[len(detail)-300:]
		}
		return fmt.Errorf("ffmpeg %s -> %s: %w: %s", src, dst, err, detail)
	}
	return nil
}
