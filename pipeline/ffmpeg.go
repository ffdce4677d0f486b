package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
)

// Encoder assembles and inspects video files.
type Encoder interface {
	// Stitch composes the ordered frames and optional audio track into a
	// video at outPath.
	Stitch(ctx context.Context, framePaths []string, audioPath, outPath string, fps int, resolution string) error

	// ExtractFrames samples up to maxFrames stills from the video into
	// outDir and returns their paths in order.
	ExtractFrames(ctx context.Context, videoPath, outDir string, maxFrames int) ([]string, error)
}

// FFmpeg shells out to the ffmpeg binary.
type FFmpeg struct {
	// Bin overrides the binary name, default "ffmpeg".
	Bin string
}

var _ Encoder = (*FFmpeg)(nil)

func (f *FFmpeg) bin() string {
	if f.Bin != "" {
		return f.Bin
	}
	return "ffmpeg"
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, f.bin(), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pipeline: ffmpeg %v: %w: %s", args[:min(len(args), 4)], err, tail(out))
	}
	return nil
}

// tail keeps error output readable in logs.
func tail(out []byte) string {
	const keep = 512
	if len(out) <= keep {
		return string(out)
	}
	return "..." + string(out[len(out)-keep:])
}

// Stitch implements Encoder. Frames must share one directory and a
// zero-padded numeric naming scheme (frame-000.png, frame-001.png, ...).
func (f *FFmpeg) Stitch(ctx context.Context, framePaths []string, audioPath, outPath string, fps int, resolution string) error {
	if len(framePaths) == 0 {
		return fmt.Errorf("pipeline: ffmpeg: no frames to stitch")
	}
	sorted := append([]string(nil), framePaths...)
	sort.Strings(sorted)

	pattern := filepath.Join(filepath.Dir(sorted[0]), "frame-%03d.png")
	args := []string{
		"-y",
		"-framerate", strconv.Itoa(fps),
		"-i", pattern,
	}
	if audioPath != "" {
		args = append(args, "-i", audioPath, "-shortest")
	}
	args = append(args,
		"-s", resolution,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outPath,
	)
	return f.run(ctx, args...)
}

// ExtractFrames implements Encoder.
func (f *FFmpeg) ExtractFrames(ctx context.Context, videoPath, outDir string, maxFrames int) ([]string, error) {
	pattern := filepath.Join(outDir, "still-%03d.png")
	err := f.run(ctx,
		"-y",
		"-i", videoPath,
		"-vf", "select='not(mod(n\\,10))'",
		"-frames:v", strconv.Itoa(maxFrames),
		"-vsync", "vfr",
		pattern,
	)
	if err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(outDir, "still-*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	if len(matches) > maxFrames {
		matches = matches[:maxFrames]
	}
	return matches, nil
}
