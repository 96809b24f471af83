package frames

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FFmpegDecoder shells out to ffmpeg/ffprobe to extract JPEG frames from a
// clip. Decoding stays out of process on purpose: the clip format is owned
// by the recording side, and ffmpeg already handles every container it
// produces.
type FFmpegDecoder struct {
	FFmpegPath  string
	FFprobePath string
}

func NewFFmpegDecoder() *FFmpegDecoder {
	return &FFmpegDecoder{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
}

// Decode extracts up to max evenly spread frames. ffmpeg's fps filter does
// the spreading: fps = max/duration yields ~max frames across the clip.
func (d *FFmpegDecoder) Decode(ctx context.Context, clipPath string, max int) ([]Frame, error) {
	duration, err := d.probeDuration(ctx, clipPath)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, ErrNoFrames
	}

	outDir, err := os.MkdirTemp("", "osprey_frames_")
	if err != nil {
		return nil, fmt.Errorf("frames temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	fps := float64(max) / duration.Seconds()
	pattern := filepath.Join(outDir, "frame_%04d.jpg")

	cmd := exec.CommandContext(ctx, d.FFmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", clipPath,
		"-vf", fmt.Sprintf("fps=%f", fps),
		"-frames:v", strconv.Itoa(max),
		"-q:v", "3",
		pattern,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		log.Printf("[Decoder] ffmpeg failed for %s: %v (%s)", clipPath, err, strings.TrimSpace(string(out)))
		return nil, fmt.Errorf("ffmpeg extract: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".jpg") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // frame_0001.jpg ... keeps temporal order

	interval := duration / time.Duration(len(names)+1)
	fs := make([]Frame, 0, len(names))
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			return nil, err
		}
		fs = append(fs, Frame{
			Index:     i,
			Timestamp: time.Duration(i) * interval,
			JPEG:      data,
		})
	}
	return fs, nil
}

func (d *FFmpegDecoder) probeDuration(ctx context.Context, clipPath string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, d.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		clipPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", clipPath, err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration parse: %w", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
