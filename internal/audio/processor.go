package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/himanishpuri/AcousticLab/pkg/utils"
)

type ConvertWAVConfig struct {
	SampleRate int // 0 keeps the source rate
	Channels   int // 0 keeps the source layout
	Timeout    time.Duration
}

// ConvertToWAV converts any ffmpeg-readable file to 16-bit PCM WAV in
// outputDir, named after the input file.
func ConvertToWAV(
	ctx context.Context,
	inputPath string,
	outputDir string,
	cfg ConvertWAVConfig,
) (string, error) {

	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return "", err
	}

	baseName := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(outputDir, baseName+".wav")

	tmpPath := outputPath + ".tmp.wav"
	defer utils.DeleteFile(tmpPath)

	args := []string{"-y", "-v", "quiet", "-i", inputPath}
	if cfg.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(cfg.Channels))
	}
	if cfg.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(cfg.SampleRate))
	}
	args = append(args, "-c:a", "pcm_s16le", tmpPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ffmpeg failed: %v (%s)", err, out)
	}

	if err := utils.MoveFile(tmpPath, outputPath); err != nil {
		return "", err
	}

	return outputPath, nil
}

// decodeWithFFmpeg converts into a scratch directory and decodes the result.
func decodeWithFFmpeg(ctx context.Context, path string) (*Buffer, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("unsupported format and ffmpeg not available: %w", err)
	}

	dir, err := os.MkdirTemp("", "acousticlab-convert-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	wavPath, err := ConvertToWAV(ctx, path, dir, ConvertWAVConfig{})
	if err != nil {
		return nil, err
	}

	f, err := os.Open(wavPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return decodeWAV(f)
}
