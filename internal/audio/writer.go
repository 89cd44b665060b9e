package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/himanishpuri/AcousticLab/pkg/utils"
)

const (
	wavBitDepth  = 16
	wavPCMFormat = 1
	wavHeaderLen = 44
)

// WriteWAV writes buf as interleaved 16-bit PCM. Samples are clipped to [-1, 1].
// The file is checked after writing and an empty artifact is an error.
func WriteWAV(path string, buf *Buffer) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := utils.MakeDir(dir); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	channels := buf.NumChannels()
	frames := buf.Len()
	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			data[i*channels+c] = toPCM16(buf.Channels[c][i])
		}
	}

	enc := wav.NewEncoder(f, buf.SampleRate, wavBitDepth, channels, wavPCMFormat)
	pcm := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  buf.SampleRate,
		},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(pcm); err != nil {
		f.Close()
		return fmt.Errorf("encoding WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalizing WAV: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}

	size, err := utils.FileSize(path)
	if err != nil {
		return err
	}
	if size <= wavHeaderLen {
		return errors.New("written WAV contains no audio data")
	}
	return nil
}

func toPCM16(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	return int(math.Round(v * 32767))
}
