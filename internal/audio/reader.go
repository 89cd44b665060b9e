package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatWAV
	formatFLAC
	formatMP3
)

func (f fileFormat) String() string {
	switch f {
	case formatWAV:
		return "wav"
	case formatFLAC:
		return "flac"
	case formatMP3:
		return "mp3"
	default:
		return "unknown"
	}
}

// sniffFormat inspects the leading magic bytes and rewinds the reader.
func sniffFormat(r io.ReadSeeker) (fileFormat, error) {
	var head [12]byte
	n, err := io.ReadFull(r, head[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return formatUnknown, fmt.Errorf("reading header: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return formatUnknown, fmt.Errorf("rewinding: %w", err)
	}
	if n == 0 {
		return formatUnknown, errors.New("empty file")
	}

	h := head[:n]
	switch {
	case n >= 12 && bytes.Equal(h[0:4], []byte("RIFF")) && bytes.Equal(h[8:12], []byte("WAVE")):
		return formatWAV, nil
	case n >= 4 && bytes.Equal(h[0:4], []byte("fLaC")):
		return formatFLAC, nil
	case n >= 3 && bytes.Equal(h[0:3], []byte("ID3")):
		return formatMP3, nil
	case n >= 2 && h[0] == 0xFF && h[1]&0xE0 == 0xE0:
		return formatMP3, nil
	}
	return formatUnknown, nil
}

// Load decodes the file at path into a Buffer. A targetRate of zero keeps the
// file's native rate; any other value resamples to it. WAV, FLAC and MP3 are
// decoded in-process, everything else is converted with ffmpeg first.
func Load(ctx context.Context, path string, targetRate int) (*Buffer, error) {
	if targetRate < 0 {
		return nil, fmt.Errorf("%w: invalid target rate %d", ErrDecode, targetRate)
	}

	buf, err := decodeFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	buf.Source = path

	if targetRate > 0 && targetRate != buf.SampleRate {
		resampled, err := Resample(buf, targetRate)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
		}
		return resampled, nil
	}
	return buf, nil
}

func decodeFile(ctx context.Context, path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format, err := sniffFormat(f)
	if err != nil {
		return nil, err
	}

	var buf *Buffer
	switch format {
	case formatWAV:
		buf, err = decodeWAV(f)
	case formatFLAC:
		buf, err = decodeFLAC(f)
	case formatMP3:
		buf, err = decodeMP3(f)
	default:
		return decodeWithFFmpeg(ctx, path)
	}
	if err != nil {
		// Non-PCM WAV encodings and odd FLAC/MP3 variants still have a chance through ffmpeg.
		if fb, fbErr := decodeWithFFmpeg(ctx, path); fbErr == nil {
			return fb, nil
		}
		return nil, fmt.Errorf("decoding %s: %w", format, err)
	}
	return buf, nil
}

func decodeWAV(r io.ReadSeeker) (*Buffer, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading PCM data: %w", err)
	}

	channels := int(d.NumChans)
	if channels == 0 {
		return nil, errors.New("WAV header reports zero channels")
	}
	return intBufferToBuffer(pcm, channels, int(d.SampleRate), int(d.BitDepth))
}

func intBufferToBuffer(pcm *goaudio.IntBuffer, channels, sampleRate, bitDepth int) (*Buffer, error) {
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}

	scale := 1.0 / float64(int64(1)<<(uint(bitDepth)-1))
	// 8-bit PCM is unsigned.
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}

	data := make([]float64, len(pcm.Data))
	for i, v := range pcm.Data {
		data[i] = float64(v-offset) * scale
	}
	return &Buffer{
		Channels:   deinterleave(data, channels),
		SampleRate: sampleRate,
	}, nil
}
