package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// decodeMP3 decodes the whole stream. go-mp3 always yields 16-bit stereo.
func decodeMP3(r io.Reader) (*Buffer, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("opening MP3 stream: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("reading MP3 frames: %w", err)
	}

	const channels = 2
	const scale = 1.0 / 32768.0
	count := len(raw) / 2
	data := make([]float64, count-count%channels)
	for i := range data {
		s := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
		data[i] = float64(s) * scale
	}

	return &Buffer{
		Channels:   deinterleave(data, channels),
		SampleRate: decoder.SampleRate(),
	}, nil
}

func decodeFLAC(r io.Reader) (*Buffer, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("opening FLAC stream: %w", err)
	}

	info := stream.Info
	channels := int(info.NChannels)
	if channels == 0 {
		return nil, errors.New("FLAC stream reports zero channels")
	}
	bitDepth := int(info.BitsPerSample)
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported FLAC bit depth %d", bitDepth)
	}
	scale := 1.0 / float64(int64(1)<<(uint(bitDepth)-1))

	out := make([][]float64, channels)
	if info.NSamples > 0 {
		for c := range out {
			out[c] = make([]float64, 0, info.NSamples)
		}
	}

	for {
		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parsing FLAC frame: %w", err)
		}
		for c := 0; c < channels && c < len(frame.Subframes); c++ {
			samples := frame.Subframes[c].Samples
			for i := 0; i < int(frame.BlockSize) && i < len(samples); i++ {
				out[c] = append(out[c], float64(samples[i])*scale)
			}
		}
	}

	return &Buffer{
		Channels:   out,
		SampleRate: int(info.SampleRate),
	}, nil
}
