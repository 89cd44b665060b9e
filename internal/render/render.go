package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/eligwz/spectrogram"

	"github.com/himanishpuri/AcousticLab/internal/audio"
	"github.com/himanishpuri/AcousticLab/internal/features"
	"github.com/himanishpuri/AcousticLab/pkg/utils"
)

var ErrRender = errors.New("render error")

// heat is a dark-to-bright colour ramp, lowest value first.
var heat = []color.RGBA{
	{0, 0, 4, 255},
	{59, 15, 112, 255},
	{140, 41, 129, 255},
	{222, 73, 104, 255},
	{254, 159, 109, 255},
	{252, 253, 191, 255},
}

func heatColor(v float64) color.RGBA {
	if math.IsNaN(v) || v <= 0 {
		return heat[0]
	}
	if v >= 1 {
		return heat[len(heat)-1]
	}
	pos := v * float64(len(heat)-1)
	i := int(pos)
	frac := pos - float64(i)
	a, b := heat[i], heat[i+1]
	lerp := func(x, y uint8) uint8 { return uint8(float64(x) + frac*(float64(y)-float64(x)) + 0.5) }
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 255}
}

// MelImage draws the grid with time on x and the lowest mel band at the
// bottom. Each cell is scale x scale pixels.
func MelImage(spec *features.SpectrogramFrame, scale int) (*image.RGBA, error) {
	if spec == nil || spec.NMels() == 0 || spec.Frames() == 0 {
		return nil, fmt.Errorf("%w: empty spectrogram", ErrRender)
	}
	if scale < 1 {
		scale = 1
	}

	mels, frames := spec.NMels(), spec.Frames()
	lo, hi := spec.Range()
	span := hi - lo
	if span <= 0 {
		span = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, frames*scale, mels*scale))
	for m := 0; m < mels; m++ {
		y := (mels - m - 1) * scale
		for f := 0; f < frames; f++ {
			col := heatColor((spec.DB[m][f] - lo) / span)
			draw.Draw(img, image.Rect(f*scale, y, (f+1)*scale, y+scale), image.NewUniform(col), image.Point{}, draw.Src)
		}
	}
	return img, nil
}

// MelPNG writes MelImage(spec, scale) to path.
func MelPNG(spec *features.SpectrogramFrame, path string, scale int) (string, error) {
	img, err := MelImage(spec, scale)
	if err != nil {
		return "", err
	}
	if err := utils.MakeDir(filepath.Dir(path)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", fmt.Errorf("%w: encoding %s: %w", ErrRender, path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	return path, nil
}

type WaveformOptions struct {
	Width  int
	Height int // also the number of frequency bins
	Log    bool
}

func DefaultWaveformOptions() WaveformOptions {
	return WaveformOptions{Width: 2048, Height: 512}
}

// WaveformPNG draws a linear-frequency FFT spectrogram of the mono mix of buf.
func WaveformPNG(buf *audio.Buffer, path string, opts WaveformOptions) (string, error) {
	if err := buf.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return "", fmt.Errorf("%w: invalid image size %dx%d", ErrRender, opts.Width, opts.Height)
	}
	if err := utils.MakeDir(filepath.Dir(path)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRender, err)
	}

	img := spectrogram.NewImage128(image.Rect(0, 0, opts.Width, opts.Height))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	spectrogram.Drawfft(
		img,
		buf.Mono(),
		uint32(buf.SampleRate),
		uint32(opts.Height),
		false, // Hamming window
		false, // FFT rather than DFT
		true,  // magnitude
		opts.Log,
	)

	if err := spectrogram.SavePng(img, path); err != nil {
		return "", fmt.Errorf("%w: saving %s: %w", ErrRender, path, err)
	}
	return path, nil
}
