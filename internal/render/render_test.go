package render

import (
	"errors"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/himanishpuri/AcousticLab/internal/audio"
	"github.com/himanishpuri/AcousticLab/internal/features"
)

func sine(freq, seconds float64, rate int) *audio.Buffer {
	x := make([]float64, int(seconds*float64(rate)))
	for i := range x {
		x[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return audio.NewMono(x, rate)
}

func TestHeatColor(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		want uint8 // red channel
	}{
		{"below range", -1, heat[0].R},
		{"bottom", 0, heat[0].R},
		{"top", 1, heat[len(heat)-1].R},
		{"above range", 2, heat[len(heat)-1].R},
		{"nan", math.NaN(), heat[0].R},
		{"on a stop", 0.2, heat[1].R},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := heatColor(tt.v).R; got != tt.want {
				t.Errorf("heatColor(%g).R = %d, want %d", tt.v, got, tt.want)
			}
		})
	}
}

func TestMelPNG(t *testing.T) {
	spec, err := features.Spectrogram(sine(440, 1, 22050), features.DefaultSpectrogramOptions())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "img", "mel.png")

	if _, err := MelPNG(spec, path, 2); err != nil {
		t.Fatalf("MelPNG failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if cfg.Width != spec.Frames()*2 || cfg.Height != spec.NMels()*2 {
		t.Errorf("size = %dx%d, want %dx%d", cfg.Width, cfg.Height, spec.Frames()*2, spec.NMels()*2)
	}
}

func TestMelImageOrientation(t *testing.T) {
	spec := &features.SpectrogramFrame{DB: [][]float64{{0, 0}, {-80, -80}}}
	img, err := MelImage(spec, 1)
	if err != nil {
		t.Fatal(err)
	}
	// mel band 0 is the loudest and sits on the bottom row
	if got := img.RGBAAt(0, 1); got != heat[len(heat)-1] {
		t.Errorf("bottom row = %v, want %v", got, heat[len(heat)-1])
	}
	if got := img.RGBAAt(0, 0); got != heat[0] {
		t.Errorf("top row = %v, want %v", got, heat[0])
	}
}

func TestRenderErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := MelPNG(&features.SpectrogramFrame{}, filepath.Join(dir, "a.png"), 1); !errors.Is(err, ErrRender) {
		t.Errorf("expected ErrRender for empty spectrogram, got %v", err)
	}
	if _, err := WaveformPNG(&audio.Buffer{SampleRate: 22050}, filepath.Join(dir, "b.png"), DefaultWaveformOptions()); !errors.Is(err, ErrRender) {
		t.Errorf("expected ErrRender for empty buffer, got %v", err)
	}
	if _, err := WaveformPNG(sine(440, 0.1, 22050), filepath.Join(dir, "c.png"), WaveformOptions{}); !errors.Is(err, ErrRender) {
		t.Errorf("expected ErrRender for zero size, got %v", err)
	}
}

func TestWaveformPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wave.png")
	got, err := WaveformPNG(sine(440, 1, 22050), path, WaveformOptions{Width: 256, Height: 128})
	if err != nil {
		t.Fatalf("WaveformPNG failed: %v", err)
	}
	info, err := os.Stat(got)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() == 0 {
		t.Error("WaveformPNG wrote an empty file")
	}
}
