package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/himanishpuri/AcousticLab/internal/audio"
	"github.com/himanishpuri/AcousticLab/internal/dsp"
)

const (
	pitchFMin      = 150.0
	pitchFMax      = 4000.0
	pitchThreshold = 0.1
)

var pitchClassNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Krumhansl-Schmuckler key profiles, tonic first.
var (
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

type Mode string

const (
	Major Mode = "major"
	Minor Mode = "minor"
)

// KeyEstimate is the best matching tonic and mode for a pitch-class histogram.
type KeyEstimate struct {
	Tonic     string
	Mode      Mode
	Score     float64 // correlation with the winning profile
	Pitches   int     // frames that carried a pitch
	Histogram [12]float64
}

func (k *KeyEstimate) String() string {
	if k == nil {
		return "none"
	}
	return fmt.Sprintf("%s %s", k.Tonic, k.Mode)
}

// PitchAndKey tracks the strongest pitch of every frame and matches the
// resulting pitch-class distribution against major and minor key profiles.
func PitchAndKey(buf *audio.Buffer) (*KeyEstimate, error) {
	mono, err := checkBuffer(buf)
	if err != nil {
		return nil, err
	}

	pitches := framePitches(mono, buf.SampleRate, DefaultNFFT, DefaultHop)
	if len(pitches) == 0 {
		return nil, fmt.Errorf("%w: no pitched frames", ErrAnalysis)
	}

	var hist [12]float64
	for _, f := range pitches {
		hist[PitchClass(f)]++
	}

	key, ok := estimateKey(hist)
	if !ok {
		return nil, fmt.Errorf("%w: pitch distribution matches no key profile", ErrAnalysis)
	}
	key.Pitches = len(pitches)
	key.Histogram = hist
	return key, nil
}

// PitchClass maps a frequency to 0 (C) .. 11 (B), A4 = 440 Hz.
func PitchClass(hz float64) int {
	semis := int(math.Round(12 * math.Log2(hz/440)))
	return ((semis+9)%12 + 12) % 12
}

// framePitches returns, per frame, the frequency of the strongest interpolated
// spectral peak in [pitchFMin, pitchFMax). Frames without a positive pitch are dropped.
func framePitches(mono []float64, sampleRate, nFFT, hop int) []float64 {
	mag := dsp.Magnitude(dsp.STFT(mono, nFFT, hop))
	freqs := dsp.FFTFrequencies(sampleRate, nFFT)

	var out []float64
	for _, s := range mag {
		var ref float64
		for _, v := range s {
			ref = math.Max(ref, v)
		}
		ref *= pitchThreshold

		bestMag, bestPitch := 0.0, 0.0
		for k := 1; k < len(s)-1; k++ {
			if freqs[k] < pitchFMin || freqs[k] >= pitchFMax {
				continue
			}
			if !(s[k] > s[k-1] && s[k] >= s[k+1] && s[k] > ref) {
				continue
			}
			avg := 0.5 * (s[k+1] - s[k-1])
			curv := 2*s[k] - s[k+1] - s[k-1]
			shift := 0.0
			if math.Abs(curv) > 1e-12 {
				shift = avg / curv
			}
			m := s[k] + 0.5*avg*shift
			if m > bestMag {
				bestMag = m
				bestPitch = (float64(k) + shift) * float64(sampleRate) / float64(nFFT)
			}
		}
		if bestPitch > 0 {
			out = append(out, bestPitch)
		}
	}
	return out
}

// estimateKey correlates hist with all 24 rotated profiles.
func estimateKey(hist [12]float64) (*KeyEstimate, bool) {
	best := &KeyEstimate{Score: math.Inf(-1)}
	found := false

	observed := hist[:]
	rotated := make([]float64, 12)
	for _, p := range []struct {
		mode    Mode
		profile [12]float64
	}{{Major, majorProfile}, {Minor, minorProfile}} {
		for tonic := 0; tonic < 12; tonic++ {
			for i := range rotated {
				rotated[(i+tonic)%12] = p.profile[i]
			}
			r := stat.Correlation(observed, rotated, nil)
			if math.IsNaN(r) {
				continue
			}
			if r > best.Score {
				best.Tonic = pitchClassNames[tonic]
				best.Mode = p.mode
				best.Score = r
				found = true
			}
		}
	}
	return best, found
}
