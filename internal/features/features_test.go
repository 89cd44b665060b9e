package features

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/himanishpuri/AcousticLab/internal/audio"
)

const testRate = 22050

func sineBuffer(freq float64, seconds float64, amp float64) *audio.Buffer {
	n := int(seconds * testRate)
	x := make([]float64, n)
	for i := range x {
		x[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/testRate)
	}
	return audio.NewMono(x, testRate)
}

func noise(n int, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	x := make([]float64, n)
	for i := range x {
		x[i] = rng.Float64()*0.6 - 0.3
	}
	return x
}

// clickTrack places short tone bursts every 22 hops (about 117 BPM at 22050 Hz).
func clickTrack(seconds float64) *audio.Buffer {
	n := int(seconds * testRate)
	x := make([]float64, n)
	period := 22 * DefaultHop
	burst := testRate / 100
	for start := 4096; start+burst < n; start += period {
		for i := 0; i < burst; i++ {
			decay := math.Exp(-float64(i) / float64(burst/4))
			t := float64(i) / testRate
			x[start+i] = 0.8 * decay * (math.Sin(2*math.Pi*1000*t) + 0.5*math.Sin(2*math.Pi*3000*t))
		}
	}
	return audio.NewMono(x, testRate)
}

func stereoAndMono(seconds float64) (*audio.Buffer, *audio.Buffer) {
	left := sineBuffer(330, seconds, 0.4).Channels[0]
	right := noise(len(left), 7)
	mono := make([]float64, len(left))
	for i := range mono {
		mono[i] = (left[i] + right[i]) * 0.5
	}
	stereo := &audio.Buffer{Channels: [][]float64{left, right}, SampleRate: testRate}
	return stereo, audio.NewMono(mono, testRate)
}

func TestSpectrogramShapeAndReference(t *testing.T) {
	buf := sineBuffer(440, 2.0, 0.05)

	spec, err := Spectrogram(buf, DefaultSpectrogramOptions())
	if err != nil {
		t.Fatalf("Spectrogram failed: %v", err)
	}

	if spec.NMels() != 128 {
		t.Errorf("NMels = %d, want 128", spec.NMels())
	}
	wantFrames := int(math.Ceil(44100.0/512)) + 1
	if spec.Frames() != wantFrames {
		t.Errorf("Frames = %d, want %d", spec.Frames(), wantFrames)
	}

	lo, hi := spec.Range()
	if hi != 0 {
		t.Errorf("max = %g dB, want 0", hi)
	}
	if lo < -80-1e-9 {
		t.Errorf("min = %g dB, below the 80 dB floor", lo)
	}
}

func TestSpectrogramLoudnessIndependent(t *testing.T) {
	quiet, err := Spectrogram(sineBuffer(440, 1.0, 0.01), DefaultSpectrogramOptions())
	if err != nil {
		t.Fatal(err)
	}
	loud, err := Spectrogram(sineBuffer(440, 1.0, 0.9), DefaultSpectrogramOptions())
	if err != nil {
		t.Fatal(err)
	}
	for m := range quiet.DB {
		for f := range quiet.DB[m] {
			if d := math.Abs(quiet.DB[m][f] - loud.DB[m][f]); d > 1e-6 {
				t.Fatalf("cell (%d,%d) differs by %g dB", m, f, d)
			}
		}
	}
}

func TestStereoMatchesMono(t *testing.T) {
	stereo, mono := stereoAndMono(1.5)

	s1, err := Spectrogram(stereo, DefaultSpectrogramOptions())
	if err != nil {
		t.Fatal(err)
	}
	s2, err := Spectrogram(mono, DefaultSpectrogramOptions())
	if err != nil {
		t.Fatal(err)
	}
	for m := range s1.DB {
		for f := range s1.DB[m] {
			if s1.DB[m][f] != s2.DB[m][f] {
				t.Fatalf("spectrogram cell (%d,%d) differs", m, f)
			}
		}
	}

	m1, err := MFCC(stereo, DefaultNMFCC, DefaultHop)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := MFCC(mono, DefaultNMFCC, DefaultHop)
	if err != nil {
		t.Fatal(err)
	}
	for i := range m1 {
		for j := range m1[i] {
			if m1[i][j] != m2[i][j] {
				t.Fatalf("mfcc (%d,%d) differs", i, j)
			}
		}
	}

	b1, err := BeatTrack(stereo)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := BeatTrack(mono)
	if err != nil {
		t.Fatal(err)
	}
	if b1.Tempo != b2.Tempo || len(b1.Beats) != len(b2.Beats) {
		t.Errorf("beat tracking differs: %v vs %v", b1, b2)
	}
}

func TestAnalysisErrors(t *testing.T) {
	bad := []struct {
		name string
		buf  *audio.Buffer
	}{
		{"zero rate", audio.NewMono([]float64{0.1, 0.2}, 0)},
		{"empty", audio.NewMono(nil, testRate)},
		{"ragged", &audio.Buffer{Channels: [][]float64{{0, 1, 2}, {0}}, SampleRate: testRate}},
	}

	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Spectrogram(tt.buf, DefaultSpectrogramOptions()); !errors.Is(err, ErrAnalysis) {
				t.Errorf("Spectrogram: expected ErrAnalysis, got %v", err)
			}
			if _, err := MFCC(tt.buf, DefaultNMFCC, DefaultHop); !errors.Is(err, ErrAnalysis) {
				t.Errorf("MFCC: expected ErrAnalysis, got %v", err)
			}
			if _, err := BeatTrack(tt.buf); !errors.Is(err, ErrAnalysis) {
				t.Errorf("BeatTrack: expected ErrAnalysis, got %v", err)
			}
			if _, err := PitchAndKey(tt.buf); !errors.Is(err, ErrAnalysis) {
				t.Errorf("PitchAndKey: expected ErrAnalysis, got %v", err)
			}
		})
	}

	buf := sineBuffer(440, 0.5, 0.5)
	opts := DefaultSpectrogramOptions()
	opts.Hop = 0
	if _, err := Spectrogram(buf, opts); !errors.Is(err, ErrAnalysis) {
		t.Errorf("expected ErrAnalysis for zero hop, got %v", err)
	}
	if _, err := MFCC(buf, 0, DefaultHop); !errors.Is(err, ErrAnalysis) {
		t.Errorf("expected ErrAnalysis for zero coefficients, got %v", err)
	}
}

func TestMFCCShape(t *testing.T) {
	seq, err := MFCC(sineBuffer(440, 2.0, 0.5), 20, 512)
	if err != nil {
		t.Fatalf("MFCC failed: %v", err)
	}
	if seq.Len() != 88 || seq.Width() != 20 {
		t.Errorf("shape = (%d, %d), want (88, 20)", seq.Len(), seq.Width())
	}
}

func TestNormalization(t *testing.T) {
	a := Sequence{{1, 2}, {3, 4}}
	b := Sequence{{10, 20}}

	corpus := ComputeNormalization(a, b)
	single := ComputeNormalization(a)
	if corpus == single {
		t.Fatal("corpus and single-buffer statistics should differ")
	}

	normed := single.Apply(a)
	n := ComputeNormalization(normed)
	if math.Abs(n.Mean) > 1e-12 || math.Abs(n.Std-1) > 1e-12 {
		t.Errorf("normalized stats = %+v, want mean 0 std 1", n)
	}
	if a[0][0] != 1 {
		t.Error("Apply modified its input")
	}

	back := single.Invert(normed)
	for i := range a {
		for j := range a[i] {
			if math.Abs(back[i][j]-a[i][j]) > 1e-12 {
				t.Errorf("Invert(%d,%d) = %g, want %g", i, j, back[i][j], a[i][j])
			}
		}
	}

	flat := ComputeNormalization(Sequence{{5, 5}, {5, 5}})
	if flat.Std != 1 || flat.Mean != 5 {
		t.Errorf("flat stats = %+v, want mean 5 std 1", flat)
	}
}

func TestBeatTrackSilent(t *testing.T) {
	silent := audio.NewMono(make([]float64, 44100), testRate)

	res, err := BeatTrack(silent)
	if err != nil {
		t.Fatalf("BeatTrack on silence returned error: %v", err)
	}
	if res.Tempo != 0 {
		t.Errorf("Tempo = %g, want 0", res.Tempo)
	}
	if res.Beats == nil || len(res.Beats) != 0 {
		t.Errorf("Beats = %v, want empty non-nil slice", res.Beats)
	}
}

func TestBeatTrackClickTrack(t *testing.T) {
	res, err := BeatTrack(clickTrack(8))
	if err != nil {
		t.Fatalf("BeatTrack failed: %v", err)
	}
	t.Logf("tempo=%.2f candidates=%v beats=%d", res.Tempo, res.TempoCandidates, len(res.Beats))

	if len(res.TempoCandidates) == 0 {
		t.Fatal("no tempo candidates")
	}
	if res.Tempo != res.TempoCandidates[0] {
		t.Errorf("Tempo %g is not the primary candidate %g", res.Tempo, res.TempoCandidates[0])
	}
	if res.Tempo < 100 || res.Tempo > 140 {
		t.Errorf("Tempo = %.2f, want within [100, 140]", res.Tempo)
	}
	if len(res.Beats) < 5 {
		t.Fatalf("expected at least 5 beats, got %d", len(res.Beats))
	}
	for i := 1; i < len(res.Beats); i++ {
		if res.Beats[i] <= res.Beats[i-1] {
			t.Fatalf("beats not increasing at %d: %v", i, res.Beats)
		}
	}
	for i, f := range res.BeatFrames {
		want := float64(f) * DefaultHop / testRate
		if res.Beats[i] != want {
			t.Errorf("beat %d = %g s, want %g", i, res.Beats[i], want)
		}
	}
}

func TestPitchAndKeyA440(t *testing.T) {
	key, err := PitchAndKey(sineBuffer(440, 2.0, 0.5))
	if err != nil {
		t.Fatalf("PitchAndKey failed: %v", err)
	}
	if key.Tonic != "A" {
		t.Errorf("Tonic = %s, want A (%s)", key.Tonic, key)
	}
	if key.Pitches == 0 || key.Histogram[9] < 0.9*float64(key.Pitches) {
		t.Errorf("histogram %v does not concentrate on A", key.Histogram)
	}
}

func TestPitchAndKeySilent(t *testing.T) {
	_, err := PitchAndKey(audio.NewMono(make([]float64, 22050), testRate))
	if !errors.Is(err, ErrAnalysis) {
		t.Errorf("expected ErrAnalysis, got %v", err)
	}
}

func TestPitchClass(t *testing.T) {
	tests := []struct {
		hz   float64
		want int
	}{
		{440, 9},
		{261.63, 0},
		{220, 9},
		{466.16, 10},
		{246.94, 11},
		{130.81, 0},
	}
	for _, tt := range tests {
		if got := PitchClass(tt.hz); got != tt.want {
			t.Errorf("PitchClass(%g) = %d, want %d", tt.hz, got, tt.want)
		}
	}
}

func TestEstimateKeyProfiles(t *testing.T) {
	tests := []struct {
		name    string
		profile [12]float64
		tonic   int
		mode    Mode
	}{
		{"D major", majorProfile, 2, Major},
		{"F# minor", minorProfile, 6, Minor},
		{"C minor", minorProfile, 0, Minor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hist [12]float64
			for i, v := range tt.profile {
				hist[(i+tt.tonic)%12] = v
			}
			key, ok := estimateKey(hist)
			if !ok {
				t.Fatal("no key found")
			}
			if key.Tonic != pitchClassNames[tt.tonic] || key.Mode != tt.mode {
				t.Errorf("got %s, want %s", key, tt.name)
			}
			if math.Abs(key.Score-1) > 1e-9 {
				t.Errorf("Score = %g, want 1", key.Score)
			}
		})
	}

	if _, ok := estimateKey([12]float64{}); ok {
		t.Error("flat histogram should not match a key")
	}
}
