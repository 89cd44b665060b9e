package features

import (
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/himanishpuri/AcousticLab/internal/audio"
	"github.com/himanishpuri/AcousticLab/internal/dsp"
)

const (
	tempoPriorBPM  = 120.0
	tempoPriorStd  = 1.0 // octaves
	tempoMinBPM    = 30.0
	tempoMaxBPM    = 300.0
	maxCandidates  = 3
	beatTightness  = 100.0
	onsetThreshold = 0.01
)

// BeatAnalysis holds a scalar tempo and ordered beat times.
// Tempo is TempoCandidates[0] when any candidate exists and 0 otherwise.
type BeatAnalysis struct {
	Tempo           float64
	TempoCandidates []float64
	Beats           []float64 // seconds, increasing
	BeatFrames      []int
	Hop             int
	SampleRate      int
}

// BeatTrack estimates tempo and beat positions. Silence yields a zero tempo
// and an empty beat list rather than an error.
func BeatTrack(buf *audio.Buffer) (*BeatAnalysis, error) {
	mono, err := checkBuffer(buf)
	if err != nil {
		return nil, err
	}

	result := &BeatAnalysis{
		Beats:      []float64{},
		BeatFrames: []int{},
		Hop:        DefaultHop,
		SampleRate: buf.SampleRate,
	}

	onset := onsetStrength(mono, buf.SampleRate, DefaultNFFT, DefaultHop)
	if floats.Max(onset) <= 0 {
		return result, nil
	}

	result.TempoCandidates = estimateTempo(onset, buf.SampleRate, DefaultHop)
	if len(result.TempoCandidates) == 0 {
		return result, nil
	}
	result.Tempo = result.TempoCandidates[0]

	frames := trackBeats(onset, result.Tempo, buf.SampleRate, DefaultHop)
	for _, f := range frames {
		result.BeatFrames = append(result.BeatFrames, f)
		result.Beats = append(result.Beats, float64(f)*float64(DefaultHop)/float64(buf.SampleRate))
	}
	return result, nil
}

// onsetStrength is the mean positive first difference of the dB mel spectrogram.
func onsetStrength(mono []float64, sampleRate, nFFT, hop int) []float64 {
	db := dsp.PowerToDB(melPower(mono, sampleRate, nFFT, hop, DefaultNMels, 0, 0), 1, dsp.TopDB)
	bands, frames := db.Dims()

	onset := make([]float64, frames)
	for t := 1; t < frames; t++ {
		var sum float64
		for m := 0; m < bands; m++ {
			if d := db.At(m, t) - db.At(m, t-1); d > 0 {
				sum += d
			}
		}
		onset[t] = sum / float64(bands)
	}
	return onset
}

// autocorrelate returns the biased autocorrelation of x for lags [0, len(x)).
func autocorrelate(x []float64) []float64 {
	size := 1
	for size < 2*len(x) {
		size <<= 1
	}
	padded := make([]float64, size)
	copy(padded, x)

	fft := fourier.NewFFT(size)
	coeffs := fft.Coefficients(nil, padded)
	for i, c := range coeffs {
		coeffs[i] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
	}
	seq := fft.Sequence(nil, coeffs)

	out := make([]float64, len(x))
	for i := range out {
		out[i] = seq[i] / float64(size)
	}
	return out
}

// estimateTempo scores autocorrelation lags with a log-normal prior around
// 120 BPM and returns up to maxCandidates tempi, best first.
func estimateTempo(onset []float64, sampleRate, hop int) []float64 {
	ac := autocorrelate(onset)
	if ac[0] <= 0 {
		return nil
	}

	framesPerMinute := 60 * float64(sampleRate) / float64(hop)
	minLag := int(math.Ceil(framesPerMinute / tempoMaxBPM))
	maxLag := int(math.Floor(framesPerMinute / tempoMinBPM))
	if maxLag > len(ac)-1 {
		maxLag = len(ac) - 1
	}
	if minLag < 1 {
		minLag = 1
	}
	if minLag > maxLag {
		return nil
	}

	score := make([]float64, maxLag+1)
	for lag := minLag; lag <= maxLag; lag++ {
		bpm := framesPerMinute / float64(lag)
		z := math.Log2(bpm/tempoPriorBPM) / tempoPriorStd
		strength := math.Max(ac[lag]/ac[0], 0)
		score[lag] = math.Log1p(1e6*strength) - 0.5*z*z
	}

	type candidate struct {
		lag   int
		score float64
	}
	var peaks []candidate
	for lag := minLag; lag <= maxLag; lag++ {
		left := lag == minLag || score[lag] > score[lag-1]
		right := lag == maxLag || score[lag] >= score[lag+1]
		if left && right {
			peaks = append(peaks, candidate{lag, score[lag]})
		}
	}
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].score > peaks[j].score })

	var tempi []float64
	for i := 0; i < len(peaks) && i < maxCandidates; i++ {
		tempi = append(tempi, framesPerMinute/float64(peaks[i].lag))
	}
	return tempi
}

// trackBeats runs the dynamic-programming beat tracker over the onset envelope.
func trackBeats(onset []float64, bpm float64, sampleRate, hop int) []int {
	period := int(math.Round(60 * float64(sampleRate) / float64(hop) / bpm))
	if period < 1 || len(onset) < 2 {
		return nil
	}

	local := localScore(onset, period)
	n := len(local)
	localMax := floats.Max(local)

	backlink := make([]int, n)
	cumscore := make([]float64, n)

	// Predecessor window relative to the current frame.
	lo, hi := -2*period, -int(math.Round(float64(period)/2))
	txwt := make([]float64, hi-lo+1)
	for j := range txwt {
		d := float64(-(lo + j)) / float64(period)
		txwt[j] = -beatTightness * math.Pow(math.Log(d), 2)
	}

	firstBeat := true
	for i := 0; i < n; i++ {
		best, bestIdx := math.Inf(-1), -1
		for j, w := range txwt {
			prev := i + lo + j
			s := w
			if prev >= 0 {
				s += cumscore[prev]
			}
			if s > best {
				best, bestIdx = s, prev
			}
		}
		cumscore[i] = local[i] + best

		if firstBeat && local[i] < onsetThreshold*localMax {
			backlink[i] = -1
		} else {
			backlink[i] = bestIdx
			firstBeat = false
		}
	}

	beats := []int{lastBeat(cumscore)}
	for {
		prev := backlink[beats[len(beats)-1]]
		if prev < 0 {
			break
		}
		beats = append(beats, prev)
	}
	slices.Reverse(beats)

	return trimBeats(local, beats)
}

// localScore normalizes the onset envelope and smooths it with a Gaussian
// whose width scales with the beat period.
func localScore(onset []float64, period int) []float64 {
	std := stat.StdDev(onset, nil)
	if std == 0 {
		std = 1
	}

	window := make([]float64, 2*period+1)
	for j := range window {
		x := float64(j-period) * 32 / float64(period)
		window[j] = math.Exp(-0.5 * x * x)
	}

	n := len(onset)
	out := make([]float64, n)
	for i := range out {
		var sum float64
		for j, w := range window {
			k := i + j - period
			if k >= 0 && k < n {
				sum += w * onset[k] / std
			}
		}
		out[i] = sum
	}
	return out
}

// lastBeat picks the final local maximum of the cumulative score that exceeds
// half the median local-maximum score.
func lastBeat(cumscore []float64) int {
	var peaks []int
	for i := range cumscore {
		left := i == 0 || cumscore[i] > cumscore[i-1]
		right := i == len(cumscore)-1 || cumscore[i] >= cumscore[i+1]
		if left && right {
			peaks = append(peaks, i)
		}
	}
	if len(peaks) == 0 {
		return floats.MaxIdx(cumscore)
	}

	vals := make([]float64, len(peaks))
	for i, p := range peaks {
		vals[i] = cumscore[p]
	}
	sort.Float64s(vals)
	threshold := 0.5 * stat.Quantile(0.5, stat.Empirical, vals, nil)

	last := peaks[len(peaks)-1]
	for _, p := range peaks {
		if cumscore[p] > threshold {
			last = p
		}
	}
	return last
}

// trimBeats drops weak beats from both ends.
func trimBeats(local []float64, beats []int) []int {
	if len(beats) == 0 {
		return beats
	}
	hann := []float64{0, 0.5, 1, 0.5, 0}
	smooth := make([]float64, len(beats))
	for i := range beats {
		for j, w := range hann {
			k := i + j - 2
			if k >= 0 && k < len(beats) {
				smooth[i] += w * local[beats[k]]
			}
		}
	}
	threshold := 0.5 * math.Sqrt(floats.Dot(smooth, smooth)/float64(len(smooth)))

	start, end := 0, len(beats)-1
	for start <= end && local[beats[start]] <= threshold {
		start++
	}
	for end >= start && local[beats[end]] <= threshold {
		end--
	}
	return beats[start : end+1]
}
