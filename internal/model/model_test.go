package model

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/himanishpuri/AcousticLab/internal/features"
)

func smallConfig() Config {
	return Config{
		HiddenSize:   16,
		Epochs:       30,
		BatchSize:    2,
		LearningRate: 1e-2,
		ClipNorm:     5,
		Seed:         7,
	}
}

func randomSequence(frames, width int, seed uint64) features.Sequence {
	rng := rand.New(rand.NewPCG(seed, 99))
	seq := make(features.Sequence, frames)
	for t := range seq {
		seq[t] = make([]float64, width)
		for i := range seq[t] {
			seq[t][i] = 10*math.Sin(float64(t+i)/3) + rng.NormFloat64()
		}
	}
	return seq
}

func TestTrainEmptyCorpus(t *testing.T) {
	tests := []struct {
		name   string
		corpus []features.Sequence
	}{
		{"nil", nil},
		{"only empty sequences", []features.Sequence{{}, {}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Train(tt.corpus, smallConfig(), nil)
			if !errors.Is(err, ErrTraining) {
				t.Errorf("expected ErrTraining, got %v", err)
			}
		})
	}
}

func TestTrainRejectsMixedWidths(t *testing.T) {
	corpus := []features.Sequence{randomSequence(5, 4, 1), randomSequence(5, 3, 2)}
	if _, err := Train(corpus, smallConfig(), nil); !errors.Is(err, ErrTraining) {
		t.Errorf("expected ErrTraining, got %v", err)
	}
}

func TestTrainInvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Epochs = 0
	if _, err := Train([]features.Sequence{randomSequence(4, 3, 1)}, cfg, nil); !errors.Is(err, ErrTraining) {
		t.Errorf("expected ErrTraining, got %v", err)
	}
}

func TestTrainStoresMaxLenAndLearns(t *testing.T) {
	corpus := []features.Sequence{
		randomSequence(12, 4, 1),
		randomSequence(7, 4, 2),
		randomSequence(9, 4, 3),
	}

	var calls int
	m, err := Train(corpus, smallConfig(), func(epoch, epochs int, loss float64) {
		calls++
		if epoch != calls || epochs != 30 {
			t.Errorf("progress(%d, %d) out of order", epoch, epochs)
		}
	})
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if m.MaxLen != 12 {
		t.Errorf("MaxLen = %d, want 12", m.MaxLen)
	}
	if m.InputSize != 4 || m.HiddenSize != 16 {
		t.Errorf("dims = (%d, %d), want (4, 16)", m.InputSize, m.HiddenSize)
	}
	if calls != 30 || len(m.Loss) != 30 {
		t.Fatalf("got %d progress calls and %d losses, want 30", calls, len(m.Loss))
	}
	if m.FinalLoss() >= m.Loss[0] {
		t.Errorf("loss did not decrease: first %g, last %g", m.Loss[0], m.FinalLoss())
	}
}

func TestEvaluate(t *testing.T) {
	corpus := []features.Sequence{randomSequence(8, 4, 1), randomSequence(5, 4, 2)}
	m, err := Train(corpus, smallConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	normalized := []features.Sequence{m.Norm.Apply(corpus[0]), m.Norm.Apply(corpus[1])}
	mse, err := m.Evaluate(normalized)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if math.IsNaN(mse) || mse < 0 {
		t.Errorf("mse = %g", mse)
	}

	if got, err := m.Evaluate(nil); err != nil || got != 0 {
		t.Errorf("Evaluate(nil) = %g, %v", got, err)
	}
	if _, err := m.Evaluate([]features.Sequence{randomSequence(3, 2, 5)}); !errors.Is(err, ErrInvalidModel) {
		t.Errorf("expected ErrInvalidModel for a width mismatch, got %v", err)
	}
	var empty *TrainedModel
	if _, err := empty.Evaluate(normalized); !errors.Is(err, ErrInvalidModel) {
		t.Errorf("expected ErrInvalidModel for a nil model, got %v", err)
	}
}

func TestTrainDeterministic(t *testing.T) {
	corpus := []features.Sequence{randomSequence(6, 3, 1), randomSequence(4, 3, 2)}
	a, err := Train(corpus, smallConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Train(corpus, smallConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.FinalLoss() != b.FinalLoss() {
		t.Errorf("same seed gave different losses: %g vs %g", a.FinalLoss(), b.FinalLoss())
	}
}

func TestPredictShape(t *testing.T) {
	const length, width = 10, 5
	seq := randomSequence(length, width, 4)
	m, err := Train([]features.Sequence{seq}, smallConfig(), nil)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	tests := []struct {
		name string
		seed features.Sequence
	}{
		{"same length", m.Norm.Apply(seq)},
		{"shorter seed is padded", m.Norm.Apply(seq[:3])},
		{"longer seed is truncated", randomSequence(25, width, 5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := m.Predict(tt.seed)
			if err != nil {
				t.Fatalf("Predict failed: %v", err)
			}
			if out.Len() != m.MaxLen || out.Width() != width {
				t.Errorf("shape = (%d, %d), want (%d, %d)", out.Len(), out.Width(), m.MaxLen, width)
			}
		})
	}

	if _, err := m.Predict(randomSequence(4, width+1, 6)); !errors.Is(err, ErrInvalidModel) {
		t.Errorf("expected ErrInvalidModel for width mismatch, got %v", err)
	}
	if _, err := m.Predict(nil); !errors.Is(err, ErrInvalidModel) {
		t.Errorf("expected ErrInvalidModel for empty seed, got %v", err)
	}
}

func TestPredictPadsToTrainingLength(t *testing.T) {
	long := randomSequence(20, 3, 1)
	short := randomSequence(8, 3, 2)
	m, err := Train([]features.Sequence{long, short}, smallConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	out, err := m.Predict(m.Norm.Apply(short))
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 20 {
		t.Errorf("Len = %d, want the stored max length 20 rather than the seed length 8", out.Len())
	}
}

func TestEncodeDecode(t *testing.T) {
	seq := randomSequence(6, 3, 1)
	m, err := Train([]features.Sequence{seq}, smallConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	seed := m.Norm.Apply(seq)
	want, err := m.Predict(seed)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		precision Precision
		tolerance float64
	}{
		{Float32, 1e-4},
		{Float16, 5e-2},
	}

	for _, tt := range tests {
		t.Run(tt.precision.String(), func(t *testing.T) {
			var buf bytes.Buffer
			if err := m.Encode(&buf, tt.precision); err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			got, err := Decode(&buf)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got.MaxLen != m.MaxLen || got.InputSize != m.InputSize || got.HiddenSize != m.HiddenSize {
				t.Fatalf("dims changed: %+v", got)
			}
			if got.Norm != m.Norm {
				t.Errorf("Norm = %+v, want %+v", got.Norm, m.Norm)
			}

			out, err := got.Predict(seed)
			if err != nil {
				t.Fatal(err)
			}
			for i := range out {
				for j := range out[i] {
					if d := math.Abs(out[i][j] - want[i][j]); d > tt.tolerance {
						t.Fatalf("output (%d,%d) differs by %g", i, j, d)
					}
				}
			}
		})
	}
}

// withDims copies an encoded header and overwrites its input and hidden sizes.
func withDims(hdr []byte, in, hidden uint32) []byte {
	out := bytes.Clone(hdr)
	binary.LittleEndian.PutUint32(out[8:12], in)
	binary.LittleEndian.PutUint32(out[12:16], hidden)
	return out
}

func TestDecodeRejectsGarbage(t *testing.T) {
	m, err := Train([]features.Sequence{randomSequence(4, 2, 1)}, smallConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	data, err := m.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	headerSize := binary.Size(header{})
	if want := headerSize + 4*paramCount(2, 16); len(data) != want {
		t.Fatalf("encoded %d bytes, want %d", len(data), want)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("XXXX"), data[4:]...)},
		{"truncated", data[:len(data)-3]},
		{"header only", data[:headerSize]},
		{"oversized dimensions", withDims(data[:headerSize], maxInputSize+1, 8)},
		{"forged dimensions", withDims(data[:headerSize], maxInputSize, maxHiddenSize)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnmarshalModel(tt.data); !errors.Is(err, ErrInvalidModel) {
				t.Errorf("expected ErrInvalidModel, got %v", err)
			}
		})
	}
}

func TestClipGlobalNorm(t *testing.T) {
	grads := [][]float64{{3, 0}, {0, 4}}
	norm := clipGlobalNorm(grads, 1)
	if norm != 5 {
		t.Errorf("norm = %g, want 5", norm)
	}
	if math.Abs(grads[0][0]-0.6) > 1e-12 || math.Abs(grads[1][1]-0.8) > 1e-12 {
		t.Errorf("clipped grads = %v", grads)
	}
}
