package model

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/x448/float16"

	"github.com/himanishpuri/AcousticLab/internal/features"
)

// Precision selects how weights are stored.
type Precision uint8

const (
	Float32 Precision = 32
	Float16 Precision = 16
)

func (p Precision) String() string {
	switch p {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	default:
		return fmt.Sprintf("Precision(%d)", uint8(p))
	}
}

// ParsePrecision accepts "float32"/"32" and "float16"/"16".
func ParsePrecision(s string) (Precision, error) {
	switch s {
	case "float32", "32", "":
		return Float32, nil
	case "float16", "16":
		return Float16, nil
	}
	return 0, fmt.Errorf("unknown weight precision %q", s)
}

var modelMagic = [4]byte{'A', 'L', 'R', 'N'}

const codecVersion uint16 = 1

// header is the fixed-size little-endian prefix of an encoded model.
type header struct {
	Magic      [4]byte
	Version    uint16
	Precision  uint8
	_          uint8
	InputSize  uint32
	HiddenSize uint32
	MaxLen     uint32
	Epochs     uint32
	NormMean   float64
	NormStd    float64
	FinalLoss  float64
}

// Encode writes the model header followed by Wx, Wh, bh, Wy and by in
// row-major order at the requested precision.
func (m *TrainedModel) Encode(w io.Writer, p Precision) error {
	if m == nil || m.net == nil {
		return fmt.Errorf("%w: model has no weights", ErrInvalidModel)
	}
	if p != Float32 && p != Float16 {
		return fmt.Errorf("%w: unsupported precision %s", ErrInvalidModel, p)
	}

	bw := bufio.NewWriter(w)
	h := header{
		Magic:      modelMagic,
		Version:    codecVersion,
		Precision:  uint8(p),
		InputSize:  uint32(m.InputSize),
		HiddenSize: uint32(m.HiddenSize),
		MaxLen:     uint32(m.MaxLen),
		Epochs:     uint32(m.Epochs),
		NormMean:   m.Norm.Mean,
		NormStd:    m.Norm.Std,
		FinalLoss:  m.FinalLoss(),
	}
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("writing model header: %w", err)
	}

	var buf [4]byte
	for _, param := range m.net.params() {
		for _, v := range param {
			var err error
			if p == Float16 {
				binary.LittleEndian.PutUint16(buf[:2], float16.Fromfloat32(float32(v)).Bits())
				_, err = bw.Write(buf[:2])
			} else {
				binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(v)))
				_, err = bw.Write(buf[:])
			}
			if err != nil {
				return fmt.Errorf("writing weights: %w", err)
			}
		}
	}
	return bw.Flush()
}

// MarshalBinary encodes the model at float32 precision.
func (m *TrainedModel) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf, Float32); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Header bounds accepted by Decode.
const (
	maxInputSize  = 1024
	maxHiddenSize = 4096
	maxSeqLen     = 1 << 24
)

// paramCount is the number of weights of an RNN with the given dimensions:
// Wx and Wy (hidden x in each), Wh (hidden x hidden), bh and by.
func paramCount(in, hidden int) int {
	return 2*hidden*in + hidden*hidden + hidden + in
}

// Decode reads a model written by Encode.
func Decode(r io.Reader) (*TrainedModel, error) {
	br := bufio.NewReader(r)

	var h header
	if err := binary.Read(br, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrInvalidModel, err)
	}
	if h.Magic != modelMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidModel, h.Magic[:])
	}
	if h.Version != codecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidModel, h.Version)
	}
	p := Precision(h.Precision)
	if p != Float32 && p != Float16 {
		return nil, fmt.Errorf("%w: unsupported precision %d", ErrInvalidModel, h.Precision)
	}
	if h.InputSize == 0 || h.HiddenSize == 0 || h.MaxLen == 0 {
		return nil, fmt.Errorf("%w: zero dimension in header", ErrInvalidModel)
	}
	if !(h.NormStd > 0) {
		return nil, fmt.Errorf("%w: non-positive normalization deviation", ErrInvalidModel)
	}
	if h.InputSize > maxInputSize || h.HiddenSize > maxHiddenSize || h.MaxLen > maxSeqLen {
		return nil, fmt.Errorf("%w: dimensions %dx%d (max length %d) out of range",
			ErrInvalidModel, h.InputSize, h.HiddenSize, h.MaxLen)
	}

	// Read the whole payload before allocating the network so a forged header
	// over a short blob fails on size instead of on memory.
	in, hidden := int(h.InputSize), int(h.HiddenSize)
	width := int(p) / 8
	want := int64(paramCount(in, hidden) * width)
	payload, err := io.ReadAll(io.LimitReader(br, want))
	if err != nil {
		return nil, fmt.Errorf("%w: reading weights: %w", ErrInvalidModel, err)
	}
	if int64(len(payload)) != want {
		return nil, fmt.Errorf("%w: weights truncated: %d of %d bytes", ErrInvalidModel, len(payload), want)
	}

	net := newZeroRNN(in, hidden)
	for _, param := range net.params() {
		for i := range param {
			if p == Float16 {
				param[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(payload)).Float32())
			} else {
				param[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(payload)))
			}
			payload = payload[width:]
		}
	}

	m := &TrainedModel{
		InputSize:  net.in,
		HiddenSize: net.hidden,
		MaxLen:     int(h.MaxLen),
		Epochs:     int(h.Epochs),
		Norm:       features.Normalization{Mean: h.NormMean, Std: h.NormStd},
		net:        net,
	}
	if h.FinalLoss != 0 {
		m.Loss = []float64{h.FinalLoss}
	}
	return m, nil
}

// UnmarshalModel decodes a byte slice produced by MarshalBinary or Encode.
func UnmarshalModel(data []byte) (*TrainedModel, error) {
	return Decode(bytes.NewReader(data))
}
