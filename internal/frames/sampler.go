package frames

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Frame is one decoded still from a clip. JPEG holds the encoded image
// bytes; Timestamp is its offset from clip start.
type Frame struct {
	Index     int
	Timestamp time.Duration
	JPEG      []byte
}

// ErrNoFrames means the clip yielded zero decodable frames. Treated as
// permanent input failure by the pipeline.
var ErrNoFrames = errors.New("no decodable frames in clip")

// Decoder extracts decodable frames from a clip on disk. Implementations
// must return frames in temporal order.
type Decoder interface {
	// Decode returns up to max evenly spread frames from the clip.
	Decode(ctx context.Context, clipPath string, max int) ([]Frame, error)
}

// Sampler produces the ordered, bounded frame sequence handed to inference.
// Its output order is the only place temporal order is established, so it is
// preserved verbatim from the decoder.
type Sampler struct {
	dec Decoder
	n   int
}

func NewSampler(dec Decoder, n int) *Sampler {
	if n <= 0 {
		n = 10
	}
	return &Sampler{dec: dec, n: n}
}

// Sample extracts at most n frames evenly spaced across the clip. A clip
// with fewer than n decodable frames returns all of them; frames are never
// duplicated or fabricated to pad the sequence.
func (s *Sampler) Sample(ctx context.Context, clipPath string) ([]Frame, error) {
	fs, err := s.dec.Decode(ctx, clipPath, s.n)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", clipPath, err)
	}
	if len(fs) == 0 {
		return nil, ErrNoFrames
	}
	if len(fs) > s.n {
		fs = SelectEvenlySpaced(fs, s.n)
	}
	for i := range fs {
		fs[i].Index = i
	}
	return fs, nil
}

// SelectEvenlySpaced picks n frames spread across the input, keeping
// temporal order. step = max(1, total/n), same spacing rule the detection
// side uses for its own sampling.
func SelectEvenlySpaced(fs []Frame, n int) []Frame {
	if len(fs) <= n {
		return fs
	}
	step := len(fs) / n
	if step < 1 {
		step = 1
	}
	out := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		idx := i * step
		if idx >= len(fs) {
			break
		}
		out = append(out, fs[idx])
	}
	return out
}
