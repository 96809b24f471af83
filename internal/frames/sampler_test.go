package frames

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDecoder struct {
	frames []Frame
	err    error
}

func (f *fakeDecoder) Decode(ctx context.Context, clipPath string, max int) ([]Frame, error) {
	return f.frames, f.err
}

func makeFrames(n int) []Frame {
	fs := make([]Frame, n)
	for i := 0; i < n; i++ {
		fs[i] = Frame{
			Index:     i,
			Timestamp: time.Duration(i) * time.Second,
			JPEG:      []byte{byte(i)},
		}
	}
	return fs
}

func TestSample_ExactlyN(t *testing.T) {
	s := NewSampler(&fakeDecoder{frames: makeFrames(10)}, 10)

	out, err := s.Sample(context.Background(), "clip.mp4")
	require.NoError(t, err)
	assert.Len(t, out, 10)
	assertOrdered(t, out)
}

func TestSample_FewerThanN_ReturnsAllNoPadding(t *testing.T) {
	s := NewSampler(&fakeDecoder{frames: makeFrames(4)}, 10)

	out, err := s.Sample(context.Background(), "clip.mp4")
	require.NoError(t, err)
	assert.Len(t, out, 4)
	assertOrdered(t, out)

	// No duplicates fabricated to reach n.
	seen := map[byte]bool{}
	for _, f := range out {
		assert.False(t, seen[f.JPEG[0]], "frame duplicated")
		seen[f.JPEG[0]] = true
	}
}

func TestSample_MoreThanN_EvenlySpaced(t *testing.T) {
	s := NewSampler(&fakeDecoder{frames: makeFrames(30)}, 10)

	out, err := s.Sample(context.Background(), "clip.mp4")
	require.NoError(t, err)
	assert.Len(t, out, 10)
	assertOrdered(t, out)

	// step = 30/10 = 3: frames 0,3,6,...
	assert.Equal(t, byte(0), out[0].JPEG[0])
	assert.Equal(t, byte(3), out[1].JPEG[0])
	assert.Equal(t, byte(27), out[9].JPEG[0])
}

func TestSample_ZeroFrames(t *testing.T) {
	s := NewSampler(&fakeDecoder{frames: nil}, 10)

	_, err := s.Sample(context.Background(), "clip.mp4")
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestSample_DecoderError(t *testing.T) {
	boom := errors.New("codec error")
	s := NewSampler(&fakeDecoder{err: boom}, 10)

	_, err := s.Sample(context.Background(), "clip.mp4")
	assert.ErrorIs(t, err, boom)
}

func TestSelectEvenlySpaced_SingleFrame(t *testing.T) {
	out := SelectEvenlySpaced(makeFrames(1), 10)
	assert.Len(t, out, 1)
}

func assertOrdered(t *testing.T, fs []Frame) {
	t.Helper()
	for i := 1; i < len(fs); i++ {
		assert.True(t, fs[i].Timestamp >= fs[i-1].Timestamp,
			"frames out of temporal order at %d", i)
	}
}
