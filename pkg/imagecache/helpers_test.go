package imagecache

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// pngBytes encodes a small solid image
func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// countingFetcher serves fixed bytes and counts invocations
type countingFetcher struct {
	data  []byte
	err   error
	calls atomic.Int64
}

func (f *countingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

// fakePressure is a PressureSource that can be fired by hand
type fakePressure struct {
	fn           func()
	unsubscribed bool
}

func (p *fakePressure) Subscribe(fn func()) func() {
	p.fn = fn
	return func() { p.unsubscribed = true }
}

func (p *fakePressure) fire() {
	if p.fn != nil && !p.unsubscribed {
		p.fn()
	}
}

func staticDir(dir string) CacheDirFunc {
	return func() (string, error) { return dir, nil }
}
