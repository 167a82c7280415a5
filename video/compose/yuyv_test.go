package compose

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backdrop/util"
	"backdrop/video/frame"
)

func TestPackYUYV(t *testing.T) {
	t.Run("red green pair", func(t *testing.T) {
		f := frame.New(geo(2, 1))
		f.Set(0, 0, 0, 0, 255) // RGB (255,0,0)
		f.Set(1, 0, 0, 255, 0) // RGB (0,255,0)

		out, err := PackChroma(f)
		require.NoError(t, err)

		u0, v0 := Chroma(0, 0, 255)
		u1, v1 := Chroma(0, 255, 0)
		assert.Equal(t, []byte{85, 255}, []byte{u0, v0})
		assert.Equal(t, []byte{43, 21}, []byte{u1, v1})
		assert.Equal(t, []byte{76, 64, 150, 138}, out)
	})

	t.Run("luma is per pixel", func(t *testing.T) {
		rnd := rand.New(rand.NewSource(2))
		f := randomFrame(rnd, geo(16, 8))
		out, err := PackChroma(f)
		require.NoError(t, err)
		require.Len(t, out, 16*8*2)
		for i := 0; i < f.Width*f.Height; i++ {
			b, g, r := f.Pix[i*3], f.Pix[i*3+1], f.Pix[i*3+2]
			require.Equal(t, Luma(b, g, r), out[i*2], "pixel %d", i)
		}
	})

	t.Run("chroma shared by pairs", func(t *testing.T) {
		rnd := rand.New(rand.NewSource(3))
		f := randomFrame(rnd, geo(8, 2))
		out, err := PackChroma(f)
		require.NoError(t, err)
		for i := 0; i < f.Width*f.Height; i += 2 {
			p := f.Pix[i*3 : i*3+6]
			u0, v0 := Chroma(p[0], p[1], p[2])
			u1, v1 := Chroma(p[3], p[4], p[5])
			assert.Equal(t, byte((int(u0)+int(u1)+1)/2), out[i*2+1], "u of pair %d", i/2)
			assert.Equal(t, byte((int(v0)+int(v1)+1)/2), out[i*2+3], "v of pair %d", i/2)
		}
	})

	t.Run("gray round trips exactly", func(t *testing.T) {
		f := frame.New(geo(256, 1))
		for x := 0; x < 256; x++ {
			v := byte(x)
			f.Set(x, 0, v, v, v)
		}
		out, err := PackChroma(f)
		require.NoError(t, err)
		back := &frame.Frame{}
		require.NoError(t, UnpackYUYV(back, out, f.Geometry()))
		assert.Equal(t, f.Pix, back.Pix)
	})

	t.Run("reuses destination", func(t *testing.T) {
		f := frame.New(geo(4, 4))
		buf := make([]byte, 0, 64)
		out, err := PackYUYV(buf, f)
		require.NoError(t, err)
		assert.Len(t, out, 32)
		assert.Same(t, &buf[:1][0], &out[0])
	})

	t.Run("odd width rejected", func(t *testing.T) {
		_, err := PackChroma(frame.New(geo(3, 1)))
		assert.True(t, util.IsKind(err, util.KindDimensionMismatch))
	})
}
