package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backdrop/util"
	"backdrop/video/frame"
)

func geo(w, h int) frame.Geometry {
	return frame.Geometry{Width: w, Height: h}
}

func TestCropRegion(t *testing.T) {
	t.Run("same aspect needs no crop", func(t *testing.T) {
		assert.True(t, CropRegion(geo(640, 480), geo(320, 240)).Empty())
		assert.True(t, CropRegion(geo(640, 480), geo(640, 480)).Empty())
	})

	t.Run("square target crops width", func(t *testing.T) {
		assert.Equal(t, frame.Rect{X: 80, Y: 0, Width: 480, Height: 480}, CropRegion(geo(640, 480), geo(300, 300)))
	})

	t.Run("tall capture crops height", func(t *testing.T) {
		assert.Equal(t, frame.Rect{X: 0, Y: 80, Width: 480, Height: 480}, CropRegion(geo(480, 640), geo(300, 300)))
	})

	t.Run("widescreen target from 4:3", func(t *testing.T) {
		assert.Equal(t, frame.Rect{X: 0, Y: 60, Width: 640, Height: 360}, CropRegion(geo(640, 480), geo(1280, 720)))
	})

	t.Run("empty geometry", func(t *testing.T) {
		assert.True(t, CropRegion(geo(0, 480), geo(300, 300)).Empty())
	})
}

func TestCropRegionProperties(t *testing.T) {
	captures := []frame.Geometry{geo(640, 480), geo(1280, 720), geo(1920, 1080), geo(480, 640), geo(800, 600), geo(1024, 768)}
	outputs := []frame.Geometry{geo(300, 300), geo(320, 240), geo(640, 360), geo(360, 640), geo(1280, 720), geo(642, 480), geo(1000, 367)}

	for _, c := range captures {
		for _, o := range outputs {
			r := CropRegion(c, o)
			if r.Empty() {
				continue
			}
			assert.True(t, fits(r, c), "%v -> %v: %v outside capture", c, o, r)
			assert.LessOrEqual(t, r.Width, c.Width)
			assert.LessOrEqual(t, r.Height, c.Height)
			// Aspect equal up to rounding of the trimmed dimension.
			diff := r.Width*o.Height - o.Width*r.Height
			if diff < 0 {
				diff = -diff
			}
			assert.Less(t, diff, o.Width+o.Height, "%v -> %v: %v", c, o, r)
		}
	}
}

func TestAspectMismatch(t *testing.T) {
	assert.False(t, AspectMismatch(geo(640, 480), geo(320, 240)))
	assert.True(t, AspectMismatch(geo(640, 480), geo(300, 300)))
}

func TestCropScaler(t *testing.T) {
	t.Run("crop to square then scale", func(t *testing.T) {
		src := frame.New(geo(640, 480))
		// Mark the columns that should be cropped away.
		for y := 0; y < 480; y++ {
			for x := 0; x < 640; x++ {
				if x < 80 || x >= 560 {
					src.Set(x, y, 255, 0, 0)
				} else {
					src.Set(x, y, 0, 0, 255)
				}
			}
		}
		c := NewCropScaler(geo(640, 480), geo(300, 300))
		require.Equal(t, frame.Rect{X: 80, Width: 480, Height: 480}, c.Region)

		dst := &frame.Frame{}
		require.NoError(t, c.Apply(dst, src))
		require.Equal(t, geo(300, 300), dst.Geometry())
		for y := 0; y < 300; y += 37 {
			for x := 0; x < 300; x += 37 {
				b, g, r := dst.At(x, y)
				assert.Equal(t, []byte{0, 0, 255}, []byte{b, g, r}, "pixel %d,%d", x, y)
			}
		}
	})

	t.Run("equal geometry copies", func(t *testing.T) {
		src := frame.New(geo(4, 2))
		src.Set(1, 1, 9, 8, 7)
		c := NewCropScaler(geo(4, 2), geo(4, 2))
		assert.True(t, c.Region.Empty())
		dst := &frame.Frame{}
		require.NoError(t, c.Apply(dst, src))
		assert.Equal(t, src.Pix, dst.Pix)
	})

	t.Run("uniform color survives scaling", func(t *testing.T) {
		src := frame.New(geo(640, 480))
		src.Fill(10, 20, 30)
		out, err := CropAndScale(src, frame.Rect{}, geo(320, 240))
		require.NoError(t, err)
		require.Equal(t, geo(320, 240), out.Geometry())
		for i := 0; i < len(out.Pix); i += 3 {
			require.Equal(t, []byte{10, 20, 30}, out.Pix[i:i+3])
		}
	})

	t.Run("region outside frame", func(t *testing.T) {
		src := frame.New(geo(100, 100))
		_, err := CropAndScale(src, frame.Rect{X: 50, Width: 80, Height: 10}, geo(10, 10))
		assert.True(t, util.IsKind(err, util.KindDimensionMismatch))
	})
}

func TestMaskScaler(t *testing.T) {
	src := frame.NewMask(geo(256, 256))
	src.Fill(255)
	dst := &frame.Mask{}
	var s MaskScaler
	s.Apply(dst, src, geo(640, 480))
	require.Equal(t, geo(640, 480), dst.Geometry())
	for _, v := range dst.Pix {
		require.Equal(t, byte(255), v)
	}
}
