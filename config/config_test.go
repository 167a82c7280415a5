package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backdrop/util"
	"backdrop/video/frame"
)

func TestParseGeometry(t *testing.T) {
	for in, want := range map[string]frame.Geometry{
		"":          {},
		"640x480":   {Width: 640, Height: 480},
		"1920X1080": {Width: 1920, Height: 1080},
	} {
		got, err := ParseGeometry(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"640", "0x480", "640x-1", "axb", "640x480x3"} {
		_, err := ParseGeometry(in)
		assert.True(t, util.IsKind(err, util.KindConfiguration), in)
	}
}

func TestParseFourCC(t *testing.T) {
	for in, want := range map[string]uint32{
		"":         0,
		"MJPG":     0x47504A4D,
		"mjpg":     0x47504A4D,
		"yuyv":     0x56595559,
		"H26":      0x20363248,
		"47504A4D": 0x47504A4D,
	} {
		got, err := ParseFourCC(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"MJPEG", "zzzzzzzz", "00000000"} {
		_, err := ParseFourCC(in)
		assert.True(t, util.IsKind(err, util.KindConfiguration), in)
	}
}

func TestParsePostProcess(t *testing.T) {
	for in, want := range map[string]int{
		"":          0,
		"bgblur":    DefaultBlur,
		"bgblur:":   DefaultBlur,
		"bgblur:x":  DefaultBlur,
		"bgblur:15": 15,
		"bgblur:1":  1,
	} {
		got, err := ParsePostProcess(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"bgblur:4", "bgblur:-3", "sharpen:3"} {
		_, err := ParsePostProcess(in)
		assert.True(t, util.IsKind(err, util.KindConfiguration), in)
	}
}

func TestDevicePath(t *testing.T) {
	assert.Equal(t, "/dev/video0", DevicePath("video0"))
	assert.Equal(t, "/dev/video0", DevicePath("/dev/video0"))
	assert.Equal(t, "", DevicePath(""))
}

func validConfig() *Config {
	return &Config{
		Camera:          "/dev/video0",
		Virtual:         "/dev/video1",
		CaptureGeometry: frame.Geometry{Width: 640, Height: 480},
		Threads:         2,
		Model:           "model.onnx",
		ModelInput:      frame.Geometry{Width: 256, Height: 256},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	for name, mod := range map[string]func(c *Config){
		"no camera":    func(c *Config) { c.Camera = "" },
		"no virtual":   func(c *Config) { c.Virtual = "" },
		"no capture":   func(c *Config) { c.CaptureGeometry = frame.Geometry{} },
		"threads":      func(c *Config) { c.Threads = 0 },
		"max fps":      func(c *Config) { c.MaxFPS = -1 },
		"even blur":    func(c *Config) { c.BlurStrength = 24 },
		"no model":     func(c *Config) { c.Model = "" },
		"model input":  func(c *Config) { c.ModelInput = frame.Geometry{} },
		"too wide":     func(c *Config) { c.VirtualGeometry = frame.Geometry{Width: 2800, Height: 1000} },
		"too tall":     func(c *Config) { c.VirtualGeometry = frame.Geometry{Width: 100, Height: 280} },
	} {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mod(c)
			assert.True(t, util.IsKind(c.Validate(), util.KindConfiguration))
		})
	}

	c := validConfig()
	c.VirtualGeometry = frame.Geometry{Width: 2726, Height: 1000}
	assert.NoError(t, c.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.onnx")
	require.NoError(t, os.WriteFile(model, []byte("x"), 0o644))

	t.Setenv("BACKDROP_THREADS", "4")
	v, err := New("")
	require.NoError(t, err)
	v.Set(KeyCamera, "video0")
	v.Set(KeyVirtual, "video9")
	v.Set(KeyVirtualGeometry, "641x480")
	v.Set(KeyModel, model)
	v.Set(KeyFormat, "mjpg")
	v.Set(KeyPostProcess, "bgblur")
	v.Set(KeyBackground, filepath.Join(dir, "missing.png"))
	v.Set(KeyMaxFPS, 15)

	c, err := Load(v)
	require.NoError(t, err)
	want := &Config{
		Camera:          "/dev/video0",
		Virtual:         "/dev/video9",
		CaptureGeometry: frame.Geometry{Width: 640, Height: 480},
		VirtualGeometry: frame.Geometry{Width: 642, Height: 480},
		Format:          0x47504A4D,
		Threads:         4,
		Model:           model,
		ModelInput:      frame.Geometry{Width: 256, Height: 256},
		BlurStrength:    DefaultBlur,
		MaxFPS:          15,
		LogLevel:        log.InfoLevel,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	v.Set(KeyModel, filepath.Join(dir, "nope.onnx"))
	_, err = Load(v)
	assert.True(t, util.IsKind(err, util.KindConfiguration))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "model.onnx")
	require.NoError(t, os.WriteFile(model, []byte("x"), 0o644))
	path := filepath.Join(dir, "backdrop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"camera: /dev/video2\nvirtual: video3\nmodel: "+model+"\nvideo_delayed: true\nlog_level: debug\n"), 0o644))

	v, err := New(path)
	require.NoError(t, err)
	c, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "/dev/video2", c.Camera)
	assert.Equal(t, "/dev/video3", c.Virtual)
	assert.True(t, c.VideoDelayed)
	assert.Equal(t, log.DebugLevel, c.LogLevel)

	_, err = New(filepath.Join(dir, "absent.yaml"))
	assert.True(t, util.IsKind(err, util.KindConfiguration))
}
