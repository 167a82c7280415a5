// Package config loads and validates the startup configuration and watches
// the runtime toggles file.
package config

import (
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"backdrop/util"
	"backdrop/video/frame"
)

// MaxAspect is the widest aspect ratio accepted for the virtual camera, in
// either orientation.
const MaxAspect = 2.726

// DefaultBlur is used when blur is requested without a strength.
const DefaultBlur = 25

// Keys shared by flags, the config file and BACKDROP_* environment variables.
const (
	KeyCamera          = "camera"
	KeyVirtual         = "virtual"
	KeyCaptureGeometry = "capture_geometry"
	KeyVirtualGeometry = "virtual_geometry"
	KeyFormat          = "format"
	KeyThreads         = "threads"
	KeyModel           = "model"
	KeyModelInput      = "model_input"
	KeyBackground      = "background"
	KeyPostProcess     = "postprocess"
	KeyMaxFPS          = "max_fps"
	KeyFlipHorizontal  = "flip_horizontal"
	KeyFlipVertical    = "flip_vertical"
	KeyVideoDelayed    = "video_delayed"
	KeyDebugTiming     = "debug_timing"
	KeyHTTP            = "http"
	KeyRuntime         = "runtime"
	KeyLogLevel        = "log_level"
)

type Config struct {
	Camera  string
	Virtual string

	CaptureGeometry frame.Geometry
	// Zero means same as the negotiated capture geometry.
	VirtualGeometry frame.Geometry
	Format          uint32

	Threads    int
	Model      string
	ModelInput frame.Geometry

	Background   string
	BlurStrength int
	MaxFPS       int

	FlipHorizontal bool
	FlipVertical   bool
	VideoDelayed   bool
	DebugTiming    bool

	HTTPAddr    string
	RuntimeFile string
	LogLevel    log.Level
}

// SetDefaults installs the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyCaptureGeometry, "640x480")
	v.SetDefault(KeyThreads, 2)
	v.SetDefault(KeyModel, "selfie_segmentation.onnx")
	v.SetDefault(KeyModelInput, "256x256")
	v.SetDefault(KeyLogLevel, "info")
}

// New returns a viper instance reading BACKDROP_* environment variables
// and, when path is set, a config file.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("backdrop")
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, util.Wrap(util.KindConfiguration, "read config", err)
		}
	}
	return v, nil
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		Camera:         DevicePath(v.GetString(KeyCamera)),
		Virtual:        DevicePath(v.GetString(KeyVirtual)),
		Threads:        v.GetInt(KeyThreads),
		Model:          v.GetString(KeyModel),
		Background:     v.GetString(KeyBackground),
		MaxFPS:         v.GetInt(KeyMaxFPS),
		FlipHorizontal: v.GetBool(KeyFlipHorizontal),
		FlipVertical:   v.GetBool(KeyFlipVertical),
		VideoDelayed:   v.GetBool(KeyVideoDelayed),
		DebugTiming:    v.GetBool(KeyDebugTiming),
		HTTPAddr:       v.GetString(KeyHTTP),
		RuntimeFile:    v.GetString(KeyRuntime),
	}

	var err error
	if c.CaptureGeometry, err = ParseGeometry(v.GetString(KeyCaptureGeometry)); err != nil {
		return nil, err
	}
	if c.VirtualGeometry, err = ParseGeometry(v.GetString(KeyVirtualGeometry)); err != nil {
		return nil, err
	}
	c.VirtualGeometry = c.VirtualGeometry.Even()
	if c.ModelInput, err = ParseGeometry(v.GetString(KeyModelInput)); err != nil {
		return nil, err
	}
	if c.Format, err = ParseFourCC(v.GetString(KeyFormat)); err != nil {
		return nil, err
	}
	if c.BlurStrength, err = ParsePostProcess(v.GetString(KeyPostProcess)); err != nil {
		return nil, err
	}
	if c.LogLevel, err = log.ParseLevel(v.GetString(KeyLogLevel)); err != nil {
		return nil, util.Wrap(util.KindConfiguration, "log level", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	model, ok := ResolvePath(c.Model, "models")
	if !ok {
		return nil, util.Errorf(util.KindConfiguration, "load config", "unable to find model %s", c.Model)
	}
	c.Model = model
	if c.Background != "" {
		if bg, ok := ResolvePath(c.Background, "backgrounds"); ok {
			c.Background = bg
		} else {
			log.Warnf("Background %s not found, using solid color", c.Background)
			c.Background = ""
		}
	}
	return c, nil
}

// Validate checks everything that can be checked before a device is opened.
func (c *Config) Validate() error {
	bad := func(format string, args ...interface{}) error {
		return util.Errorf(util.KindConfiguration, "validate config", format, args...)
	}
	switch {
	case c.Camera == "":
		return bad("a capture device is required")
	case c.Virtual == "":
		return bad("a virtual camera device is required")
	case c.CaptureGeometry.Empty():
		return bad("capture geometry %v", c.CaptureGeometry)
	case c.Threads < 1:
		return bad("threads must be at least 1, got %d", c.Threads)
	case c.MaxFPS < 0:
		return bad("max fps must not be negative, got %d", c.MaxFPS)
	case c.BlurStrength < 0 || (c.BlurStrength > 0 && c.BlurStrength%2 == 0):
		return bad("blur strength must be odd, got %d", c.BlurStrength)
	case c.Model == "":
		return bad("a segmentation model is required")
	case c.ModelInput.Empty():
		return bad("model input geometry %v", c.ModelInput)
	}
	if g := c.VirtualGeometry; !g.Empty() {
		w, h := float64(g.Width), float64(g.Height)
		if w/h > MaxAspect || h/w > MaxAspect {
			return bad("virtual geometry %v: aspect ratio too big", g)
		}
	}
	return nil
}

// Dump logs the configuration.
func (c *Config) Dump() {
	log.Infof("Loaded configuration: %v", spew.Sdump(c))
}

// ParseGeometry parses WIDTHxHEIGHT. The empty string is the zero geometry.
func ParseGeometry(s string) (frame.Geometry, error) {
	if s == "" {
		return frame.Geometry{}, nil
	}
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return frame.Geometry{}, util.Errorf(util.KindConfiguration, "parse geometry", "%q is not WIDTHxHEIGHT", s)
	}
	w, werr := strconv.Atoi(ws)
	h, herr := strconv.Atoi(hs)
	if werr != nil || herr != nil || w < 1 || h < 1 {
		return frame.Geometry{}, util.Errorf(util.KindConfiguration, "parse geometry", "wrong geometry %q", s)
	}
	return frame.Geometry{Width: w, Height: h}, nil
}

// ParseFourCC accepts up to four characters, upper-cased and space padded,
// or eight hex digits. The empty string means no format preference.
func ParseFourCC(s string) (uint32, error) {
	switch {
	case s == "":
		return 0, nil
	case len(s) <= 4:
		a := [4]byte{' ', ' ', ' ', ' '}
		copy(a[:], strings.ToUpper(s))
		return uint32(a[0]) | uint32(a[1])<<8 | uint32(a[2])<<16 | uint32(a[3])<<24, nil
	case len(s) == 8:
		// Taken as the numeric code: "47504A4D" is MJPG.
		v, err := strconv.ParseUint(s, 16, 32)
		if err == nil && v != 0 {
			return uint32(v), nil
		}
	}
	return 0, util.Errorf(util.KindConfiguration, "parse format", "invalid fourcc %q", s)
}

// ParsePostProcess parses "bgblur" or "bgblur:STRENGTH" into a blur
// strength. The empty string disables blurring.
func ParsePostProcess(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	key, value, hasValue := strings.Cut(s, ":")
	if key != "bgblur" {
		return 0, util.Errorf(util.KindConfiguration, "parse postprocess", "unknown post-processing option %q", s)
	}
	n, err := strconv.Atoi(value)
	if !hasValue || err != nil {
		log.Infof("No strength value supplied, using default strength %d", DefaultBlur)
		return DefaultBlur, nil
	}
	if n < 1 || n%2 == 0 {
		return 0, util.Errorf(util.KindConfiguration, "parse postprocess", "strength value must be odd and positive, got %d", n)
	}
	return n, nil
}

// DevicePath permits unprefixed device names such as "video0".
func DevicePath(s string) string {
	if s == "" || strings.HasPrefix(s, "/dev/") {
		return s
	}
	return "/dev/" + s
}
