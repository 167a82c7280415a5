package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"backdrop/config"
	"backdrop/serve"
	"backdrop/util"
	"backdrop/video"
	"backdrop/video/loopback"
	"backdrop/video/mask"
	"backdrop/video/process"
	"backdrop/video/sink"
	"backdrop/video/source"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "backdrop -c CAMERA -v VIRTUAL",
		Short: "Replace the background of a webcam and publish it as a virtual camera",
		Long: `backdrop reads a camera, segments the person in front of it and writes the
composited result to a v4l2loopback device that any video application can open.

The background is a still image or video, a blurred copy of the camera image,
or a solid green screen.`,
		Example: `  # Blur the background of /dev/video0 into /dev/video9
  backdrop -c video0 -v video9 -p bgblur:31

  # Use an image, capture at 1280x720 and publish at 640x360
  backdrop -c video0 -v video9 --cg 1280x720 --vg 640x360 -b beach.jpg`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVar(&cfgFile, "config", "", "config file (yaml or json)")
	f.StringP("camera", "c", "", "capture device, e.g. video0")
	f.StringP("virtual", "v", "", "v4l2loopback device, e.g. video9")
	f.String("cg", "", "capture geometry WIDTHxHEIGHT (default 640x480)")
	f.String("vg", "", "virtual camera geometry WIDTHxHEIGHT (default: capture geometry)")
	f.StringP("format", "f", "", "capture fourcc, e.g. MJPG")
	f.IntP("threads", "t", 0, "threads for mask post-processing (default 2)")
	f.StringP("model", "m", "", "segmentation model")
	f.String("model-input", "", "model input geometry (default 256x256)")
	f.StringP("background", "b", "", "background image, video or stream URL")
	f.StringP("postprocess", "p", "", "post-processing, bgblur[:STRENGTH]")
	f.BoolP("flip-horizontal", "H", false, "mirror the output horizontally")
	f.BoolP("flip-vertical", "V", false, "mirror the output vertically")
	f.Int("max-fps", 0, "cap the processed frame rate")
	f.Bool("video-delayed", false, "show each frame with the mask computed from it, one frame late")
	f.Bool("debug-timing", false, "log per-stage timings once per second")
	f.String("http", "", "address for /metrics, /stats, /statsws and /preview, e.g. :8080")
	f.String("runtime", "", "JSON file with runtime toggles, reloaded on change")
	f.String("log-level", "", "log level (debug, info, warn, error)")
}

// Flag name to config key.
var flagKeys = map[string]string{
	"camera":          config.KeyCamera,
	"virtual":         config.KeyVirtual,
	"cg":              config.KeyCaptureGeometry,
	"vg":              config.KeyVirtualGeometry,
	"format":          config.KeyFormat,
	"threads":         config.KeyThreads,
	"model":           config.KeyModel,
	"model-input":     config.KeyModelInput,
	"background":      config.KeyBackground,
	"postprocess":     config.KeyPostProcess,
	"flip-horizontal": config.KeyFlipHorizontal,
	"flip-vertical":   config.KeyFlipVertical,
	"max-fps":         config.KeyMaxFPS,
	"video-delayed":   config.KeyVideoDelayed,
	"debug-timing":    config.KeyDebugTiming,
	"http":            config.KeyHTTP,
	"runtime":         config.KeyRuntime,
	"log-level":       config.KeyLogLevel,
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.New(cfgFile)
	if err != nil {
		return nil, err
	}
	for name, key := range flagKeys {
		// Only flags given on the command line override file and environment.
		if fl := cmd.Flags().Lookup(name); fl != nil && fl.Changed {
			if err := v.BindPFlag(key, fl); err != nil {
				return nil, util.Wrap(util.KindConfiguration, "bind flag "+name, err)
			}
		}
	}
	return config.Load(v)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log.SetLevel(cfg.LogLevel)
	session := uuid.NewString()
	log.AddHook(&util.FieldHook{Fields: log.Fields{"session": session}})
	cfg.Dump()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The camera is opened first since its negotiated geometry decides the
	// output geometry.
	camera, err := source.OpenCamera(cfg.Camera, cfg.CaptureGeometry, cfg.Format)
	if err != nil {
		return err
	}
	defer camera.Close()

	outGeo := cfg.VirtualGeometry
	if outGeo.Empty() {
		outGeo = camera.Geometry().Even()
	}

	var background video.Background
	var thumbs process.Thumbnailer
	if cfg.Background != "" {
		bg, err := source.OpenBackground(cfg.Background)
		if err != nil {
			log.Warnf("Could not load background, defaulting to green: %v", err)
		} else {
			defer bg.Close()
			background, thumbs = bg, bg
		}
	}

	dev, err := loopback.Open(cfg.Virtual, outGeo)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Errorf("Closing %s: %v", cfg.Virtual, err)
		}
	}()

	seg, err := process.NewSegmenter(cfg.Model, cfg.ModelInput, cfg.Threads)
	if err != nil {
		return err
	}
	engine := mask.New(seg, outGeo)
	defer func() {
		if err := engine.Close(); err != nil && !util.IsKind(err, util.KindInference) {
			log.Errorf("Stopping mask engine: %v", err)
		}
	}()

	var blur video.Blurrer
	if cfg.BlurStrength > 0 {
		b := process.NewBlur()
		defer b.Close()
		blur = b
	}

	live := config.NewLive(cfg.DefaultToggles())
	if cfg.RuntimeFile != "" {
		if err := live.Watch(ctx, cfg.RuntimeFile); err != nil {
			log.Warnf("Runtime toggles unavailable, using defaults: %v", err)
		}
	}

	opts := video.Options{
		Capture:        camera,
		Output:         dev,
		Engine:         engine,
		Background:     background,
		Blur:           blur,
		OutputGeometry: outGeo,
		MaxFPS:         cfg.MaxFPS,
		BlurStrength:   cfg.BlurStrength,
		Delayed:        cfg.VideoDelayed,
		DebugTiming:    cfg.DebugTiming,
		Toggles:        live.Get,
		Session:        session,
	}

	var mjpeg *sink.MJPEGServer
	if cfg.HTTPAddr != "" {
		mjpeg = sink.NewMJPEGServer()
		preview := process.NewPreview(mjpeg, thumbs)
		defer preview.Close()
		opts.Preview = preview
	}

	pipeline, err := video.New(opts)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"capture": camera.Geometry().String(),
		"output":  outGeo.String(),
		"divisor": pipeline.Divisor(),
	}).Info("Streaming")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.Run(gctx)
	})
	if mjpeg != nil {
		srv := serve.NewServer(serve.Options{
			Addr:    cfg.HTTPAddr,
			Status:  pipeline,
			Preview: mjpeg,
		})
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err = g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		log.Info("Shutting down")
		return nil
	}
	log.Errorf("Stopping: %v", err)
	return err
}
