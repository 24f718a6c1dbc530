package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"epdframe/internal/battery"
	"epdframe/internal/config"
	"epdframe/internal/convert"
	"epdframe/internal/epd"
	"epdframe/internal/frame"
	appLog "epdframe/internal/log"
	"epdframe/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	renderOnly bool
	clear      bool
	sleep      bool
	image      string
	debug      bool
}

// oneShot reports whether the invocation is a single action rather than the
// daemon.
func (f flagConfig) oneShot() bool {
	return f.once || f.clear || f.sleep || f.image != ""
}

func main() {
	os.Exit(run(parseFlags()))
}

// run is main without os.Exit so deferred closers release the bus.
func run(flags flagConfig) int {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	format, err := appLog.ParseFormat(conf.LogFormat)
	if err != nil {
		appLog.Warn("invalid log format, using console", "log_format", conf.LogFormat)
	}
	appLog.SetOutput(os.Stderr, format)
	level, err := appLog.ParseLevel(conf.LogLevel)
	if err != nil {
		appLog.Warn("invalid log level, using INFO", "log_level", conf.LogLevel)
	}
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	appLog.Info("epdframe starting",
		"listen", conf.Listen,
		"spi_port", conf.SPI.Port,
		"busy_timeout", conf.BusyTimeout,
		"background", conf.Background,
		"refresh", conf.RefreshCron,
		"render_only", flags.renderOnly,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	var panel frame.Panel
	if !flags.renderOnly {
		dev, closer, err := openPanel(conf)
		if err != nil {
			appLog.Error("failed to open panel", err, "pins", conf.Pins)
			return 1
		}
		defer closer.Close()
		appLog.Info("panel initialized", "dev", dev.String())
		panel = dev
	}

	f := frame.New(panel, frameOptions(conf))

	if flags.oneShot() {
		if err := runOnce(ctx, f, flags); err != nil {
			appLog.Error("one-shot run failed", err)
			return 1
		}
		return 0
	}

	var batt battery.Reader
	if conf.Battery.Enabled && !flags.renderOnly {
		g, closer, err := battery.Open(conf.Battery.Bus, conf.Battery.Addr)
		if err != nil {
			// The frame works without a gauge.
			appLog.Warn("battery gauge unavailable", "err", err)
		} else {
			defer closer.Close()
			batt = battery.Cached(g, 30*time.Second)
		}
	}

	if err := runDaemon(ctx, f, conf, batt); err != nil {
		appLog.Error("daemon failed", err)
		return 1
	}
	appLog.Info("epdframe exiting")
	return 0
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epdframe/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Show the configured source once and exit")
	flag.BoolVar(&cfg.renderOnly, "render-only", false, "Render previews only; do not touch display hardware")
	flag.BoolVar(&cfg.clear, "clear", false, "Clear the panel to the background color and exit")
	flag.BoolVar(&cfg.sleep, "sleep", false, "Put the panel into deep sleep before exiting")
	flag.StringVar(&cfg.image, "image", "", "Show this image file and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

func openPanel(conf *config.Config) (*epd.Dev, io.Closer, error) {
	opts := &epd.Opts{
		Speed: physic.Frequency(conf.SPI.SpeedHz) * physic.Hertz,
	}
	if conf.SPI.NoCS {
		opts.Mode |= spi.NoCS
	}
	if conf.BusyTimeout > 0 {
		opts.Wait = epd.Deadline(conf.BusyTimeout, busyPoll)
	}
	pins := epd.Pins{
		CS:   conf.Pins.CS,
		DC:   conf.Pins.DC,
		RST:  conf.Pins.RST,
		Busy: conf.Pins.Busy,
	}
	return epd.Open(conf.SPI.Port, pins, opts)
}

func frameOptions(conf *config.Config) frame.Options {
	return frame.Options{
		Width:       epd.Width,
		Height:      epd.Height,
		Scale:       convert.Scale(conf.Scale),
		Dither:      conf.Dither,
		Rotate:      conf.Rotate,
		Background:  conf.Background,
		SleepAfter:  true,
		PreviewPath: conf.PreviewPath,
		Source:      conf.Source,
	}
}

// runOnce performs the actions requested on the command line in a fixed
// order: clear, show, sleep.
func runOnce(ctx context.Context, f *frame.Frame, flags flagConfig) error {
	if flags.clear {
		if err := f.Clear(nil); err != nil {
			return err
		}
	}
	switch {
	case flags.image != "":
		fh, err := os.Open(flags.image)
		if err != nil {
			return err
		}
		defer fh.Close()
		img, _, err := convert.Decode(fh)
		if err != nil {
			return err
		}
		if err := f.Show(img); err != nil {
			return err
		}
	case flags.once:
		if err := f.Refresh(ctx); err != nil {
			return err
		}
	}
	if flags.sleep {
		return f.Sleep()
	}
	return nil
}

// runDaemon refreshes on the cron schedule and serves the API until ctx is
// canceled. Pending refreshes finish before the panel is put to sleep.
func runDaemon(ctx context.Context, f *frame.Frame, conf *config.Config, batt battery.Reader) error {
	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))
	var startup sync.WaitGroup
	if conf.RefreshCron != "" && !conf.Source.Empty() {
		if _, err := c.AddFunc(conf.RefreshCron, func() { refresh(ctx, f) }); err != nil {
			return err
		}
		c.Start()
		appLog.Info("scheduled refresh", "cron", conf.RefreshCron)

		// Show something right away instead of waiting for the first tick.
		startup.Add(1)
		go func() {
			defer startup.Done()
			refresh(ctx, f)
		}()
	}

	var err error
	if conf.Listen != "" {
		err = web.StartServer(ctx, conf, f, batt)
		if err != nil {
			appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		}
	} else {
		<-ctx.Done()
	}

	<-c.Stop().Done()
	startup.Wait()

	if sleepErr := f.Sleep(); sleepErr != nil {
		err = errors.Join(err, sleepErr)
	}
	return err
}

func refresh(ctx context.Context, f *frame.Frame) {
	if err := f.Refresh(ctx); err != nil {
		appLog.Error("scheduled refresh failed", err)
	}
}
