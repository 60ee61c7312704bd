// Command ffupload uploads one G-code file to a Flashforge printer and waits
// until the printer starts building it.
//
//	ffupload -host 192.168.1.50 -file cube.gcode -thumbnail cube.png -material-length 1.2
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/signal"
	"syscall"

	_ "golang.org/x/image/bmp"

	"github.com/arloliu/go-flashforge/device"
	"github.com/arloliu/go-flashforge/gx"
	"github.com/arloliu/go-flashforge/internal/config"
	"github.com/arloliu/go-flashforge/logger"
	"github.com/arloliu/go-flashforge/transfer"
)

var log logger.Logger

type progressReporter struct {
	done chan error
}

func (r *progressReporter) AttemptStarted(job *transfer.PrintJob, attempt int) {
	log.Info(fmt.Sprintf("Uploading %s (Attempt %d)...", job.FileName, attempt))
}

func (r *progressReporter) Progress(_ *transfer.PrintJob, percent float64) {
	log.Debug("upload progress", "percent", fmt.Sprintf("%.1f", percent))
}

func (r *progressReporter) Completed(job *transfer.PrintJob) {
	log.Info("print started", "file", job.FileName)
	r.done <- nil
}

func (r *progressReporter) Failed(job *transfer.PrintJob, err error) {
	log.Error("upload failed", "file", job.FileName, "error", err)
	r.done <- err
}

func loadThumbnail(path string) device.ThumbnailSource {
	if path == "" {
		return nil
	}

	return device.ThumbnailFunc(func(context.Context) ([]byte, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		img, _, err := image.Decode(f)
		if err != nil {
			return nil, err
		}

		return gx.BitmapFromImage(img)
	})
}

func run() error {
	configPath := flag.String("config", "", "TOML configuration file")
	host := flag.String("host", "", "printer address, overrides [printer] address")
	file := flag.String("file", "", "G-code file to upload (required)")
	thumbnail := flag.String("thumbnail", "", "thumbnail image (png, jpeg or bmp)")
	name := flag.String("name", "", "remote file name, defaults to the G-code file name")
	material := flag.String("material", "", "material name")
	materialLength := flag.Float64("material-length", 0, "filament usage in metres")
	logLevel := flag.String("log-level", "", "log level, overrides log_level")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *host != "" {
		cfg.Printer.Address = *host
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log = logger.NewSlog(cfg.Level(), false)
	logger.SetLogger(log)

	if *file == "" {
		flag.Usage()
		return errors.New("-file is required")
	}
	if cfg.Printer.Address == "" {
		return errors.New("printer address is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rep := &progressReporter{done: make(chan error, 1)}
	d, err := device.New(ctx, cfg.Printer.Identity, cfg.Printer.Address,
		device.WithName(cfg.Printer.Name),
		device.WithEncoder(gx.NewEncoder(cfg.EncoderOptions(log)...)),
		device.WithTransferOptions(cfg.TransferOptions()...),
		device.WithReporter(rep),
		device.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer d.Close()

	info := gx.JobInfo{}
	if *materialLength > 0 {
		info.MaterialLengths = []float64{*materialLength}
	}
	if *material != "" {
		info.MaterialNames = []string{*material}
	}

	fileName := *name
	if fileName == "" {
		fileName = *file
	}

	job, err := d.RequestWrite(ctx, device.WriteRequest{
		FileName: fileName,
		Info:     info,
		GCode: device.GCodeFunc(func(context.Context) (string, error) {
			data, err := os.ReadFile(*file)
			return string(data), err
		}),
		Thumbnail: loadThumbnail(*thumbnail),
	})
	if err != nil {
		return err
	}

	log.Info("upload started", "file", job.FileName, "size", job.Size(), "printer", d.Address())

	select {
	case err := <-rep.done:
		return err
	case <-ctx.Done():
		return errors.New("interrupted")
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ffupload:", err)
		os.Exit(1)
	}
}
