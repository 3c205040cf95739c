// Command meanfilter smooths an image with a parallel box filter.
//
// Usage:
//
//	meanfilter -input photo.png -output out.jpg -kernel 7 -workers 4
//	meanfilter photo.png 4
//
// The second form writes filtered_output.jpg with a 7x7 kernel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go-meanfilter/pkg/blur"
	"go-meanfilter/pkg/imageio"
	"go-meanfilter/pkg/stats"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

type options struct {
	input       string
	output      string
	kernelSize  int
	workers     int
	maxParallel int
	quality     int
	writeStats  bool
	logsDir     string
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("meanfilter: ")

	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Print(err)
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Print(err)
		os.Exit(exitCode(err))
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	opts := &options{}
	fs.StringVar(&opts.input, "input", "", "Input image path")
	fs.StringVar(&opts.output, "output", "filtered_output.jpg", "Output image path (.jpg, .png, .bmp, .tiff)")
	fs.IntVar(&opts.kernelSize, "kernel", 7, "Mean kernel size")
	fs.IntVar(&opts.workers, "workers", 4, "Number of row bands")
	fs.IntVar(&opts.maxParallel, "max-parallel", 0, "Bands filtered at once (0 = GOMAXPROCS)")
	fs.IntVar(&opts.quality, "quality", imageio.DefaultQuality, "JPEG quality")
	fs.BoolVar(&opts.writeStats, "stats", false, "Write a performance report")
	fs.StringVar(&opts.logsDir, "logs", "logs", "Directory for performance reports")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// meanfilter <input_file> <workers>
	rest := fs.Args()
	if opts.input == "" && len(rest) > 0 {
		opts.input = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, fmt.Errorf("invalid worker count %q: %w", rest[0], err)
		}
		opts.workers = n
		rest = rest[1:]
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", rest)
	}
	if opts.input == "" {
		return nil, errors.New("usage: meanfilter [flags] <input_file> [workers]")
	}
	return opts, nil
}

func run(ctx context.Context, opts *options) error {
	startTime := time.Now()
	log.Printf("Kernel size: %d, workers: %d", opts.kernelSize, opts.workers)

	img, err := imageio.Load(opts.input)
	if err != nil {
		return err
	}
	// Reject bad settings before doing any work.
	if err := blur.Validate(img, opts.kernelSize, opts.workers); err != nil {
		return err
	}

	log.Printf("Processing %s (%dx%d)", opts.input, img.Width, img.Height)
	filtered, report, err := blur.Apply(ctx, img, opts.kernelSize, opts.workers,
		blur.WithMaxParallel(opts.maxParallel))
	if err != nil {
		return err
	}

	if err := imageio.Save(opts.output, filtered, opts.quality); err != nil {
		return err
	}

	totalTime := time.Since(startTime).Seconds()
	log.Printf("Saved %s (filter %.3fs, total %.3fs)", opts.output, report.Elapsed.Seconds(), totalTime)

	if opts.writeStats {
		path, err := writeReport(opts, report, totalTime, startTime)
		if err != nil {
			log.Printf("Failed to write performance report: %v", err)
		} else {
			log.Printf("Results written to %s", path)
		}
	}
	return nil
}

func writeReport(opts *options, report *blur.Report, totalTime float64, startTime time.Time) (string, error) {
	durations := make([]time.Duration, len(report.Bands))
	for i, b := range report.Bands {
		durations[i] = b.Duration
	}
	summary, err := stats.SummarizeBands(durations)
	if err != nil {
		return "", err
	}
	filterTime := report.Elapsed.Seconds()

	return stats.WritePerformanceResults(opts.logsDir, []stats.PerformanceData{{
		AlgorithmName:   "Band Parallel",
		ImagesProcessed: 1,
		KernelSize:      report.KernelSize,
		TotalTime:       totalTime,
		AverageTime:     totalTime,
		InputPaths:      []string{opts.input},
		OutputPaths:     []string{opts.output},
		Timestamp:       startTime,
		TotalFilterTime: &filterTime,
		Workers:         &report.Workers,
		MaxParallel:     &report.MaxParallel,
		Bands:           summary,
	}})
}

func exitCode(err error) int {
	if errors.Is(err, blur.ErrInvalidConfig) {
		return exitUsage
	}
	return exitFailure
}
