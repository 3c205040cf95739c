// Command benchmark filters the same images at several worker counts and
// writes one combined performance report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go-meanfilter/pkg/blur"
	"go-meanfilter/pkg/common"
	"go-meanfilter/pkg/imageio"
	"go-meanfilter/pkg/stats"
)

func main() {
	var (
		inputDir    = flag.String("input", "data/input", "Input directory")
		outputDir   = flag.String("output", "data/benchmark_output", "Output directory")
		kernelSize  = flag.Int("kernel", 7, "Mean kernel size")
		workerList  = flag.String("workers", "1,2,4,8", "Comma separated worker counts")
		maxParallel = flag.Int("max-parallel", 0, "Bands filtered at once (0 = GOMAXPROCS)")
		logsDir     = flag.String("logs", "logs", "Directory for the results file")
	)
	flag.Parse()

	counts, err := parseWorkerCounts(*workerList)
	if err != nil {
		log.Printf("Invalid -workers: %v", err)
		os.Exit(2)
	}

	inputPaths, err := imageio.FindImages(*inputDir)
	if err != nil {
		log.Fatalf("Failed to list images: %v", err)
	}
	if len(inputPaths) == 0 {
		log.Fatalf("No images found in %s", *inputDir)
	}

	images := make([]*common.Image, len(inputPaths))
	for i, path := range inputPaths {
		if images[i], err = imageio.Load(path); err != nil {
			log.Fatalf("Failed to load image: %v", err)
		}
	}

	fmt.Printf("Running mean filter at %d worker counts over %d images...\n\n", len(counts), len(images))

	var results []stats.PerformanceData
	var reference []*common.Image
	for i, workers := range counts {
		fmt.Printf("%d. Running with %d workers:\n", i+1, workers)
		outDir := filepath.Join(*outputDir, fmt.Sprintf("w%d", workers))
		result, filtered, err := runWorkers(images, inputPaths, outDir, *kernelSize, workers, *maxParallel)
		if err != nil {
			log.Fatalf("Run with %d workers failed: %v", workers, err)
		}
		if reference == nil {
			reference = filtered
		} else if i := firstMismatch(reference, filtered); i >= 0 {
			log.Fatalf("Output of %s differs between %d and %d workers", inputPaths[i], counts[0], workers)
		}
		results = append(results, *result)
		fmt.Println()
	}

	fmt.Println("All runs completed!")
	path, err := stats.WritePerformanceResultsWithPrefix(*logsDir, results, "benchmark_")
	if err != nil {
		log.Fatalf("Failed to write results: %v", err)
	}
	fmt.Printf("Results written to %s\n", path)
}

func parseWorkerCounts(s string) ([]int, error) {
	var counts []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("worker count %d must be at least 1", n)
		}
		counts = append(counts, n)
	}
	if len(counts) == 0 {
		return nil, fmt.Errorf("no worker counts in %q", s)
	}
	return counts, nil
}

// runWorkers filters every image with the given worker count, clamped to each
// image's height, and saves the results under outDir.
func runWorkers(images []*common.Image, inputPaths []string, outDir string, kernelSize, workers, maxParallel int) (*stats.PerformanceData, []*common.Image, error) {
	startTime := time.Now()
	var filterTime float64
	var durations []time.Duration
	outputPaths := make([]string, len(images))
	filtered := make([]*common.Image, len(images))
	parallel := 0

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create output directory: %w", err)
	}

	for i, img := range images {
		out, report, err := blur.Apply(context.Background(), img, kernelSize, min(workers, img.Height),
			blur.WithMaxParallel(maxParallel))
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", inputPaths[i], err)
		}
		filterTime += report.Elapsed.Seconds()
		parallel = max(parallel, report.MaxParallel)
		for _, b := range report.Bands {
			durations = append(durations, b.Duration)
		}

		outputPaths[i] = imageio.OutputPath(outDir, inputPaths[i], ".png")
		if err := imageio.Save(outputPaths[i], out, 0); err != nil {
			return nil, nil, err
		}
		filtered[i] = out
		fmt.Printf("  %s filtered in %.3fs\n", filepath.Base(inputPaths[i]), report.Elapsed.Seconds())
	}

	summary, err := stats.SummarizeBands(durations)
	if err != nil {
		return nil, nil, err
	}
	totalTime := time.Since(startTime).Seconds()
	return &stats.PerformanceData{
		AlgorithmName:   fmt.Sprintf("Band Parallel (%d workers)", workers),
		ImagesProcessed: len(images),
		KernelSize:      kernelSize,
		TotalTime:       totalTime,
		AverageTime:     totalTime / float64(len(images)),
		InputPaths:      inputPaths,
		OutputPaths:     outputPaths,
		Timestamp:       startTime,
		TotalFilterTime: &filterTime,
		Workers:         &workers,
		MaxParallel:     &parallel,
		Bands:           summary,
	}, filtered, nil
}

func firstMismatch(a, b []*common.Image) int {
	for i := range a {
		if !a[i].Equal(b[i]) {
			return i
		}
	}
	return -1
}
