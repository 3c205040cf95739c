package stats

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	mstats "github.com/montanaflynn/stats"
)

// PerformanceData holds timing and metadata for one filter mode.
type PerformanceData struct {
	AlgorithmName   string
	ImagesProcessed int
	KernelSize      int
	TotalTime       float64
	AverageTime     float64
	InputPaths      []string
	OutputPaths     []string
	Timestamp       time.Time

	// Mode-specific data
	TotalFilterTime *float64     // local runs
	Workers         *int         // band count
	MaxParallel     *int         // concurrently running bands
	Bands           *BandSummary // per-band durations
}

// BandSummary describes the spread of per-band durations in seconds.
type BandSummary struct {
	Count  int
	Mean   float64
	Median float64
	Max    float64
	StdDev float64
}

// SummarizeBands reduces band durations to a BandSummary.
func SummarizeBands(durations []time.Duration) (*BandSummary, error) {
	if len(durations) == 0 {
		return nil, fmt.Errorf("no band durations to summarize")
	}
	secs := make(mstats.Float64Data, len(durations))
	for i, d := range durations {
		secs[i] = d.Seconds()
	}

	mean, err := secs.Mean()
	if err != nil {
		return nil, fmt.Errorf("mean band time: %w", err)
	}
	median, err := secs.Median()
	if err != nil {
		return nil, fmt.Errorf("median band time: %w", err)
	}
	maxTime, err := secs.Max()
	if err != nil {
		return nil, fmt.Errorf("max band time: %w", err)
	}
	stddev, err := secs.StandardDeviation()
	if err != nil {
		return nil, fmt.Errorf("band time deviation: %w", err)
	}

	return &BandSummary{
		Count:  len(durations),
		Mean:   mean,
		Median: median,
		Max:    maxTime,
		StdDev: stddev,
	}, nil
}

// WritePerformanceResults writes a single combined results file under dir
// and returns its path.
func WritePerformanceResults(dir string, results []PerformanceData) (string, error) {
	return WritePerformanceResultsWithPrefix(dir, results, "meanfilter_")
}

// WritePerformanceResultsWithPrefix writes results file with custom prefix
func WritePerformanceResultsWithPrefix(dir string, results []PerformanceData, prefix string) (string, error) {
	if len(results) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create results directory: %w", err)
	}

	// Use timestamp from first result
	timestamp := results[0].Timestamp.Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(dir, fmt.Sprintf("%s%s.txt", prefix, timestamp))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "=== Mean Filter Results ===\n")
	fmt.Fprintf(&buf, "Timestamp: %s\n\n", results[0].Timestamp.Format("2006-01-02 15:04:05"))

	for _, result := range results {
		fmt.Fprintf(&buf, "=== %s Results ===\n", result.AlgorithmName)
		fmt.Fprintf(&buf, "Images processed: %d\n", result.ImagesProcessed)
		fmt.Fprintf(&buf, "Kernel size: %d\n", result.KernelSize)

		if result.TotalFilterTime != nil {
			fmt.Fprintf(&buf, "Total filter time: %.3fs\n", *result.TotalFilterTime)
		}

		fmt.Fprintf(&buf, "Total execution time: %.3fs\n", result.TotalTime)
		fmt.Fprintf(&buf, "Average time per image: %.3fs\n", result.AverageTime)

		if result.Workers != nil {
			fmt.Fprintf(&buf, "Workers: %d\n", *result.Workers)
		}
		if result.MaxParallel != nil {
			fmt.Fprintf(&buf, "Max parallel: %d\n", *result.MaxParallel)
		}
		if b := result.Bands; b != nil {
			fmt.Fprintf(&buf, "Bands: %d (mean %.4fs, median %.4fs, max %.4fs, stddev %.4fs)\n",
				b.Count, b.Mean, b.Median, b.Max, b.StdDev)
		}

		fmt.Fprintf(&buf, "\nInput files:\n")
		for i, path := range result.InputPaths {
			fmt.Fprintf(&buf, "  %d. %s\n", i+1, path)
		}

		fmt.Fprintf(&buf, "\nOutput files:\n")
		for i, path := range result.OutputPaths {
			fmt.Fprintf(&buf, "  %d. %s\n", i+1, path)
		}

		fmt.Fprintf(&buf, "\n")
	}

	if err := os.WriteFile(resultsFile, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write results file: %w", err)
	}
	return resultsFile, nil
}
