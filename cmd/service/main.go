// Command service runs the distributed mean filter over Redis Streams.
//
// A coordinator splits every image in -input into row bands and queues them,
// workers filter bands, and the assembler writes each image to -output once
// all of its bands are back. -mode all runs the three in one process and
// exits after every image has been written.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go-meanfilter/pkg/assembler"
	"go-meanfilter/pkg/blur"
	"go-meanfilter/pkg/coordinator"
	"go-meanfilter/pkg/imageio"
	"go-meanfilter/pkg/processor"
	"go-meanfilter/pkg/queue"
	"go-meanfilter/pkg/stats"
)

func main() {
	var (
		redisAddr  = flag.String("redis", "localhost:6379", "Redis address")
		inputDir   = flag.String("input", "/data/input", "Input directory")
		outputDir  = flag.String("output", "/data/output", "Output directory")
		outputExt  = flag.String("ext", ".jpg", "Output image extension")
		kernelSize = flag.Int("kernel", 7, "Mean kernel size")
		numWorkers = flag.Int("workers", 4, "Number of worker goroutines")
		numBands   = flag.Int("bands", 8, "Row bands per image")
		quality    = flag.Int("quality", imageio.DefaultQuality, "JPEG quality")
		mode       = flag.String("mode", "all", "Mode: coordinator, worker, assembler, or all")
		timeout    = flag.Duration("timeout", 0, "Give up after this long in all mode (0 = no limit)")
		writeStats = flag.Bool("stats", false, "Write a performance report after an all mode run")
		logsDir    = flag.String("logs", "logs", "Directory for performance reports")
	)
	flag.Parse()

	if *kernelSize <= 0 || *numBands <= 0 || *numWorkers <= 0 {
		log.Printf("kernel, bands and workers must all be at least 1")
		os.Exit(2)
	}

	hostname, _ := os.Hostname()
	serviceID := fmt.Sprintf("%s-%d", hostname, time.Now().Unix())

	log.Printf("Starting mean filter service")
	log.Printf("Mode: %s, Service ID: %s", *mode, serviceID)
	log.Printf("Redis: %s, Workers: %d, Bands: %d, Kernel: %d", *redisAddr, *numWorkers, *numBands, *kernelSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := queue.NewRedisClient(ctx, *redisAddr)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	if err := redisClient.EnsureGroups(ctx); err != nil {
		log.Printf("Failed to ensure Redis groups: %v", err)
	}

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	jobs := &jobSet{
		inputDir:   *inputDir,
		outputDir:  *outputDir,
		outputExt:  *outputExt,
		kernelSize: *kernelSize,
		bands:      *numBands,
	}

	switch *mode {
	case "coordinator":
		runID, _, err := jobs.submit(ctx, redisClient)
		if err != nil {
			log.Print(err)
			os.Exit(exitCode(err))
		}
		log.Printf("Coordinator: Run %s queued", runID)

	case "worker":
		workerPool := processor.NewWorkerPool(redisClient, *numWorkers, serviceID)
		runUntilDone(ctx, workerPool.Start, workerPool.Stop)
		log.Printf("Worker pool processed %d bands", workerPool.Processed())
		if dead, err := redisClient.DeadLetterCount(context.Background()); err == nil && dead > 0 {
			log.Printf("Warning: %d band jobs are dead-lettered", dead)
		}

	case "assembler":
		imageAssembler := assembler.NewAssembler(redisClient, serviceID, *quality)
		runUntilDone(ctx, imageAssembler.Start, imageAssembler.Stop)

	case "all":
		if *timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, *timeout)
			defer cancel()
		}
		workerPool := processor.NewWorkerPool(redisClient, *numWorkers, serviceID)
		imageAssembler := assembler.NewAssembler(redisClient, serviceID, *quality)
		runID, err := runAll(ctx, redisClient, jobs, workerPool, imageAssembler)
		if err != nil {
			log.Print(err)
			os.Exit(exitCode(err))
		}
		if *writeStats {
			if err := writeReport(context.Background(), redisClient, runID, *logsDir, *numBands); err != nil {
				log.Printf("Failed to write performance report: %v", err)
			}
		}

	default:
		log.Printf("Invalid mode: %s. Use coordinator, worker, assembler, or all", *mode)
		os.Exit(2)
	}

	log.Println("Service shutdown complete")
}

// runUntilDone runs start in the background until ctx is done, then stops it
// and waits for it to return.
func runUntilDone(ctx context.Context, start, stop func()) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		start()
	}()
	<-ctx.Done()
	stop()
	wg.Wait()
}

type jobSet struct {
	inputDir   string
	outputDir  string
	outputExt  string
	kernelSize int
	bands      int
}

// submit queues every image in the input directory as one run and returns
// the run ID and how many images were queued.
func (j *jobSet) submit(ctx context.Context, redisClient *queue.RedisClient) (string, int, error) {
	imagePaths, err := imageio.FindImages(j.inputDir)
	if err != nil {
		return "", 0, err
	}
	if len(imagePaths) == 0 {
		return "", 0, fmt.Errorf("no images found in %s", j.inputDir)
	}

	outputPaths := make([]string, len(imagePaths))
	for i, p := range imagePaths {
		outputPaths[i] = imageio.OutputPath(j.outputDir, p, j.outputExt)
	}

	log.Printf("Coordinator: Processing %d images", len(imagePaths))
	coord := coordinator.NewCoordinator(redisClient, j.kernelSize, j.bands)

	startTime := time.Now()
	if err := coord.ProcessImages(ctx, imagePaths, outputPaths); err != nil {
		return "", 0, fmt.Errorf("coordinator failed: %w", err)
	}
	log.Printf("Coordinator: All images queued in %.2fs", time.Since(startTime).Seconds())
	return coord.RunID(), len(imagePaths), nil
}

// runAll runs workerPool and imageAssembler, queues one run and waits until
// every image of it has been written or one of its bands was given up on.
func runAll(ctx context.Context, redisClient *queue.RedisClient, jobs *jobSet, workerPool *processor.WorkerPool, imageAssembler *assembler.Assembler) (string, error) {
	tracker := newRunTracker()
	imageAssembler.OnComplete(tracker.imageWritten)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		workerPool.Start()
	}()
	go func() {
		defer wg.Done()
		imageAssembler.Start()
	}()
	defer func() {
		log.Println("Shutting down all components...")
		workerPool.Stop()
		imageAssembler.Stop()
		wg.Wait()
	}()

	runID, total, err := jobs.submit(ctx, redisClient)
	if err != nil {
		return "", err
	}
	if err := awaitRun(ctx, redisClient, tracker, runID, total, deadLetterPoll); err != nil {
		return runID, err
	}
	log.Printf("All %d images of run %s written", total, runID)
	return runID, nil
}

// writeReport closes the run's timing record and writes it as a results file.
func writeReport(ctx context.Context, redisClient *queue.RedisClient, runID, logsDir string, bands int) error {
	timing, err := redisClient.GetTiming(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get timing data: %w", err)
	}
	end := time.Now()
	timing.EndTime = &end
	if err := redisClient.StoreTiming(ctx, timing); err != nil {
		return fmt.Errorf("failed to store timing data: %w", err)
	}

	totalTime := end.Sub(timing.StartTime).Seconds()
	path, err := stats.WritePerformanceResultsWithPrefix(logsDir, []stats.PerformanceData{{
		AlgorithmName:   "Distributed Band Parallel",
		ImagesProcessed: timing.TotalImages,
		KernelSize:      timing.KernelSize,
		TotalTime:       totalTime,
		AverageTime:     totalTime / float64(max(timing.TotalImages, 1)),
		InputPaths:      timing.InputPaths,
		OutputPaths:     timing.OutputPaths,
		Timestamp:       timing.StartTime,
		Workers:         &bands,
	}}, "distributed_")
	if err != nil {
		return err
	}
	log.Printf("Results written to %s", path)
	return nil
}

func exitCode(err error) int {
	if errors.Is(err, blur.ErrInvalidConfig) {
		return 2
	}
	return 1
}
