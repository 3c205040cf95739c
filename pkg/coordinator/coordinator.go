package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go-meanfilter/pkg/blur"
	"go-meanfilter/pkg/common"
	"go-meanfilter/pkg/imageio"
	"go-meanfilter/pkg/queue"
)

// Coordinator splits images into bands and queues one job per band. Every
// coordinator starts a new run; image IDs are only unique within it.
type Coordinator struct {
	redisClient *queue.RedisClient
	runID       string
	kernelSize  int
	bands       int
}

var runSeq atomic.Int64

func NewCoordinator(redisClient *queue.RedisClient, kernelSize, bands int) *Coordinator {
	return &Coordinator{
		redisClient: redisClient,
		runID:       newRunID(),
		kernelSize:  kernelSize,
		bands:       bands,
	}
}

func newRunID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%x-%d", hostname, os.Getpid(), time.Now().UnixNano(), runSeq.Add(1))
}

// RunID names the run this coordinator's images belong to.
func (c *Coordinator) RunID() string {
	return c.runID
}

// ProcessImage loads inputPath and queues its bands.
func (c *Coordinator) ProcessImage(ctx context.Context, imageID int, inputPath, outputPath string) error {
	log.Printf("Coordinator: Processing image %d of run %s from %s", imageID, c.runID, inputPath)
	loadTime := time.Now()

	img, err := imageio.Load(inputPath)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	return c.SubmitImage(ctx, imageID, img, inputPath, outputPath, loadTime)
}

// SubmitImage queues the bands of an already decoded image.
func (c *Coordinator) SubmitImage(ctx context.Context, imageID int, img *common.Image, inputPath, outputPath string, loadTime time.Time) error {
	startTime := time.Now()

	// Images shorter than the band count get one band per row.
	bandCount := min(c.bands, img.Height)
	if err := blur.Validate(img, c.kernelSize, bandCount); err != nil {
		return err
	}
	bands, err := blur.Partition(img.Height, bandCount)
	if err != nil {
		return err
	}

	info := &common.ImageInfo{
		RunID:         c.runID,
		ID:            imageID,
		InputPath:     inputPath,
		OutputPath:    outputPath,
		Width:         img.Width,
		Height:        img.Height,
		KernelSize:    c.kernelSize,
		ExpectedBands: len(bands),
		LoadTime:      loadTime,
		StartTime:     startTime,
	}
	if err := c.redisClient.StoreImageInfo(ctx, info); err != nil {
		return fmt.Errorf("failed to store image info: %w", err)
	}

	log.Printf("Coordinator: Image %d (%dx%d) will generate %d bands", imageID, img.Width, img.Height, len(bands))

	if err := c.queueBands(ctx, imageID, img, bands); err != nil {
		return fmt.Errorf("failed to queue bands: %w", err)
	}

	log.Printf("Coordinator: Finished queuing bands for image %d in %.2fs",
		imageID, time.Since(startTime).Seconds())
	return nil
}

func (c *Coordinator) queueBands(ctx context.Context, imageID int, img *common.Image, bands []common.Band) error {
	for _, band := range bands {
		job, err := ExtractBandJob(img, imageID, band, c.kernelSize)
		if err != nil {
			return fmt.Errorf("band %d: %w", band.Index, err)
		}
		job.RunID = c.runID
		if _, err := c.redisClient.AddJob(ctx, &common.JobMessage{Type: common.JobTypeBand, BandJob: job}); err != nil {
			return fmt.Errorf("failed to queue band %d: %w", band.Index, err)
		}
	}
	return nil
}

// ExtractBandJob cuts the band plus kernelSize/2 halo rows on either side,
// clamped to the image.
func ExtractBandJob(img *common.Image, imageID int, band common.Band, kernelSize int) (*common.BandJob, error) {
	padding := kernelSize / 2
	halo := img.Rows(band.FirstRow-padding, band.LastRow+padding)

	data, err := common.EncodePixels(halo.Pix)
	if err != nil {
		return nil, err
	}
	return &common.BandJob{
		ImageID:     imageID,
		Band:        band,
		Width:       img.Width,
		ImageHeight: img.Height,
		HaloY0:      halo.Y0,
		KernelSize:  kernelSize,
		Data:        data,
	}, nil
}

// ProcessImages queues every image concurrently. Image i is written to
// outputPaths[i].
func (c *Coordinator) ProcessImages(ctx context.Context, inputPaths, outputPaths []string) error {
	if len(inputPaths) != len(outputPaths) {
		return fmt.Errorf("input and output path lists differ in length: %d != %d", len(inputPaths), len(outputPaths))
	}

	timing := &common.TimingData{
		RunID:       c.runID,
		StartTime:   time.Now(),
		KernelSize:  c.kernelSize,
		TotalImages: len(inputPaths),
		InputPaths:  inputPaths,
		OutputPaths: outputPaths,
	}
	if err := c.redisClient.StoreTiming(ctx, timing); err != nil {
		log.Printf("Coordinator: Failed to store timing data: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(inputPaths))

	for i, inputPath := range inputPaths {
		wg.Add(1)
		go func(id int, path string) {
			defer wg.Done()
			if err := c.ProcessImage(ctx, id, path, outputPaths[id]); err != nil {
				errs <- fmt.Errorf("image %d: %w", id, err)
			}
		}(i, inputPath)
	}

	wg.Wait()
	close(errs)

	var allErrors []error
	for err := range errs {
		allErrors = append(allErrors, err)
	}
	if len(allErrors) > 0 {
		return fmt.Errorf("failed to process %d images: %w", len(allErrors), errors.Join(allErrors...))
	}
	return nil
}
