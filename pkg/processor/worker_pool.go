package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"go-meanfilter/pkg/blur"
	"go-meanfilter/pkg/common"
	"go-meanfilter/pkg/queue"
)

const (
	readBlock      = 5 * time.Second
	retryInterval  = 30 * time.Second
	staleAfter     = 30 * time.Second
	maxDeliveries  = 5
	claimBatchSize = 50
)

// WorkerPool runs a fixed number of band consumers against the jobs stream.
type WorkerPool struct {
	redisClient    *queue.RedisClient
	numWorkers     int
	workerID       string
	readBlock      time.Duration
	retryInterval  time.Duration
	staleAfter     time.Duration
	maxDeliveries  int64
	bandsProcessed atomic.Int64
	ctx            context.Context
	cancel         context.CancelFunc
}

func NewWorkerPool(redisClient *queue.RedisClient, numWorkers int, workerID string) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		redisClient:   redisClient,
		numWorkers:    max(numWorkers, 1),
		workerID:      workerID,
		readBlock:     readBlock,
		retryInterval: retryInterval,
		staleAfter:    staleAfter,
		maxDeliveries: maxDeliveries,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// SetRetryPolicy changes how often pending jobs are checked, how long a job
// may sit unacked before another consumer takes it over, and after how many
// deliveries it is dead-lettered instead. It must be called before Start.
func (wp *WorkerPool) SetRetryPolicy(interval, staleAfter time.Duration, maxDeliveries int64) {
	if interval > 0 {
		wp.retryInterval = interval
	}
	wp.staleAfter = staleAfter
	wp.maxDeliveries = maxDeliveries
}

// Start blocks until Stop is called and every worker has returned.
func (wp *WorkerPool) Start() {
	var g errgroup.Group

	for i := 0; i < wp.numWorkers; i++ {
		g.Go(func() error {
			wp.worker(i)
			return nil
		})
	}
	g.Go(func() error {
		wp.retryMonitor()
		return nil
	})

	log.Printf("WorkerPool: Started %d workers", wp.numWorkers)
	_ = g.Wait()
}

func (wp *WorkerPool) Stop() {
	log.Println("WorkerPool: Shutting down...")
	wp.cancel()
}

// Processed is the number of bands this pool has published.
func (wp *WorkerPool) Processed() int64 {
	return wp.bandsProcessed.Load()
}

func (wp *WorkerPool) worker(id int) {
	consumer := fmt.Sprintf("%s-worker-%d", wp.workerID, id)
	log.Printf("Worker %d started as consumer %s", id, consumer)

	for {
		if wp.ctx.Err() != nil {
			log.Printf("Worker %d shutting down", id)
			return
		}

		msgID, job, err := wp.redisClient.ReadJob(wp.ctx, consumer, wp.readBlock)
		if err != nil {
			if wp.ctx.Err() == nil {
				log.Printf("Worker %d read error: %v", id, err)
				if msgID != "" {
					// Undecodable message; retrying cannot help.
					_ = wp.redisClient.AckJob(wp.ctx, msgID)
				} else {
					wp.backoff()
				}
			}
			continue
		}
		if job == nil {
			continue
		}
		wp.handle(id, msgID, job)
	}
}

func (wp *WorkerPool) backoff() {
	select {
	case <-wp.ctx.Done():
	case <-time.After(time.Second):
	}
}

func (wp *WorkerPool) handle(id int, msgID string, job *common.JobMessage) {
	if job.Type != common.JobTypeBand || job.BandJob == nil {
		log.Printf("Worker %d: invalid job type %q", id, job.Type)
		_ = wp.redisClient.AckJob(wp.ctx, msgID)
		return
	}

	if err := wp.processBand(job.BandJob); err != nil {
		log.Printf("Worker %d failed to process image %d %s: %v", id, job.BandJob.ImageID, job.BandJob.Band, err)
		// Leave it pending so the retry monitor can reclaim it.
		return
	}
	_ = wp.redisClient.AckJob(wp.ctx, msgID)

	if count := wp.bandsProcessed.Add(1); count%100 == 0 {
		log.Printf("WorkerPool: Processed %d bands total", count)
	}
}

func (wp *WorkerPool) processBand(job *common.BandJob) error {
	startTime := time.Now()

	res, err := ProcessBand(wp.ctx, job)
	if err != nil {
		return err
	}

	result := &common.ResultMessage{
		BandResult:  res,
		WorkerID:    wp.workerID,
		ProcessTime: time.Since(startTime).Seconds(),
	}
	if _, err := wp.redisClient.AddResult(wp.ctx, result); err != nil {
		return fmt.Errorf("failed to add result: %w", err)
	}
	return nil
}

// ProcessBand filters one band job. Panics are returned as *blur.WorkerError.
func ProcessBand(ctx context.Context, job *common.BandJob) (res *common.BandResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &blur.WorkerError{Band: job.Band, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if job.KernelSize <= 0 {
		return nil, &blur.ConfigError{Field: "kernel size", Value: job.KernelSize, Reason: "must be at least 1"}
	}
	src, err := job.Source()
	if err != nil {
		return nil, err
	}

	out := make([]common.RGB, job.Band.Rows()*job.Width)
	if err := blur.MeanBand(ctx, src, out, job.KernelSize, job.Band); err != nil {
		return nil, &blur.WorkerError{Band: job.Band, Err: err}
	}

	data, err := common.EncodePixels(out)
	if err != nil {
		return nil, err
	}
	return &common.BandResult{
		RunID:   job.RunID,
		ImageID: job.ImageID,
		Band:    job.Band,
		Width:   job.Width,
		Data:    data,
	}, nil
}

func (wp *WorkerPool) retryMonitor() {
	ticker := time.NewTicker(wp.retryInterval)
	defer ticker.Stop()

	consumer := fmt.Sprintf("%s-retry-monitor", wp.workerID)

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			claimed, err := wp.redisClient.ClaimStaleJobs(wp.ctx, consumer, wp.staleAfter, claimBatchSize, wp.maxDeliveries)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Failed to claim stale jobs: %v", err)
			}
			if len(claimed) > 0 {
				log.Printf("Claimed %d stale jobs for retry", len(claimed))
			}
			for _, c := range claimed {
				wp.handle(-1, c.ID, c.Job)
			}
		}
	}
}
