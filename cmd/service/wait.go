package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go-meanfilter/pkg/common"
	"go-meanfilter/pkg/queue"
)

// deadLetterPoll is how often a waiting run checks for abandoned bands.
const deadLetterPoll = time.Second

var errBandDeadLettered = errors.New("band job dead-lettered")

// runTracker counts written images per run.
type runTracker struct {
	mu      sync.Mutex
	written map[string]int
	signal  chan struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{
		written: make(map[string]int),
		signal:  make(chan struct{}, 1),
	}
}

func (t *runTracker) imageWritten(info *common.ImageInfo) {
	log.Printf("Image %d of run %s written to %s", info.ID, info.RunID, info.OutputPath)
	t.mu.Lock()
	t.written[info.RunID]++
	t.mu.Unlock()

	select {
	case t.signal <- struct{}{}:
	default:
	}
}

func (t *runTracker) count(runID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written[runID]
}

// awaitRun blocks until total images of runID are written. It fails as soon
// as a band of the run lands in the dead-letter stream, since that image can
// never complete.
func awaitRun(ctx context.Context, redisClient *queue.RedisClient, tracker *runTracker, runID string, total int, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for tracker.count(runID) < total {
		select {
		case <-tracker.signal:
		case <-ticker.C:
			dead, err := redisClient.DeadLetteredBands(ctx, runID)
			if err != nil {
				log.Printf("Failed to check dead-lettered bands: %v", err)
				continue
			}
			if len(dead) > 0 {
				return deadLetterError(ctx, redisClient, dead)
			}
		case <-ctx.Done():
			return fmt.Errorf("%d of %d images written: %w", tracker.count(runID), total, ctx.Err())
		}
	}
	return nil
}

func deadLetterError(ctx context.Context, redisClient *queue.RedisClient, dead []*common.BandJob) error {
	errs := make([]error, 0, len(dead))
	for _, job := range dead {
		name := fmt.Sprintf("image %d", job.ImageID)
		if info, err := redisClient.GetImageInfo(ctx, job.RunID, job.ImageID); err == nil {
			name = fmt.Sprintf("image %d (%s)", job.ImageID, info.InputPath)
		}
		errs = append(errs, fmt.Errorf("%s %s: %w", name, job.Band, errBandDeadLettered))
	}
	return errors.Join(errs...)
}
