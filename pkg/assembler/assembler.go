package assembler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go-meanfilter/pkg/blur"
	"go-meanfilter/pkg/common"
	"go-meanfilter/pkg/imageio"
	"go-meanfilter/pkg/queue"
)

// completedTTL is how long a written image stays in memory to absorb late
// duplicate bands. After that Redis's completion mark takes over.
const completedTTL = 10 * time.Minute

// Assembler stitches filtered bands back into whole images. An image is
// written only after every one of its bands has arrived.
type Assembler struct {
	redisClient  *queue.RedisClient
	assemblerID  string
	quality      int
	readBlock    time.Duration
	checkpoint   time.Duration
	completedTTL time.Duration
	onComplete   func(info *common.ImageInfo)
	imageMap     map[imageKey]*ImageAssembly
	mutex        sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
}

// imageKey identifies an image across runs; image IDs restart at 0 in each.
type imageKey struct {
	runID   string
	imageID int
}

type ImageAssembly struct {
	info          *common.ImageInfo
	bands         []common.Band
	outputImage   *common.Image
	bandsReceived int
	receivedBands map[int]bool
	completed     bool
	completedAt   time.Time
	mutex         sync.Mutex
}

func NewAssembler(redisClient *queue.RedisClient, assemblerID string, quality int) *Assembler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Assembler{
		redisClient:  redisClient,
		assemblerID:  assemblerID,
		quality:      quality,
		readBlock:    5 * time.Second,
		checkpoint:   10 * time.Second,
		completedTTL: completedTTL,
		imageMap:     make(map[imageKey]*ImageAssembly),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// OnComplete registers fn to run after an image has been saved.
func (a *Assembler) OnComplete(fn func(info *common.ImageInfo)) {
	a.onComplete = fn
}

func (a *Assembler) Start() {
	var wg sync.WaitGroup

	wg.Add(1)
	go a.resultProcessor(&wg)

	wg.Add(1)
	go a.checkpointMonitor(&wg)

	log.Printf("Assembler %s started", a.assemblerID)
	wg.Wait()
}

func (a *Assembler) Stop() {
	log.Println("Assembler: Shutting down...")
	a.cancel()
}

func (a *Assembler) resultProcessor(wg *sync.WaitGroup) {
	defer wg.Done()

	consumer := fmt.Sprintf("assembler-%s", a.assemblerID)

	for {
		if a.ctx.Err() != nil {
			return
		}

		msgID, result, err := a.redisClient.ReadResult(a.ctx, consumer, a.readBlock)
		if err != nil {
			if a.ctx.Err() == nil {
				log.Printf("Assembler read error: %v", err)
				if msgID != "" {
					_ = a.redisClient.AckResult(a.ctx, msgID)
				} else {
					select {
					case <-a.ctx.Done():
					case <-time.After(time.Second):
					}
				}
			}
			continue
		}
		if result == nil || result.BandResult == nil {
			if msgID != "" {
				_ = a.redisClient.AckResult(a.ctx, msgID)
			}
			continue
		}

		if err := a.HandleBand(a.ctx, result.BandResult); err != nil {
			log.Printf("Failed to process band: %v", err)
		} else {
			_ = a.redisClient.AckResult(a.ctx, msgID)
		}
	}
}

// HandleBand places one filtered band and saves the image once it is whole.
// Duplicate deliveries of a band are ignored. A band that does not match the
// image's partition is rejected.
func (a *Assembler) HandleBand(ctx context.Context, band *common.BandResult) error {
	assembly, err := a.getOrCreateAssembly(ctx, imageKey{runID: band.RunID, imageID: band.ImageID})
	if err != nil {
		return fmt.Errorf("failed to get assembly: %w", err)
	}

	assembly.mutex.Lock()
	defer assembly.mutex.Unlock()

	if assembly.completed {
		return nil
	}
	idx := band.Band.Index
	if idx < 0 || idx >= len(assembly.bands) || band.Band != assembly.bands[idx] {
		return fmt.Errorf("image %d of run %s: %s is not one of its %d bands",
			band.ImageID, band.RunID, band.Band, len(assembly.bands))
	}
	if assembly.receivedBands[idx] {
		log.Printf("%s for image %d already received (idempotent)", band.Band, band.ImageID)
		return nil
	}

	pix, err := common.DecodePixels(band.Data)
	if err != nil {
		return fmt.Errorf("image %d %s: %w", band.ImageID, band.Band, err)
	}
	out := assembly.outputImage
	dst := out.BandPixels(band.Band)
	if len(pix) != len(dst) {
		return fmt.Errorf("image %d %s: got %d pixels, want %d", band.ImageID, band.Band, len(pix), len(dst))
	}
	copy(dst, pix)

	assembly.receivedBands[idx] = true
	assembly.bandsReceived++
	if _, err := a.redisClient.MarkBandReceived(ctx, band.RunID, band.ImageID, idx); err != nil {
		log.Printf("Warning: failed to record %s of image %d in Redis: %v", band.Band, band.ImageID, err)
	}

	if assembly.bandsReceived < len(assembly.bands) {
		log.Printf("Image %d progress: %d/%d bands",
			band.ImageID, assembly.bandsReceived, len(assembly.bands))
		return nil
	}

	if err := imageio.Save(assembly.info.OutputPath, out, a.quality); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	assembly.completed = true
	assembly.completedAt = time.Now()
	assembly.outputImage = nil

	if err := a.redisClient.MarkImageCompleted(ctx, band.RunID, band.ImageID); err != nil {
		log.Printf("Warning: failed to mark image %d as completed in Redis: %v", band.ImageID, err)
	}

	duration := time.Since(assembly.info.StartTime).Seconds()
	log.Printf("Image %d of run %s assembled: %d bands in %.2fs -> %s",
		band.ImageID, band.RunID, assembly.bandsReceived, duration, assembly.info.OutputPath)

	if a.onComplete != nil {
		a.onComplete(assembly.info)
	}
	return nil
}

func (a *Assembler) getOrCreateAssembly(ctx context.Context, key imageKey) (*ImageAssembly, error) {
	a.mutex.RLock()
	if assembly, exists := a.imageMap[key]; exists {
		a.mutex.RUnlock()
		return assembly, nil
	}
	a.mutex.RUnlock()

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if assembly, exists := a.imageMap[key]; exists {
		return assembly, nil
	}

	info, err := a.redisClient.GetImageInfo(ctx, key.runID, key.imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get image info: %w", err)
	}
	bands, err := blur.Partition(info.Height, info.ExpectedBands)
	if err != nil {
		return nil, fmt.Errorf("image %d of run %s: %w", key.imageID, key.runID, err)
	}

	assembly := &ImageAssembly{
		info:          info,
		bands:         bands,
		receivedBands: make(map[int]bool),
	}

	// The image may have been written before this assembly was evicted.
	done, err := a.redisClient.IsImageCompleted(ctx, key.runID, key.imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get image status: %w", err)
	}
	if done {
		assembly.completed = true
		assembly.completedAt = time.Now()
	} else {
		assembly.outputImage = common.NewImage(info.Width, info.Height)
		log.Printf("Created assembly for image %d of run %s (%dx%d, %d bands expected)",
			key.imageID, key.runID, info.Width, info.Height, info.ExpectedBands)
	}
	a.imageMap[key] = assembly
	return assembly, nil
}

// evictCompleted drops images written more than completedTTL ago.
func (a *Assembler) evictCompleted(now time.Time) int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	evicted := 0
	for key, assembly := range a.imageMap {
		assembly.mutex.Lock()
		expired := assembly.completed && now.Sub(assembly.completedAt) >= a.completedTTL
		assembly.mutex.Unlock()
		if expired {
			delete(a.imageMap, key)
			evicted++
		}
	}
	return evicted
}

func (a *Assembler) checkpointMonitor(wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(a.checkpoint)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case now := <-ticker.C:
			a.evictCompleted(now)

			a.mutex.RLock()
			activeImages := len(a.imageMap)
			var incompleteCount int
			for _, assembly := range a.imageMap {
				assembly.mutex.Lock()
				if !assembly.completed {
					incompleteCount++
					log.Printf("Image %d progress: %d/%d bands received",
						assembly.info.ID, assembly.bandsReceived, len(assembly.bands))
				}
				assembly.mutex.Unlock()
			}
			a.mutex.RUnlock()

			if activeImages > 0 {
				log.Printf("Assembler status: %d active images, %d incomplete",
					activeImages, incompleteCount)
			}
		}
	}
}
