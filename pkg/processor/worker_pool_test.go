package processor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-meanfilter/pkg/blur"
	"go-meanfilter/pkg/common"
	"go-meanfilter/pkg/coordinator"
	"go-meanfilter/pkg/queue"
)

func pattern(width, height int) *common.Image {
	img := common.NewImage(width, height)
	for i := range img.Pix {
		img.Pix[i] = common.RGB{R: uint8(i * 7), G: uint8(i * 13), B: uint8(i * 31)}
	}
	return img
}

func TestProcessBandMatchesLocalFilter(t *testing.T) {
	img := pattern(11, 13)
	kernel := 5
	want, err := blur.ApplyFilter(img, kernel, 1)
	require.NoError(t, err)

	bands, err := blur.Partition(img.Height, 4)
	require.NoError(t, err)
	for _, band := range bands {
		job, err := coordinator.ExtractBandJob(img, 1, band, kernel)
		require.NoError(t, err)
		job.RunID = "run-a"

		res, err := ProcessBand(context.Background(), job)
		require.NoError(t, err)
		assert.Equal(t, band, res.Band)
		assert.Equal(t, "run-a", res.RunID)
		assert.Equal(t, 1, res.ImageID)

		pix, err := common.DecodePixels(res.Data)
		require.NoError(t, err)
		assert.Equal(t, want.BandPixels(band), pix, "%s", band)
	}
}

func TestProcessBandRejectsBadJobs(t *testing.T) {
	img := pattern(4, 4)
	job, err := coordinator.ExtractBandJob(img, 1, common.Band{FirstRow: 0, LastRow: 4}, 3)
	require.NoError(t, err)

	bad := *job
	bad.KernelSize = 0
	_, err = ProcessBand(context.Background(), &bad)
	assert.ErrorIs(t, err, blur.ErrInvalidConfig)

	bad = *job
	bad.Data = []byte("junk")
	_, err = ProcessBand(context.Background(), &bad)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ProcessBand(ctx, job)
	assert.ErrorIs(t, err, blur.ErrWorkerFailed)
}

func TestWorkerPoolProcessesQueuedBands(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client, err := queue.NewRedisClient(ctx, mr.Addr())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.EnsureGroups(ctx))

	c := coordinator.NewCoordinator(client, 3, 3)
	require.NoError(t, c.SubmitImage(ctx, 0, pattern(6, 9), "in.png", "out.png", time.Now()))

	pool := NewWorkerPool(client, 2, "test")
	pool.readBlock = 50 * time.Millisecond
	done := make(chan struct{})
	go func() {
		pool.Start()
		close(done)
	}()

	require.Eventually(t, func() bool { return pool.Processed() == 3 }, 5*time.Second, 20*time.Millisecond)
	pool.Stop()
	<-done

	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		_, res, err := client.ReadResult(ctx, "a", 100*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, "test", res.WorkerID)
		seen[res.BandResult.Band.Index] = true
	}
	assert.Len(t, seen, 3)
}

func TestRetryMonitorDeadLettersRejectedJobs(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client, err := queue.NewRedisClient(ctx, mr.Addr())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.EnsureGroups(ctx))

	job, err := coordinator.ExtractBandJob(pattern(3, 3), 5, common.Band{FirstRow: 0, LastRow: 3}, 3)
	require.NoError(t, err)
	job.RunID = "run-a"
	job.KernelSize = 0
	_, err = client.AddJob(ctx, &common.JobMessage{Type: common.JobTypeBand, BandJob: job})
	require.NoError(t, err)

	pool := NewWorkerPool(client, 1, "test")
	pool.readBlock = 50 * time.Millisecond
	pool.SetRetryPolicy(20*time.Millisecond, 0, 2)
	done := make(chan struct{})
	go func() {
		pool.Start()
		close(done)
	}()

	require.Eventually(t, func() bool {
		n, err := client.DeadLetterCount(ctx)
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)
	pool.Stop()
	<-done

	dead, err := client.DeadLetteredBands(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 5, dead[0].ImageID)
	assert.Zero(t, pool.Processed())
}
