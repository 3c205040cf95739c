package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-meanfilter/pkg/blur"
	"go-meanfilter/pkg/common"
	"go-meanfilter/pkg/queue"
)

func newTestClient(t *testing.T) *queue.RedisClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := queue.NewRedisClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.EnsureGroups(context.Background()))
	return client
}

func rows(width, height int) *common.Image {
	img := common.NewImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, common.RGB{R: uint8(y), G: uint8(x), B: 9})
		}
	}
	return img
}

func TestExtractBandJobHalo(t *testing.T) {
	img := rows(3, 10)
	tests := []struct {
		band     common.Band
		wantY0   int
		wantRows int
		kernel   int
	}{
		{common.Band{Index: 0, FirstRow: 0, LastRow: 3}, 0, 5, 5},
		{common.Band{Index: 1, FirstRow: 3, LastRow: 6}, 1, 7, 5},
		{common.Band{Index: 2, FirstRow: 6, LastRow: 10}, 4, 6, 5},
		{common.Band{Index: 1, FirstRow: 3, LastRow: 6}, 3, 3, 1},
	}
	for _, tt := range tests {
		job, err := ExtractBandJob(img, 4, tt.band, tt.kernel)
		require.NoError(t, err)
		assert.Equal(t, 4, job.ImageID)
		assert.Equal(t, 10, job.ImageHeight)
		assert.Equal(t, tt.wantY0, job.HaloY0, "%s", tt.band)

		src, err := job.Source()
		require.NoError(t, err)
		assert.Equal(t, tt.wantRows, src.Rows(), "%s", tt.band)
		assert.Equal(t, img.At(2, tt.wantY0), src.At(2, tt.wantY0))
	}
}

func TestSubmitImageQueuesOneJobPerBand(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	c := NewCoordinator(client, 3, 4)

	require.NoError(t, c.SubmitImage(ctx, 2, rows(5, 9), "in.png", "out.png", time.Now()))

	info, err := client.GetImageInfo(ctx, c.RunID(), 2)
	require.NoError(t, err)
	assert.Equal(t, c.RunID(), info.RunID)
	assert.Equal(t, 4, info.ExpectedBands)
	assert.Equal(t, 3, info.KernelSize)

	want, err := blur.Partition(9, 4)
	require.NoError(t, err)
	for _, band := range want {
		_, job, err := client.ReadJob(ctx, "t", 100*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, common.JobTypeBand, job.Type)
		assert.Equal(t, band, job.BandJob.Band)
		assert.Equal(t, c.RunID(), job.BandJob.RunID)
	}
}

func TestSubmitImageClampsBandsToHeight(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	c := NewCoordinator(client, 3, 8)

	require.NoError(t, c.SubmitImage(ctx, 0, rows(4, 2), "in.png", "out.png", time.Now()))
	info, err := client.GetImageInfo(ctx, c.RunID(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, info.ExpectedBands)
}

func TestCoordinatorsStartDistinctRuns(t *testing.T) {
	client := newTestClient(t)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewCoordinator(client, 3, 2).RunID()
		assert.False(t, seen[id], id)
		seen[id] = true
	}
}

func TestProcessImagesStoresTiming(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	c := NewCoordinator(client, 3, 2)

	_ = c.ProcessImages(ctx, []string{"/does/not/exist.png"}, []string{"out.png"})
	timing, err := client.GetTiming(ctx, c.RunID())
	require.NoError(t, err)
	assert.Equal(t, 1, timing.TotalImages)
	assert.Equal(t, 3, timing.KernelSize)
}

func TestSubmitImageRejectsBadKernel(t *testing.T) {
	client := newTestClient(t)
	c := NewCoordinator(client, 0, 2)

	err := c.SubmitImage(context.Background(), 0, rows(4, 4), "in.png", "out.png", time.Now())
	assert.ErrorIs(t, err, blur.ErrInvalidConfig)
}

func TestProcessImagesReportsLoadFailures(t *testing.T) {
	client := newTestClient(t)
	c := NewCoordinator(client, 3, 2)

	err := c.ProcessImages(context.Background(), []string{"/does/not/exist.png"}, []string{"out.png"})
	assert.Error(t, err)

	err = c.ProcessImages(context.Background(), []string{"a.png"}, nil)
	assert.Error(t, err)
}
