package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-meanfilter/pkg/common"
)

func TestParseWorkerCounts(t *testing.T) {
	counts, err := parseWorkerCounts("1, 2,,8")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 8}, counts)

	for _, bad := range []string{"", "0", "2,x", "-1"} {
		_, err := parseWorkerCounts(bad)
		assert.Error(t, err, bad)
	}
}

func TestRunWorkersMatchesAcrossCounts(t *testing.T) {
	tall := common.NewImage(4, 9)
	for i := range tall.Pix {
		tall.Pix[i] = common.RGB{R: uint8(i * 7), G: uint8(255 - i), B: uint8(i * i)}
	}
	short := common.NewUniform(3, 2, common.RGB{R: 9, G: 8, B: 7})
	images := []*common.Image{tall, short}
	inputs := []string{"tall.png", "short.png"}
	dir := t.TempDir()

	one, refOut, err := runWorkers(images, inputs, filepath.Join(dir, "w1"), 3, 1, 0)
	require.NoError(t, err)
	many, out, err := runWorkers(images, inputs, filepath.Join(dir, "w8"), 3, 8, 2)
	require.NoError(t, err)

	assert.Equal(t, -1, firstMismatch(refOut, out))
	assert.Equal(t, 2, one.ImagesProcessed)
	// 8 bands for the tall image, 2 for the short one.
	assert.Equal(t, 10, many.Bands.Count)
	assert.Equal(t, 2, *many.MaxParallel)
	for _, p := range many.OutputPaths {
		assert.FileExists(t, p)
	}
}
