package blur

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionCoversEveryRowOnce(t *testing.T) {
	for height := 1; height <= 40; height++ {
		for workers := 1; workers <= height; workers++ {
			bands, err := Partition(height, workers)
			require.NoError(t, err)
			require.Len(t, bands, workers)

			seen := make([]int, height)
			for i, b := range bands {
				assert.Equal(t, i, b.Index)
				for y := b.FirstRow; y < b.LastRow; y++ {
					seen[y]++
				}
				if i < workers-1 {
					assert.Equal(t, height/workers, b.Rows(), "H=%d T=%d band %d", height, workers, i)
				} else {
					assert.Equal(t, height-(workers-1)*(height/workers), b.Rows(), "H=%d T=%d last band", height, workers)
				}
				if i > 0 {
					assert.Equal(t, bands[i-1].LastRow, b.FirstRow)
				}
			}
			for y, n := range seen {
				if n != 1 {
					t.Fatalf("H=%d T=%d: row %d covered %d times", height, workers, y, n)
				}
			}
		}
	}
}

func TestPartitionSingleWorker(t *testing.T) {
	bands, err := Partition(7, 1)
	require.NoError(t, err)
	require.Len(t, bands, 1)
	assert.Equal(t, 0, bands[0].FirstRow)
	assert.Equal(t, 7, bands[0].LastRow)
}

func TestPartitionRemainderGoesToLastBand(t *testing.T) {
	bands, err := Partition(10, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 4}, []int{bands[0].Rows(), bands[1].Rows(), bands[2].Rows()})
}

func TestPartitionRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		height  int
		workers int
		field   string
	}{
		{"zero workers", 10, 0, "workers"},
		{"negative workers", 10, -3, "workers"},
		{"zero height", 0, 1, "height"},
		{"more workers than rows", 4, 5, "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bands, err := Partition(tt.height, tt.workers)
			assert.Nil(t, bands)
			require.ErrorIs(t, err, ErrInvalidConfig)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
