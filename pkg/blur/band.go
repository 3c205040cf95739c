package blur

import "go-meanfilter/pkg/common"

// Partition splits [0, height) into exactly workers contiguous bands. Every
// band but the last holds height/workers rows; the last one also takes the
// remainder.
//
// A worker count above the height is rejected rather than producing empty
// bands.
func Partition(height, workers int) ([]common.Band, error) {
	if workers <= 0 {
		return nil, &ConfigError{Field: "workers", Value: workers, Reason: "must be at least 1"}
	}
	if height <= 0 {
		return nil, &ConfigError{Field: "height", Value: height, Reason: "must be at least 1"}
	}
	if workers > height {
		return nil, &ConfigError{Field: "workers", Value: workers, Reason: "exceeds image height"}
	}

	rowsPerBand := height / workers
	bands := make([]common.Band, workers)
	for i := 0; i < workers; i++ {
		lastRow := rowsPerBand * (i + 1)
		if i == workers-1 {
			lastRow = height
		}
		bands[i] = common.Band{
			Index:    i,
			FirstRow: i * rowsPerBand,
			LastRow:  lastRow,
		}
	}
	return bands, nil
}
