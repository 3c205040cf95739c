package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(width, height int) *Image {
	img := NewImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, RGB{R: uint8(x), G: uint8(y), B: uint8(x + y)})
		}
	}
	return img
}

func TestImageRowSharesBacking(t *testing.T) {
	img := NewImage(3, 2)
	img.Row(1)[2] = RGB{R: 9}
	assert.Equal(t, RGB{R: 9}, img.At(2, 1))
}

func TestImageValidate(t *testing.T) {
	var nilImage *Image
	tests := []struct {
		name string
		img  *Image
		ok   bool
	}{
		{"nil", nilImage, false},
		{"zero width", &Image{Width: 0, Height: 3}, false},
		{"short buffer", &Image{Width: 2, Height: 2, Pix: make([]RGB, 3)}, false},
		{"1x1", NewImage(1, 1), true},
		{"4x3", NewImage(4, 3), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.img.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRowsClampsToImage(t *testing.T) {
	img := gradient(4, 5)

	s := img.Rows(-2, 3)
	assert.Equal(t, 0, s.Y0)
	assert.Equal(t, 3, s.Rows())
	assert.Equal(t, 5, s.ImageHeight)

	s = img.Rows(3, 10)
	assert.Equal(t, 3, s.Y0)
	assert.Equal(t, 2, s.Rows())
	assert.True(t, s.Holds(4))
	assert.False(t, s.Holds(2))
	assert.Equal(t, img.At(1, 4), s.At(1, 4))
}

func TestStripOfWholeImage(t *testing.T) {
	img := gradient(3, 3)
	s := img.Strip()
	assert.Equal(t, 3, s.Rows())
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			assert.Equal(t, img.At(x, y), s.At(x, y))
		}
	}
}

func TestEncodePixelsRoundTrip(t *testing.T) {
	img := gradient(17, 9)
	data, err := EncodePixels(img.Pix)
	require.NoError(t, err)

	pix, err := DecodePixels(data)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, pix)
}

func TestDecodePixelsRejectsGarbage(t *testing.T) {
	_, err := DecodePixels([]byte("not zstd"))
	assert.Error(t, err)
}

func TestBandJobSource(t *testing.T) {
	img := gradient(4, 10)
	halo := img.Rows(2, 7)
	data, err := EncodePixels(halo.Pix)
	require.NoError(t, err)

	job := &BandJob{
		ImageID:     1,
		Band:        Band{Index: 1, FirstRow: 3, LastRow: 6},
		Width:       4,
		ImageHeight: 10,
		HaloY0:      2,
		KernelSize:  3,
		Data:        data,
	}
	s, err := job.Source()
	require.NoError(t, err)
	assert.Equal(t, 2, s.Y0)
	assert.Equal(t, 5, s.Rows())
	assert.Equal(t, img.At(3, 6), s.At(3, 6))

	job.Band = Band{Index: 1, FirstRow: 3, LastRow: 8}
	_, err = job.Source()
	assert.Error(t, err)
}
