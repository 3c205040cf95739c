package imageio

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-meanfilter/pkg/common"
)

func sample() *common.Image {
	img := common.NewImage(5, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 5; x++ {
			img.Set(x, y, common.RGB{R: uint8(40 * x), G: uint8(60 * y), B: uint8(x * y)})
		}
	}
	return img
}

func TestSaveLoadLossless(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".png", ".bmp", ".tiff"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(dir, "out"+ext)
			require.NoError(t, Save(path, sample(), 0))

			got, err := Load(path)
			require.NoError(t, err)
			assert.True(t, got.Equal(sample()))
		})
	}
}

func TestSaveJPEGKeepsShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jpg")
	require.NoError(t, Save(path, common.NewUniform(16, 8, common.RGB{R: 90, G: 90, B: 90}), 95))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, got.Width)
	assert.Equal(t, 8, got.Height)
}

func TestSaveUnsupportedFormatLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	err := Save(filepath.Join(dir, "out.xyz"), sample(), 0)

	var ioErr *Error
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "encode", ioErr.Op)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.png"))
	var ioErr *Error
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "open", ioErr.Op)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o644))
	_, err = Load(bad)
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "decode", ioErr.Op)
}

func TestFromImageDropsAlphaAndOffset(t *testing.T) {
	src := image.NewNRGBA(image.Rect(10, 20, 12, 21))
	src.SetNRGBA(10, 20, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	src.SetNRGBA(11, 20, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	got := FromImage(src)
	assert.Equal(t, 2, got.Width)
	assert.Equal(t, 1, got.Height)
	assert.Equal(t, common.RGB{R: 1, G: 2, B: 3}, got.At(0, 0))
	assert.Equal(t, common.RGB{R: 200, G: 100, B: 50}, got.At(1, 0))
}

func TestToRGBAIsOpaque(t *testing.T) {
	rgba := ToRGBA(sample())
	for i := 3; i < len(rgba.Pix); i += 4 {
		if rgba.Pix[i] != 0xff {
			t.Fatalf("alpha at byte %d = %d, want 255", i, rgba.Pix[i])
		}
	}
	assert.True(t, FromImage(rgba).Equal(sample()))
}

func TestFindImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.JPG", "c.txt", "a_filtered.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

	paths, err := FindImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.JPG")}, paths)
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "img1_filtered.png"), OutputPath("out", "/in/img1.png", ""))
	assert.Equal(t, filepath.Join("out", "img1_filtered.jpg"), OutputPath("out", "/in/img1.png", ".jpg"))
}
