// Package imageio converts between files, image.Image and common.Image.
// It is the only place that knows about file formats.
package imageio

import (
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"go-meanfilter/pkg/common"
)

// DefaultQuality is the JPEG quality used when none is given.
const DefaultQuality = 95

// Error is an I/O failure of the decode/encode collaborator.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("imageio: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Load decodes the file at path. Alpha is dropped.
func Load(path string) (*common.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, &Error{Op: "decode", Path: path, Err: err}
	}
	return FromImage(img), nil
}

// FromImage copies any image.Image into an RGB buffer.
func FromImage(img image.Image) *common.Image {
	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		xdraw.Draw(rgba, rgba.Bounds(), img, bounds.Min, xdraw.Src)
		bounds = rgba.Bounds()
	}

	out := common.NewImage(bounds.Dx(), bounds.Dy())
	for y := 0; y < out.Height; y++ {
		row := out.Row(y)
		for x := range row {
			c := rgba.RGBAAt(bounds.Min.X+x, bounds.Min.Y+y)
			row[x] = common.RGB{R: c.R, G: c.G, B: c.B}
		}
	}
	return out
}

// ToRGBA converts to an opaque *image.RGBA for the standard encoders.
func ToRGBA(img *common.Image) *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		off := y * rgba.Stride
		for _, p := range img.Row(y) {
			rgba.Pix[off] = p.R
			rgba.Pix[off+1] = p.G
			rgba.Pix[off+2] = p.B
			rgba.Pix[off+3] = 0xff
			off += 4
		}
	}
	return rgba
}

// Save encodes img to path, choosing the format from the extension. The
// file is written next to path and renamed into place only once encoding
// succeeded, so a failed save never leaves a partial file behind.
func Save(path string, img *common.Image, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	encode, err := encoderFor(path, quality)
	if err != nil {
		return &Error{Op: "encode", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return &Error{Op: "create", Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp, ToRGBA(img)); err != nil {
		tmp.Close()
		return &Error{Op: "encode", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &Error{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &Error{Op: "rename", Path: path, Err: err}
	}
	return nil
}

type encodeFunc func(f *os.File, img image.Image) error

func encoderFor(path string, quality int) (encodeFunc, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return func(f *os.File, img image.Image) error {
			return jpeg.Encode(f, img, &jpeg.Options{Quality: quality})
		}, nil
	case ".png":
		return func(f *os.File, img image.Image) error {
			return png.Encode(f, img)
		}, nil
	case ".bmp":
		return func(f *os.File, img image.Image) error {
			return bmp.Encode(f, img)
		}, nil
	case ".tif", ".tiff":
		return func(f *os.File, img image.Image) error {
			return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
		}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", filepath.Ext(path))
	}
}

// IsImagePath reports whether path has an extension Load understands.
func IsImagePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

// FindImages lists the loadable images directly inside dir, skipping files
// that already look like filter output.
func FindImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &Error{Op: "read", Path: dir, Err: err}
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsImagePath(e.Name()) || strings.Contains(e.Name(), "_filtered") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

// OutputPath names the filtered counterpart of input inside dir.
func OutputPath(dir, input, ext string) string {
	base := filepath.Base(input)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if ext == "" {
		ext = filepath.Ext(base)
	}
	return filepath.Join(dir, name+"_filtered"+ext)
}
