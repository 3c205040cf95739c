package common

import (
	"fmt"
	"time"
)

// RGB is one pixel with three 8-bit channels. There is no alpha.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Image is a row-major RGB raster. Pix[y*Width+x] holds pixel (x, y).
type Image struct {
	Width  int
	Height int
	Pix    []RGB
}

// NewImage allocates a zeroed width x height image.
func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]RGB, width*height),
	}
}

// NewUniform returns an image with every pixel set to c.
func NewUniform(width, height int, c RGB) *Image {
	img := NewImage(width, height)
	for i := range img.Pix {
		img.Pix[i] = c
	}
	return img
}

func (img *Image) At(x, y int) RGB {
	return img.Pix[y*img.Width+x]
}

func (img *Image) Set(x, y int, c RGB) {
	img.Pix[y*img.Width+x] = c
}

// Row returns the pixels of row y, sharing the image's backing array.
func (img *Image) Row(y int) []RGB {
	return img.Pix[y*img.Width : (y+1)*img.Width]
}

// Validate reports whether the buffer shape is usable.
func (img *Image) Validate() error {
	if img == nil {
		return fmt.Errorf("image is nil")
	}
	if img.Width < 1 || img.Height < 1 {
		return fmt.Errorf("image dimensions %dx%d must be at least 1x1", img.Width, img.Height)
	}
	if len(img.Pix) != img.Width*img.Height {
		return fmt.Errorf("image has %d pixels, want %d", len(img.Pix), img.Width*img.Height)
	}
	return nil
}

// Strip views the whole image without copying.
func (img *Image) Strip() Strip {
	return Strip{
		Width:       img.Width,
		ImageHeight: img.Height,
		Y0:          0,
		Pix:         img.Pix,
	}
}

// Rows views rows [y0, y1) clamped to the image. The result still knows the
// full image height so kernels clip against the real image edges.
func (img *Image) Rows(y0, y1 int) Strip {
	y0 = max(y0, 0)
	y1 = min(y1, img.Height)
	if y1 < y0 {
		y1 = y0
	}
	return Strip{
		Width:       img.Width,
		ImageHeight: img.Height,
		Y0:          y0,
		Pix:         img.Pix[y0*img.Width : y1*img.Width],
	}
}

// Equal reports whether both images have the same shape and pixels.
func (img *Image) Equal(other *Image) bool {
	if img.Width != other.Width || img.Height != other.Height || len(img.Pix) != len(other.Pix) {
		return false
	}
	for i := range img.Pix {
		if img.Pix[i] != other.Pix[i] {
			return false
		}
	}
	return true
}

// Strip is a read-only run of consecutive rows taken from an image that is
// ImageHeight rows tall. Y0 is the image row of Pix[0].
type Strip struct {
	Width       int
	ImageHeight int
	Y0          int
	Pix         []RGB
}

// Rows returns the number of rows the strip carries.
func (s Strip) Rows() int {
	if s.Width == 0 {
		return 0
	}
	return len(s.Pix) / s.Width
}

// Holds reports whether image row y is present in the strip.
func (s Strip) Holds(y int) bool {
	return y >= s.Y0 && y < s.Y0+s.Rows()
}

// At returns pixel (x, y) in image coordinates.
func (s Strip) At(x, y int) RGB {
	return s.Pix[(y-s.Y0)*s.Width+x]
}

// Band is the half-open row range [FirstRow, LastRow) owned by one worker.
type Band struct {
	Index    int `json:"index"`
	FirstRow int `json:"first_row"`
	LastRow  int `json:"last_row"`
}

func (b Band) Rows() int {
	return b.LastRow - b.FirstRow
}

func (b Band) String() string {
	return fmt.Sprintf("band %d [%d, %d)", b.Index, b.FirstRow, b.LastRow)
}

// BandJob carries one band and its halo rows to a remote worker.
type BandJob struct {
	RunID       string `json:"run_id"`
	ImageID     int    `json:"image_id"`
	Band        Band   `json:"band"`
	Width       int    `json:"width"`
	ImageHeight int    `json:"image_height"`
	HaloY0      int    `json:"halo_y0"`
	KernelSize  int    `json:"kernel_size"`
	Data        []byte `json:"data"`
}

// Source rebuilds the halo strip the job was cut from.
func (j *BandJob) Source() (Strip, error) {
	pix, err := DecodePixels(j.Data)
	if err != nil {
		return Strip{}, err
	}
	if j.Width <= 0 || len(pix)%j.Width != 0 {
		return Strip{}, fmt.Errorf("band job for image %d: %d pixels do not fill rows of width %d",
			j.ImageID, len(pix), j.Width)
	}
	s := Strip{Width: j.Width, ImageHeight: j.ImageHeight, Y0: j.HaloY0, Pix: pix}
	if !s.Holds(j.Band.FirstRow) || !s.Holds(j.Band.LastRow-1) {
		return Strip{}, fmt.Errorf("band job for image %d: halo rows [%d, %d) do not cover %s",
			j.ImageID, s.Y0, s.Y0+s.Rows(), j.Band)
	}
	return s, nil
}

// BandResult is a filtered band on its way to the assembler.
type BandResult struct {
	RunID   string `json:"run_id"`
	ImageID int    `json:"image_id"`
	Band    Band   `json:"band"`
	Width   int    `json:"width"`
	Data    []byte `json:"data"`
}

// ImageInfo is the per-image metadata shared between coordinator and assembler.
// Image IDs restart at 0 for every run, so an image is identified by
// (RunID, ID).
type ImageInfo struct {
	RunID         string    `json:"run_id"`
	ID            int       `json:"id"`
	InputPath     string    `json:"input_path"`
	OutputPath    string    `json:"output_path"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	KernelSize    int       `json:"kernel_size"`
	ExpectedBands int       `json:"expected_bands"`
	LoadTime      time.Time `json:"load_time"`
	StartTime     time.Time `json:"start_time"`
}

type JobMessage struct {
	Type    string   `json:"type"`
	BandJob *BandJob `json:"band_job,omitempty"`
}

type ResultMessage struct {
	BandResult  *BandResult `json:"band_result"`
	WorkerID    string      `json:"worker_id"`
	ProcessTime float64     `json:"process_time"`
}

// TimingData spans one distributed run, from the first image queued to the
// last image written.
type TimingData struct {
	RunID       string     `json:"run_id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	KernelSize  int        `json:"kernel_size"`
	TotalImages int        `json:"total_images"`
	InputPaths  []string   `json:"input_paths"`
	OutputPaths []string   `json:"output_paths"`
}

// JobTypeBand marks a JobMessage carrying a BandJob.
const JobTypeBand = "band"

// BandPixels returns the slice of Pix backing band b. Bands that do not
// overlap yield slices that do not overlap.
func (img *Image) BandPixels(b Band) []RGB {
	return img.Pix[b.FirstRow*img.Width : b.LastRow*img.Width]
}
