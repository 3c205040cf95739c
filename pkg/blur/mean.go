package blur

import (
	"context"

	"go-meanfilter/pkg/common"
)

// MeanAt averages the (2*pad+1)^2 window centered on (x, y), pad = kernelSize/2.
// Neighbors outside the image are skipped, so edge windows are smaller. The
// center is always inside, so the count is never zero.
func MeanAt(src common.Strip, x, y, kernelSize int) common.RGB {
	pad := kernelSize / 2
	width := src.Width
	height := src.ImageHeight

	var rSum, gSum, bSum uint64
	var count uint64

	for dy := -pad; dy <= pad; dy++ {
		ny := y + dy
		if ny < 0 || ny >= height {
			continue
		}
		for dx := -pad; dx <= pad; dx++ {
			nx := x + dx
			if nx < 0 || nx >= width {
				continue
			}
			p := src.At(nx, ny)
			rSum += uint64(p.R)
			gSum += uint64(p.G)
			bSum += uint64(p.B)
			count++
		}
	}

	return common.RGB{
		R: uint8(rSum / count),
		G: uint8(gSum / count),
		B: uint8(bSum / count),
	}
}

// MeanBand writes the band's filtered rows into out, which holds exactly
// band.Rows() rows of src.Width pixels and belongs to this band alone. src
// must carry every image row within pad of the band.
//
// ctx is checked before each row. On cancellation out is left partially
// written and ctx.Err() is returned; the caller must discard it.
func MeanBand(ctx context.Context, src common.Strip, out []common.RGB, kernelSize int, band common.Band) error {
	width := src.Width
	for y := band.FirstRow; y < band.LastRow; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := out[(y-band.FirstRow)*width : (y-band.FirstRow+1)*width]
		for x := range row {
			row[x] = MeanAt(src, x, y, kernelSize)
		}
	}
	return nil
}
