// Package raster reads raster bands and wraps the GDAL warp and polygonize
// utilities used to prepare the population and settlement grids.
package raster

import (
	"math"
)

// Band is one raster band held in memory in row-major order.
type Band struct {
	Width  int
	Height int
	Values []float64
	// GeoTransform maps pixel space to georeferenced space, in GDAL order.
	GeoTransform [6]float64
	NoData       float64
	HasNoData    bool
	CRS          string
}

// At returns the value at (col, row).
func (b *Band) At(col, row int) float64 {
	return b.Values[row*b.Width+col]
}

// IsNoData reports whether v is the band's nodata marker or NaN.
func (b *Band) IsNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return b.HasNoData && v == b.NoData
}

// PixelCenter returns the georeferenced centre of pixel (col, row).
func (b *Band) PixelCenter(col, row int) (x, y float64) {
	gt := b.GeoTransform
	c := float64(col) + 0.5
	r := float64(row) + 0.5
	x = gt[0] + c*gt[1] + r*gt[2]
	y = gt[3] + c*gt[4] + r*gt[5]
	return x, y
}

// Pixel returns the pixel containing the georeferenced point, and false when
// the point falls outside the band or the transform is degenerate.
func (b *Band) Pixel(x, y float64) (col, row int, ok bool) {
	gt := b.GeoTransform
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 {
		return 0, 0, false
	}
	dx := x - gt[0]
	dy := y - gt[3]
	c := (dx*gt[5] - dy*gt[2]) / det
	r := (dy*gt[1] - dx*gt[4]) / det
	col = int(math.Floor(c))
	row = int(math.Floor(r))
	if col < 0 || row < 0 || col >= b.Width || row >= b.Height {
		return 0, 0, false
	}
	return col, row, true
}

// Sample returns the band value under (x, y). Points off the grid and
// nodata cells return ok=false.
func (b *Band) Sample(x, y float64) (float64, bool) {
	col, row, ok := b.Pixel(x, y)
	if !ok {
		return 0, false
	}
	v := b.At(col, row)
	if b.IsNoData(v) {
		return 0, false
	}
	return v, true
}

// Resolution returns the absolute pixel size along x and y.
func (b *Band) Resolution() (float64, float64) {
	return math.Abs(b.GeoTransform[1]), math.Abs(b.GeoTransform[5])
}
