package raster

import (
	"strconv"

	"github.com/sells-group/tankindex/internal/geoio"
)

// IO is the raster half of the geospatial toolkit the pipeline consumes.
type IO interface {
	// ReadBand loads a single band (1-based) into memory.
	ReadBand(path string, band int) (*Band, error)
	// Warp resamples, reprojects, clips and mosaics srcs into dst.
	Warp(srcs []string, dst string, opts WarpOptions) error
	// Polygonize traces connected cells whose value is in classes.
	Polygonize(path string, classes []int, dissolve bool) (*geoio.FeatureCollection, error)
}

// Resampling methods accepted by gdalwarp's -r flag.
const (
	ResampleNearest  = "near"
	ResampleBilinear = "bilinear"
	ResampleSum      = "sum"
)

// WarpOptions selects the transformations applied by Warp. Zero values
// leave the corresponding property of the source unchanged.
type WarpOptions struct {
	TargetCRS  string
	Resolution float64
	// Cutline is a vector file whose polygons clip the output. Pixels
	// touching the cutline are kept.
	Cutline    string
	Resampling string
	NoData     *float64
}

// Args renders the options as gdalwarp command line arguments.
func (o WarpOptions) Args() []string {
	args := []string{"-overwrite", "-of", "GTiff"}
	if o.TargetCRS != "" {
		args = append(args, "-t_srs", o.TargetCRS)
	}
	if o.Resolution > 0 {
		res := strconv.FormatFloat(o.Resolution, 'g', -1, 64)
		args = append(args, "-tr", res, res)
	}
	if o.Cutline != "" {
		args = append(args, "-cutline", o.Cutline, "-crop_to_cutline", "-wo", "CUTLINE_ALL_TOUCHED=TRUE")
	}
	if o.NoData != nil {
		args = append(args, "-dstnodata", strconv.FormatFloat(*o.NoData, 'g', -1, 64))
	}
	r := o.Resampling
	if r == "" {
		r = ResampleNearest
	}
	return append(args, "-r", r)
}
