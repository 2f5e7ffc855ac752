package raster

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/lukeroth/gdal"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/model"
)

// classField is the attribute Polygonize writes the cell value into.
const classField = "class"

// GDAL implements IO on top of the GDAL C library.
type GDAL struct{}

// NewGDAL returns a GDAL-backed raster IO.
func NewGDAL() *GDAL {
	return &GDAL{}
}

// ReadBand implements IO.
func (GDAL) ReadBand(path string, band int) (*Band, error) {
	ds, err := gdal.Open(path, gdal.ReadOnly)
	if err != nil {
		return nil, model.IOErrorf(err, "raster: open %s", path)
	}
	defer ds.Close()

	if band < 1 || band > ds.RasterCount() {
		return nil, eris.Errorf("raster: %s has %d bands, asked for %d", path, ds.RasterCount(), band)
	}

	w, h := ds.RasterXSize(), ds.RasterYSize()
	rb := ds.RasterBand(band)
	values := make([]float64, w*h)
	if err := rb.IO(gdal.Read, 0, 0, w, h, values, w, h, 0, 0); err != nil {
		return nil, model.IOErrorf(err, "raster: read band %d of %s", band, path)
	}

	nodata, hasNoData := rb.NoDataValue()
	return &Band{
		Width:        w,
		Height:       h,
		Values:       values,
		GeoTransform: ds.GeoTransform(),
		NoData:       nodata,
		HasNoData:    hasNoData,
		CRS:          ds.Projection(),
	}, nil
}

// Warp implements IO. The output is written next to dst and renamed into
// place once GDAL has closed it.
func (GDAL) Warp(srcs []string, dst string, opts WarpOptions) error {
	if len(srcs) == 0 {
		return eris.New("raster: warp needs at least one source")
	}
	log := zap.L().With(zap.String("component", "raster.warp"), zap.String("dst", dst))

	datasets := make([]gdal.Dataset, 0, len(srcs))
	defer func() {
		for _, ds := range datasets {
			ds.Close()
		}
	}()
	for _, src := range srcs {
		ds, err := gdal.Open(src, gdal.ReadOnly)
		if err != nil {
			return model.IOErrorf(err, "raster: open %s", src)
		}
		datasets = append(datasets, ds)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return model.IOErrorf(err, "raster: create dir for %s", dst)
	}
	tmp := dst + ".partial.tif"
	args := opts.Args()
	log.Debug("raster: warping", zap.Strings("srcs", srcs), zap.Strings("args", args))

	out, err := gdal.Warp(tmp, nil, datasets, args)
	if err != nil {
		_ = os.Remove(tmp)
		return model.IOErrorf(err, "raster: warp into %s", dst)
	}
	out.Close()

	if err := os.Rename(tmp, dst); err != nil {
		return model.IOErrorf(err, "raster: rename %s", dst)
	}
	log.Info("raster: warp complete", zap.Int("sources", len(srcs)))
	return nil
}

// Polygonize implements IO. Cells are traced with 4-connectivity, nodata
// cells are masked out, and polygons are repaired before being returned.
func (GDAL) Polygonize(path string, classes []int, dissolve bool) (*geoio.FeatureCollection, error) {
	ds, err := gdal.Open(path, gdal.ReadOnly)
	if err != nil {
		return nil, model.IOErrorf(err, "raster: open %s", path)
	}
	defer ds.Close()

	mem, ok := gdal.OGRDriverByName("Memory").Create("polygonize", nil)
	if !ok {
		return nil, eris.New("raster: create in-memory OGR datasource")
	}
	defer mem.Destroy()

	layer := mem.CreateLayer("cells", gdal.CreateSpatialReference(ds.Projection()), gdal.GT_Polygon, nil)
	fd := gdal.CreateFieldDefinition(classField, gdal.FT_Integer)
	defer fd.Destroy()
	if err := layer.CreateField(fd, true); err != nil {
		return nil, eris.Wrap(err, "raster: create class field")
	}

	band := ds.RasterBand(1)
	if err := band.Polygonize(band.GetMaskBand(), layer, 0, nil, nil, nil); err != nil {
		return nil, eris.Wrapf(err, "raster: polygonize %s", path)
	}

	want := make(map[int]bool, len(classes))
	for _, c := range classes {
		want[c] = true
	}

	fc := &geoio.FeatureCollection{}
	layer.ResetReading()
	for feat := layer.NextFeature(); feat != nil; feat = layer.NextFeature() {
		class := feat.FieldAsInteger(0)
		if len(want) > 0 && !want[class] {
			feat.Destroy()
			continue
		}
		data, err := feat.Geometry().ToWKB()
		fid := feat.FID()
		feat.Destroy()
		if err != nil {
			return nil, eris.Wrap(err, "raster: export polygon WKB")
		}
		g, err := wkb.Unmarshal(data)
		if err != nil {
			return nil, eris.Wrap(err, "raster: decode polygon WKB")
		}
		gg, err := geoio.ToGEOS(g)
		if err != nil {
			return nil, err
		}
		if gg, err = geoio.MakeValid(gg); err != nil {
			return nil, err
		}
		if g, err = geoio.FromGEOS(gg); err != nil {
			return nil, err
		}
		f := geoio.NewFeature(strconv.FormatInt(fid, 10), g)
		f.Properties[classField] = class
		fc.Add(f)
	}

	zap.L().Debug("raster: polygonized",
		zap.String("path", path),
		zap.Int("polygons", fc.Len()),
		zap.Bool("dissolve", dissolve),
	)
	if !dissolve {
		return fc, nil
	}
	out, err := geoio.Dissolve(fc, "")
	if err != nil {
		return nil, err
	}
	for _, f := range out.Features {
		delete(f.Properties, classField)
	}
	return out, nil
}
