// Package publish pushes the DSD index and the accepted buffer radii into a
// PostGIS database.
package publish

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/db"
	"github.com/sells-group/tankindex/internal/model"
)

// SRID of every published geometry.
const SRID = 4326

// Table names under the publisher's schema.
const (
	ZoneTable   = "dsd_index"
	RadiusTable = "district_radii"
)

var (
	zoneColumns = []string{
		"zone_code", "silt_p", "max_soil_d", "tank_supply_index",
		"demand_index", "n_geo_rank", "tank_count", "geom",
	}
	radiusColumns = []string{"district_key", "district", "radius_m"}
)

// Publisher writes pipeline results into one schema.
type Publisher struct {
	pool   db.Pool
	schema string
}

// New returns a Publisher writing into schema.
func New(pool db.Pool, schema string) *Publisher {
	if schema == "" {
		schema = "tankindex"
	}
	return &Publisher{pool: pool, schema: schema}
}

// Migrate creates the schema and tables if they do not exist.
func (p *Publisher) Migrate(ctx context.Context) error {
	schema := pgx.Identifier{p.schema}.Sanitize()
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis`,
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	zone_code         TEXT PRIMARY KEY,
	silt_p            DOUBLE PRECISION NOT NULL,
	max_soil_d        DOUBLE PRECISION NOT NULL,
	tank_supply_index DOUBLE PRECISION NOT NULL,
	demand_index      DOUBLE PRECISION,
	n_geo_rank        DOUBLE PRECISION,
	tank_count        INTEGER NOT NULL,
	geom              geometry(MultiPolygon, %d)
)`, pgx.Identifier{p.schema, ZoneTable}.Sanitize(), SRID),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	district_key TEXT PRIMARY KEY,
	district     TEXT NOT NULL,
	radius_m     INTEGER NOT NULL
)`, pgx.Identifier{p.schema, RadiusTable}.Sanitize()),
	}
	for _, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return eris.Wrapf(err, "publish: migrate schema %s", p.schema)
		}
	}
	return nil
}

// PublishZones replaces the DSD index table with zones.
func (p *Publisher) PublishZones(ctx context.Context, zones []model.ZoneIndex) (int64, error) {
	rows := make([][]any, 0, len(zones))
	for _, z := range zones {
		g, err := encodeGeometry(z.Geometry)
		if err != nil {
			return 0, eris.Wrapf(err, "publish: zone %s", z.ZoneCode)
		}
		rows = append(rows, []any{
			z.ZoneCode, z.SiltDepth, z.SoilDepth, z.SupplyIndex,
			z.DemandIndex, z.NormGeoRank, z.TankCount, g,
		})
	}
	n, err := db.Replace(ctx, p.pool, p.schema, ZoneTable, zoneColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "publish: zones")
	}
	zap.L().Info("publish: zones written", zap.String("schema", p.schema), zap.Int64("rows", n))
	return n, nil
}

// PublishRadii replaces the district radius table with radii.
func (p *Publisher) PublishRadii(ctx context.Context, radii []model.BufferRadius) (int64, error) {
	rows := make([][]any, 0, len(radii))
	for _, r := range radii {
		rows = append(rows, []any{r.Key, r.Name, r.RadiusM})
	}
	n, err := db.Replace(ctx, p.pool, p.schema, RadiusTable, radiusColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "publish: radii")
	}
	zap.L().Info("publish: radii written", zap.String("schema", p.schema), zap.Int64("rows", n))
	return n, nil
}

// encodeGeometry renders g as little-endian EWKB MultiPolygon with the
// published SRID. A nil geometry is stored as NULL.
func encodeGeometry(g geom.T) ([]byte, error) {
	var mp *geom.MultiPolygon
	switch t := g.(type) {
	case nil:
		return nil, nil
	case *geom.MultiPolygon:
		mp = geom.NewMultiPolygonFlat(t.Layout(), t.FlatCoords(), t.Endss())
	case *geom.Polygon:
		mp = geom.NewMultiPolygon(t.Layout())
		if err := mp.Push(t); err != nil {
			return nil, eris.Wrap(err, "publish: promote polygon")
		}
	default:
		return nil, eris.Errorf("publish: unsupported geometry %T", g)
	}
	if mp.Layout() == geom.NoLayout {
		mp = geom.NewMultiPolygon(geom.XY)
	}
	data, err := ewkb.Marshal(mp.SetSRID(SRID), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "publish: encode EWKB")
	}
	return data, nil
}
