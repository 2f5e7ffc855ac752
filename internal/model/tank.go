package model

import "github.com/twpayne/go-geom"

// Tank is an irrigation tank with the raw attributes used by the index.
type Tank struct {
	ID         string
	ZoneCode   string
	SiltDepth  float64
	SoilDepth  float64
	Functional string
	Geometry   geom.T
}

// TankPopulation is the agricultural-dependent population served by a tank.
type TankPopulation struct {
	ID       string  `csv:"Map_id"`
	ZoneCode string  `csv:"ADM3_PCODE"`
	PopCount float64 `csv:"pop_count"`
}

// TankScore holds the composed per-tank scores. Pointer fields are nil when
// the score is undefined for the tank (for example a missing join row).
type TankScore struct {
	ID          string   `csv:"Map_id"`
	ZoneCode    string   `csv:"ADM3_PCODE"`
	SiltDepth   float64  `csv:"silt_p"`
	SoilDepth   float64  `csv:"max_soil_d"`
	SiltScore   float64  `csv:"silt_score"`
	SoilScore   float64  `csv:"soil_score"`
	SupplyScore float64  `csv:"tank_supply_score"`
	SupplyIndex float64  `csv:"tank_supply_index"`
	FuncScore   int      `csv:"func_score"`
	PopCount    float64  `csv:"pop_count"`
	NormADP     float64  `csv:"norm_adp"`
	NormCov     *float64 `csv:"norm_cov,omitempty"`
	DemandIndex *float64 `csv:"demand_index,omitempty"`
	AquiferType string   `csv:"AquName"`
	PumpYield   *int     `csv:"pump_yield,omitempty"`
	GeoRank     *int     `csv:"geo_rank,omitempty"`
	NormGeoRank *float64 `csv:"n_geo_rank,omitempty"`
}

// ZoneIndex is the DSD-level aggregate of tank scores.
type ZoneIndex struct {
	ZoneCode    string   `csv:"ADM3_PCODE"`
	SiltDepth   float64  `csv:"silt_p"`
	SoilDepth   float64  `csv:"max_soil_d"`
	SupplyIndex float64  `csv:"tank_supply_index"`
	DemandIndex *float64 `csv:"demand_index,omitempty"`
	NormGeoRank *float64 `csv:"n_geo_rank,omitempty"`
	TankCount   int      `csv:"Map_id"`
	Geometry    geom.T   `csv:"-"`
}
