package pipeline

import (
	"path/filepath"

	"github.com/sells-group/tankindex/internal/config"
)

// Paths names every artifact the stages exchange. Intermediate artifacts
// live under the work directory, deliverables under the output directory.
type Paths struct {
	Work string
	Out  string
}

// NewPaths anchors the artifact names at the configured directories.
func NewPaths(cfg config.PathsConfig) Paths {
	return Paths{Work: cfg.WorkDir, Out: cfg.OutputDir}
}

func (p Paths) work(name string) string { return filepath.Join(p.Work, name) }
func (p Paths) out(name string) string  { return filepath.Join(p.Out, name) }

// ResampledPop is the population raster at the target resolution.
func (p Paths) ResampledPop() string { return p.work("100m_resampled_pop.tif") }

// PopPoints holds every populated pixel centre.
func (p Paths) PopPoints() string { return p.work("pop_points.csv") }

// SettlementMerged is the mosaicked, reprojected and clipped settlement grid.
func (p Paths) SettlementMerged() string { return p.work("settlement_merged.tif") }

// Rural is the dissolved rural settlement region.
func (p Paths) Rural() string { return p.work("settlement_rural.geojson") }

// RuralParts is the rural settlement region before dissolving.
func (p Paths) RuralParts() string { return p.work("settlement_rural_parts.geojson") }

// RuralPoints holds the population points inside the rural region.
func (p Paths) RuralPoints() string { return p.work("pop_points_rural.csv") }

// Districts holds one boundary file per district.
func (p Paths) Districts() string { return p.work("districts") }

// Agland holds one agricultural land file per district.
func (p Paths) Agland() string { return p.work("agland") }

// DistrictPopulation is the per-district population table.
func (p Paths) DistrictPopulation() string { return p.work("district_population.csv") }

// Buffers holds the accepted buffer of every district.
func (p Paths) Buffers() string { return p.work("buffers") }

// MergedBuffers is the union of the accepted buffers.
func (p Paths) MergedBuffers() string { return p.work("agland_buffer_merged.geojson") }

// ADPPoints holds the agricultural-dependent population points.
func (p Paths) ADPPoints() string { return p.work("adp_points.csv") }

// TankBuffers is the catchment layer drawn around the tanks.
func (p Paths) TankBuffers() string { return p.work("tank_buffers.geojson") }

// TankPopulation is the served population per tank.
func (p Paths) TankPopulation() string { return p.work("tank_population.csv") }

// Comparison is the district comparison table.
func (p Paths) Comparison() string { return p.out("district_comparison.csv") }

// Radii is the accepted buffer radius table.
func (p Paths) Radii() string { return p.out("buffer_radii.csv") }

// Zones is the DSD index table.
func (p Paths) Zones() string { return p.out("tanks_dsd_level.csv") }

// ZoneLayer is the DSD index with zone geometry.
func (p Paths) ZoneLayer() string { return p.out("tanks_dsd_level.geojson") }

// Scores is the per-tank score table.
func (p Paths) Scores() string { return p.out("tank_scores.csv") }
