package pipeline

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/attribution"
	"github.com/sells-group/tankindex/internal/buffer"
	"github.com/sells-group/tankindex/internal/district"
	"github.com/sells-group/tankindex/internal/geoio"
	"github.com/sells-group/tankindex/internal/index"
	"github.com/sells-group/tankindex/internal/landuse"
	"github.com/sells-group/tankindex/internal/model"
	"github.com/sells-group/tankindex/internal/population"
	"github.com/sells-group/tankindex/internal/raster"
	"github.com/sells-group/tankindex/internal/survey"
)

func (p *Pipeline) defaultStages() []Stage {
	cfg, paths := p.cfg, p.paths
	return []Stage{
		{
			ID:       StagePopulation,
			Inputs:   func() []string { return []string{cfg.Inputs.PopulationRaster} },
			Settings: func() any { return cfg.Population },
			Run:      p.runPopulation,
		},
		{
			ID: StageSettlement,
			Inputs: func() []string {
				in := append([]string{}, cfg.Inputs.SettlementRasters...)
				return append(in, cfg.Inputs.CountryBoundary, paths.PopPoints())
			},
			Settings: func() any { return cfg.Population },
			Run:      p.runSettlement,
		},
		{
			ID:     StageDistricts,
			Inputs: func() []string { return []string{cfg.Inputs.Districts} },
			Settings: func() any {
				return []string{cfg.Fields.DistrictName, cfg.Fields.DistrictCode}
			},
			Run: p.runDistricts,
		},
		{
			ID:     StageLanduse,
			Inputs: func() []string { return []string{cfg.Inputs.LandUse, paths.Districts()} },
			Settings: func() any {
				return map[string]any{"field": cfg.Fields.LandUse, "classes": cfg.Landuse}
			},
			Run: p.runLanduse,
		},
		{
			ID: StageAggregate,
			Inputs: func() []string {
				return []string{paths.PopPoints(), paths.RuralPoints(), paths.Districts(), paths.Agland()}
			},
			Run: p.runAggregate,
		},
		{
			ID:     StageReconcile,
			Inputs: func() []string { return []string{paths.DistrictPopulation(), cfg.Inputs.Survey} },
			Settings: func() any {
				return map[string]any{
					"threshold": cfg.Search.Threshold,
					"survey":    cfg.Survey,
					"fields":    []string{cfg.Fields.SurveyDistrict, cfg.Fields.SurveyFraction},
				}
			},
			Run: p.runReconcile,
		},
		{
			ID: StageSearch,
			Inputs: func() []string {
				return []string{paths.Comparison(), paths.RuralPoints(), paths.Districts(), paths.Agland()}
			},
			Settings: func() any {
				s := cfg.Search
				s.Concurrency = 0
				return s
			},
			Run: p.runSearch,
		},
		{
			ID: StageAttribute,
			Inputs: func() []string {
				return []string{paths.Radii(), paths.Buffers(), paths.RuralPoints(), cfg.Inputs.Tanks, cfg.Inputs.DSDZones}
			},
			Settings: func() any {
				return map[string]any{
					"tank_buffer_m": cfg.Index.TankBufferM,
					"quad_segments": cfg.Search.QuadSegments,
					"fields":        cfg.Fields,
				}
			},
			Run: p.runAttribute,
		},
		{
			ID: StageIndex,
			Inputs: func() []string {
				return []string{
					cfg.Inputs.Tanks, cfg.Inputs.RainfallCov, cfg.Inputs.Aquifers,
					cfg.Inputs.DSDZones, paths.TankPopulation(),
				}
			},
			Settings: func() any {
				return map[string]any{"index": cfg.Index, "fields": cfg.Fields}
			},
			Run: p.runIndex,
		},
	}
}

func (p *Pipeline) needRaster() error {
	if p.raster == nil {
		return eris.New("pipeline: raster stages need a raster toolkit")
	}
	return nil
}

func (p *Pipeline) runPopulation(_ context.Context) (*Output, error) {
	if err := p.needRaster(); err != nil {
		return nil, err
	}
	d := population.NewDistributor(p.raster, p.cfg.Population)
	if err := d.Resample(p.cfg.Inputs.PopulationRaster, p.paths.ResampledPop()); err != nil {
		return nil, err
	}
	pts, err := d.Sample(p.paths.ResampledPop())
	if err != nil {
		return nil, err
	}
	if err := population.WritePoints(p.paths.PopPoints(), pts); err != nil {
		return nil, err
	}
	return &Output{
		Files:    []string{p.paths.ResampledPop(), p.paths.PopPoints()},
		Metadata: map[string]any{"points": len(pts), "population": population.Sum(pts)},
	}, nil
}

func (p *Pipeline) runSettlement(_ context.Context) (*Output, error) {
	if err := p.needRaster(); err != nil {
		return nil, err
	}
	err := p.raster.Warp(p.cfg.Inputs.SettlementRasters, p.paths.SettlementMerged(), raster.WarpOptions{
		TargetCRS:  p.cfg.Population.TargetCRS,
		Cutline:    p.cfg.Inputs.CountryBoundary,
		Resampling: raster.ResampleNearest,
	})
	if err != nil {
		return nil, err
	}

	parts, err := p.raster.Polygonize(p.paths.SettlementMerged(), p.cfg.Population.SettlementClasses, false)
	if err != nil {
		return nil, err
	}
	if err := geoio.WriteVector(parts, p.paths.RuralParts()); err != nil {
		return nil, err
	}
	rural, err := geoio.Dissolve(parts, "")
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: dissolve rural settlement")
	}
	var ruralGeom geom.T = geom.NewMultiPolygon(geom.XY)
	if rural.Len() > 0 {
		ruralGeom = rural.Features[0].Geometry
		rural.Features[0].Properties = map[string]any{}
	}
	if err := geoio.WriteVector(rural, p.paths.Rural()); err != nil {
		return nil, err
	}

	pts, err := population.ReadPoints(p.paths.PopPoints())
	if err != nil {
		return nil, err
	}
	region, err := geoio.RegionFromGeom(ruralGeom)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: prepare rural region")
	}
	inside, _ := population.SplitRural(pts, region)
	if err := population.WritePoints(p.paths.RuralPoints(), inside); err != nil {
		return nil, err
	}
	return &Output{
		Files: []string{p.paths.SettlementMerged(), p.paths.RuralParts(), p.paths.Rural(), p.paths.RuralPoints()},
		Metadata: map[string]any{
			"rural_parts":      parts.Len(),
			"rural_points":     len(inside),
			"rural_population": population.Sum(inside),
		},
	}, nil
}

func (p *Pipeline) runDistricts(_ context.Context) (*Output, error) {
	fc, err := geoio.ReadVector(p.cfg.Inputs.Districts)
	if err != nil {
		return nil, err
	}
	districts, err := district.FromFeatures(fc, p.cfg.Fields.DistrictName, p.cfg.Fields.DistrictCode)
	if err != nil {
		return nil, err
	}
	dir := p.paths.Districts()
	if err := resetDir(dir); err != nil {
		return nil, err
	}
	if err := district.Write(dir, districts); err != nil {
		return nil, err
	}
	return &Output{Files: []string{dir}, Metadata: map[string]any{"districts": len(districts)}}, nil
}

func (p *Pipeline) runLanduse(_ context.Context) (*Output, error) {
	fc, err := geoio.ReadVector(p.cfg.Inputs.LandUse)
	if err != nil {
		return nil, err
	}
	parcels, err := landuse.NewClassifier(p.cfg.Landuse).Agricultural(fc, p.cfg.Fields.LandUse)
	if err != nil {
		return nil, err
	}
	districts, err := district.ReadAll(p.paths.Districts())
	if err != nil {
		return nil, err
	}
	regions, err := landuse.Regions(parcels, districts)
	if err != nil {
		return nil, err
	}
	dir := p.paths.Agland()
	if err := resetDir(dir); err != nil {
		return nil, err
	}
	if err := landuse.Write(dir, regions); err != nil {
		return nil, err
	}
	return &Output{
		Files:    []string{dir},
		Metadata: map[string]any{"parcels": fc.Len(), "agricultural_parcels": parcels.Len()},
	}, nil
}

func (p *Pipeline) runAggregate(ctx context.Context) (*Output, error) {
	all, err := population.ReadPoints(p.paths.PopPoints())
	if err != nil {
		return nil, err
	}
	rural, err := population.ReadPoints(p.paths.RuralPoints())
	if err != nil {
		return nil, err
	}
	districts, agland, err := p.districtsWithAgland()
	if err != nil {
		return nil, err
	}
	agg := district.NewAggregator(population.NewIndex(all), population.NewIndex(rural), p.cfg.Search.Concurrency)
	rows, err := agg.Aggregate(ctx, districts, agland)
	if err != nil {
		return nil, err
	}
	if err := district.WritePopulation(p.paths.DistrictPopulation(), rows); err != nil {
		return nil, err
	}
	return &Output{Files: []string{p.paths.DistrictPopulation()}, Metadata: map[string]any{"districts": len(rows)}}, nil
}

func (p *Pipeline) runReconcile(_ context.Context) (*Output, error) {
	pops, err := district.ReadPopulation(p.paths.DistrictPopulation())
	if err != nil {
		return nil, err
	}
	rows, err := survey.Load(p.cfg.Inputs.Survey, survey.Options{
		DistrictField: p.cfg.Fields.SurveyDistrict,
		FractionField: p.cfg.Fields.SurveyFraction,
		Sheet:         p.cfg.Survey.Sheet,
		Percent:       p.cfg.Survey.Percent,
	})
	if err != nil {
		return nil, err
	}
	comps, err := district.Reconcile(pops, rows, p.cfg.Search.Threshold)
	if err != nil {
		return nil, err
	}
	if err := district.WriteComparisons(p.paths.Comparison(), comps); err != nil {
		return nil, err
	}

	counts := make(map[string]any, 3)
	for _, c := range comps {
		n, _ := counts[string(c.Classification)].(int)
		counts[string(c.Classification)] = n + 1
	}
	return &Output{Files: []string{p.paths.Comparison()}, Metadata: counts}, nil
}

func (p *Pipeline) runSearch(ctx context.Context) (*Output, error) {
	results, capturer, err := p.search(ctx, nil)
	if err != nil {
		return nil, err
	}

	dir := p.paths.Buffers()
	if err := resetDir(dir); err != nil {
		return nil, err
	}
	for _, r := range results {
		g := r.Geometry
		if g == nil {
			region, err := capturer.Region(r.Key, r.RadiusM)
			if err != nil {
				return nil, err
			}
			if g, err = geoio.FromGEOS(region); err != nil {
				return nil, err
			}
		}
		if err := buffer.WriteArtifact(dir, r.Key, r.RadiusM, g); err != nil {
			return nil, err
		}
	}
	if err := buffer.WriteRadii(p.paths.Radii(), buffer.Radii(results)); err != nil {
		return nil, err
	}

	states := make(map[string]any, 3)
	for _, r := range results {
		n, _ := states[r.State.String()].(int)
		states[r.State.String()] = n + 1
	}
	return &Output{Files: []string{p.paths.Radii(), dir}, Metadata: states}, nil
}

func (p *Pipeline) runAttribute(ctx context.Context) (*Output, error) {
	log := zap.L().With(zap.String("component", "pipeline.attribute"))

	radii, err := buffer.ReadRadii(p.paths.Radii())
	if err != nil {
		return nil, err
	}
	buffers := make([]geom.T, 0, len(radii))
	for _, r := range radii {
		g, err := buffer.ReadArtifact(p.paths.Buffers(), r.Key, r.RadiusM)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: accepted buffer of %s", r.Key)
		}
		buffers = append(buffers, g)
	}
	merged, err := attribution.MergeBuffers(buffers)
	if err != nil {
		return nil, err
	}
	mergedFC := &geoio.FeatureCollection{}
	mergedFC.Add(geoio.NewFeature("merged", merged))
	if err := geoio.WriteVector(mergedFC, p.paths.MergedBuffers()); err != nil {
		return nil, err
	}

	rural, err := population.ReadPoints(p.paths.RuralPoints())
	if err != nil {
		return nil, err
	}
	adp, err := attribution.ADPPoints(rural, merged)
	if err != nil {
		return nil, err
	}
	if err := population.WritePoints(p.paths.ADPPoints(), adp); err != nil {
		return nil, err
	}

	tanks, err := p.loadTanks(true)
	if err != nil {
		return nil, err
	}
	tankBuffers, err := attribution.BufferTanks(tanks, p.cfg.Index.TankBufferM, p.cfg.Search.QuadSegments)
	if err != nil {
		return nil, err
	}
	layer := attribution.Features(tankBuffers, p.cfg.Fields.TankID, p.cfg.Fields.ZoneCode)
	if err := geoio.WriteVector(layer, p.paths.TankBuffers()); err != nil {
		return nil, err
	}

	served, err := attribution.Serve(ctx, tankBuffers, population.NewIndex(adp), p.cfg.Search.Concurrency)
	if err != nil {
		return nil, err
	}
	if err := attribution.WriteTankPopulation(p.paths.TankPopulation(), served); err != nil {
		return nil, err
	}
	log.Info("pipeline: attributed population to tanks",
		zap.Int("tanks", len(served)),
		zap.Float64("adp", population.Sum(adp)),
	)
	return &Output{
		Files: []string{p.paths.MergedBuffers(), p.paths.ADPPoints(), p.paths.TankBuffers(), p.paths.TankPopulation()},
		Metadata: map[string]any{
			"tanks":          len(served),
			"adp_points":     len(adp),
			"adp_population": population.Sum(adp),
		},
	}, nil
}

func (p *Pipeline) runIndex(_ context.Context) (*Output, error) {
	f := p.cfg.Fields
	tanks, err := p.loadTanks(false)
	if err != nil {
		return nil, err
	}
	served, err := attribution.ReadTankPopulation(p.paths.TankPopulation())
	if err != nil {
		return nil, err
	}
	covFC, err := geoio.ReadVector(p.cfg.Inputs.RainfallCov)
	if err != nil {
		return nil, err
	}
	cov, err := index.LoadCovariance(covFC, f.TankID, f.RainfallCov)
	if err != nil {
		return nil, err
	}
	aqFC, err := geoio.ReadVector(p.cfg.Inputs.Aquifers)
	if err != nil {
		return nil, err
	}
	aquifers, err := index.LoadAquifers(aqFC, f.TankID, f.Aquifer)
	if err != nil {
		return nil, err
	}

	composer, err := index.NewComposer(p.cfg.Index)
	if err != nil {
		return nil, err
	}
	scores, err := composer.Compose(index.Inputs{
		Tanks:      tanks,
		Served:     served,
		Covariance: cov,
		Aquifers:   aquifers,
	})
	if err != nil {
		return nil, err
	}
	if err := index.WriteScores(p.paths.Scores(), scores); err != nil {
		return nil, err
	}

	zonesFC, err := geoio.ReadVector(p.cfg.Inputs.DSDZones)
	if err != nil {
		return nil, err
	}
	zones := index.Zones(scores, zonesFC, f.ZoneCode)
	if err := index.WriteZones(p.paths.Zones(), zones); err != nil {
		return nil, err
	}
	if err := index.WriteZoneLayer(p.paths.ZoneLayer(), f.ZoneCode, zones); err != nil {
		return nil, err
	}
	return &Output{
		Files:    []string{p.paths.Scores(), p.paths.Zones(), p.paths.ZoneLayer()},
		Metadata: map[string]any{"tanks": len(scores), "zones": len(zones)},
	}, nil
}

// loadTanks reads the tank layer, placing tanks without a zone code into the
// DSD zone under their surface point when assign is set.
func (p *Pipeline) loadTanks(assign bool) ([]model.Tank, error) {
	fc, err := geoio.ReadVector(p.cfg.Inputs.Tanks)
	if err != nil {
		return nil, err
	}
	tanks, err := index.LoadTanks(fc, p.cfg.Fields)
	if err != nil {
		return nil, err
	}
	if !assign {
		return tanks, nil
	}
	zones, err := geoio.ReadVector(p.cfg.Inputs.DSDZones)
	if err != nil {
		return nil, err
	}
	if err := index.AssignZones(tanks, zones, p.cfg.Fields.ZoneCode); err != nil {
		return nil, err
	}
	return tanks, nil
}

// districtsWithAgland reads the district boundaries and their agricultural
// land written by the districts and landuse stages.
func (p *Pipeline) districtsWithAgland() ([]model.District, map[string]geom.T, error) {
	districts, err := district.ReadAll(p.paths.Districts())
	if err != nil {
		return nil, nil, err
	}
	keys := make([]string, len(districts))
	for i, d := range districts {
		keys[i] = d.Key
	}
	agland, err := landuse.Read(p.paths.Agland(), keys)
	if err != nil {
		return nil, nil, err
	}
	return districts, agland, nil
}

// resetDir empties a per-district artifact directory so files left by an
// earlier run cannot leak into the next stage's inputs.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return model.IOErrorf(err, "pipeline: clear %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.IOErrorf(err, "pipeline: create %s", dir)
	}
	return nil
}
