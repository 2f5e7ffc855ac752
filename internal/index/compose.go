package index

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/tankindex/internal/config"
	"github.com/sells-group/tankindex/internal/model"
)

// Normalize divides every value by the maximum so the largest maps to
// exactly 1. The maximum must be positive and no value may be negative.
func Normalize(name string, vals []float64) ([]float64, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	if floats.HasNaN(vals) {
		return nil, model.IntegrityErrorf("index: %s has NaN values", name)
	}
	hi := floats.Max(vals)
	if hi <= 0 {
		return nil, model.IntegrityErrorf("index: cannot normalize %s by max %v", name, hi)
	}
	if lo := floats.Min(vals); lo < 0 {
		return nil, model.IntegrityErrorf("index: %s has negative value %v", name, lo)
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = v / hi
	}
	return out, nil
}

// FuncScore maps a tank functionality status to its score.
func FuncScore(status string) (int, error) {
	switch status {
	case "Abandoned":
		return 0, nil
	case "Damaged":
		return 1, nil
	case "Functioning":
		return 2, nil
	default:
		return 0, &model.CategoryError{Field: "functional", Value: status}
	}
}

// Composer computes per-tank scores.
type Composer struct {
	policy string
	yields map[string]int
	ranks  map[int]int
	levels int
}

// NewComposer builds the pump yield lookup from cfg. Distinct yields are
// ranked from 1 (lowest) to the number of distinct yields (highest).
func NewComposer(cfg config.IndexConfig) (*Composer, error) {
	if len(cfg.AquiferYields) == 0 {
		return nil, eris.New("index: empty aquifer yield table")
	}
	c := &Composer{
		policy: cfg.UnknownAquifer,
		yields: make(map[string]int, len(cfg.AquiferYields)),
		ranks:  make(map[int]int),
	}
	var distinct []int
	for _, a := range cfg.AquiferYields {
		c.yields[aquiferKey(a.Name)] = a.PumpYield
		if _, ok := c.ranks[a.PumpYield]; !ok {
			c.ranks[a.PumpYield] = 0
			distinct = append(distinct, a.PumpYield)
		}
	}
	sort.Ints(distinct)
	for i, y := range distinct {
		c.ranks[y] = i + 1
	}
	c.levels = len(distinct)
	return c, nil
}

func aquiferKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// PumpYield looks up the pump yield and rank of an aquifer type.
func (c *Composer) PumpYield(aquifer string) (yield, rank int, err error) {
	y, ok := c.yields[aquiferKey(aquifer)]
	if !ok {
		return 0, 0, &model.CategoryError{Field: "aquifer", Value: aquifer}
	}
	return y, c.ranks[y], nil
}

// NormGeoRank is rank divided by the number of ranks.
func (c *Composer) NormGeoRank(rank int) float64 {
	return float64(rank) / float64(c.levels)
}

// Inputs are the joined per-tank sources. Served and Covariance rows are
// matched on tank id; a tank without a served row serves nobody, and a tank
// without a covariance row has no demand index.
type Inputs struct {
	Tanks      []model.Tank
	Served     []model.TankPopulation
	Covariance map[string]float64
	Aquifers   map[string]string
}

// Compose scores every tank. Normalization denominators are taken over the
// full tank population.
func (c *Composer) Compose(in Inputs) ([]model.TankScore, error) {
	log := zap.L().With(zap.String("component", "index.compose"))
	n := len(in.Tanks)
	if n == 0 {
		return nil, model.IntegrityErrorf("index: no tanks")
	}

	silt := make([]float64, n)
	soil := make([]float64, n)
	for i, t := range in.Tanks {
		silt[i], soil[i] = t.SiltDepth, t.SoilDepth
	}
	siltScore, err := Normalize("silt_p", silt)
	if err != nil {
		return nil, err
	}
	soilScore, err := Normalize("max_soil_d", soil)
	if err != nil {
		return nil, err
	}
	supply := make([]float64, n)
	for i := range supply {
		supply[i] = (siltScore[i] + soilScore[i]) / 2
	}
	supplyIndex, err := Normalize("tank_supply_score", supply)
	if err != nil {
		return nil, err
	}

	served := make(map[string]model.TankPopulation, len(in.Served))
	for _, s := range in.Served {
		served[s.ID] = s
	}
	pop := make([]float64, n)
	for i, t := range in.Tanks {
		pop[i] = served[t.ID].PopCount
	}
	normADP, err := Normalize("pop_count", pop)
	if err != nil {
		return nil, err
	}

	normCov, err := normalizeMap("gridcode_m", in.Covariance)
	if err != nil {
		return nil, err
	}

	out := make([]model.TankScore, n)
	excluded := 0
	for i, t := range in.Tanks {
		fs, err := FuncScore(t.Functional)
		if err != nil {
			return nil, eris.Wrapf(err, "index: tank %s", t.ID)
		}
		zone := t.ZoneCode
		if zone == "" {
			zone = served[t.ID].ZoneCode
		}
		s := model.TankScore{
			ID:          t.ID,
			ZoneCode:    zone,
			SiltDepth:   t.SiltDepth,
			SoilDepth:   t.SoilDepth,
			SiltScore:   siltScore[i],
			SoilScore:   soilScore[i],
			SupplyScore: supply[i],
			SupplyIndex: supplyIndex[i],
			FuncScore:   fs,
			PopCount:    pop[i],
			NormADP:     normADP[i],
		}
		if cov, ok := normCov[t.ID]; ok {
			d := normADP[i] * cov
			s.NormCov = &cov
			s.DemandIndex = &d
		}

		if aq, ok := in.Aquifers[t.ID]; ok {
			s.AquiferType = aq
			y, r, err := c.PumpYield(aq)
			switch {
			case err == nil:
				ng := c.NormGeoRank(r)
				s.PumpYield, s.GeoRank, s.NormGeoRank = &y, &r, &ng
			case c.policy == config.UnknownAquiferExclude:
				excluded++
			default:
				return nil, eris.Wrapf(err, "index: tank %s", t.ID)
			}
		}
		out[i] = s
	}
	if excluded > 0 {
		log.Warn("index: tanks with unknown aquifer excluded from utility score", zap.Int("tanks", excluded))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	log.Info("index: tanks scored", zap.Int("tanks", len(out)))
	return out, nil
}

// normalizeMap normalizes the values of m by their maximum.
func normalizeMap(name string, m map[string]float64) (map[string]float64, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]float64, len(keys))
	for i, k := range keys {
		vals[i] = m[k]
	}
	norm, err := Normalize(name, vals)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(keys))
	for i, k := range keys {
		out[k] = norm[i]
	}
	return out, nil
}
