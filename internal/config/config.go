// Package config loads the immutable run configuration for the tank index pipeline.
package config

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is built once by Load
// and passed by value or pointer into each component; nothing mutates it.
type Config struct {
	Paths      PathsConfig      `yaml:"paths" mapstructure:"paths"`
	Inputs     InputsConfig     `yaml:"inputs" mapstructure:"inputs"`
	Fields     FieldsConfig     `yaml:"fields" mapstructure:"fields"`
	Population PopulationConfig `yaml:"population" mapstructure:"population"`
	Landuse    LanduseConfig    `yaml:"landuse" mapstructure:"landuse"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Index      IndexConfig      `yaml:"index" mapstructure:"index"`
	Survey     SurveyConfig     `yaml:"survey" mapstructure:"survey"`
	Publish    PublishConfig    `yaml:"publish" mapstructure:"publish"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// PathsConfig locates the working directories and the checkpoint database.
type PathsConfig struct {
	InputDir     string `yaml:"input_dir" mapstructure:"input_dir"`
	WorkDir      string `yaml:"work_dir" mapstructure:"work_dir"`
	OutputDir    string `yaml:"output_dir" mapstructure:"output_dir"`
	CheckpointDB string `yaml:"checkpoint_db" mapstructure:"checkpoint_db"`
}

// InputsConfig names the source datasets. Relative paths resolve against Paths.InputDir.
type InputsConfig struct {
	PopulationRaster  string   `yaml:"population_raster" mapstructure:"population_raster"`
	SettlementRasters []string `yaml:"settlement_rasters" mapstructure:"settlement_rasters"`
	CountryBoundary   string   `yaml:"country_boundary" mapstructure:"country_boundary"`
	Districts         string   `yaml:"districts" mapstructure:"districts"`
	LandUse           string   `yaml:"land_use" mapstructure:"land_use"`
	Survey            string   `yaml:"survey" mapstructure:"survey"`
	Tanks             string   `yaml:"tanks" mapstructure:"tanks"`
	RainfallCov       string   `yaml:"rainfall_cov" mapstructure:"rainfall_cov"`
	Aquifers          string   `yaml:"aquifers" mapstructure:"aquifers"`
	DSDZones          string   `yaml:"dsd_zones" mapstructure:"dsd_zones"`
}

// FieldsConfig maps logical attributes to the column names used by the sources.
type FieldsConfig struct {
	DistrictName   string `yaml:"district_name" mapstructure:"district_name"`
	DistrictCode   string `yaml:"district_code" mapstructure:"district_code"`
	ZoneCode       string `yaml:"zone_code" mapstructure:"zone_code"`
	LandUse        string `yaml:"land_use" mapstructure:"land_use"`
	TankID         string `yaml:"tank_id" mapstructure:"tank_id"`
	Silt           string `yaml:"silt" mapstructure:"silt"`
	Soil           string `yaml:"soil" mapstructure:"soil"`
	Functional     string `yaml:"functional" mapstructure:"functional"`
	RainfallCov    string `yaml:"rainfall_cov" mapstructure:"rainfall_cov"`
	Aquifer        string `yaml:"aquifer" mapstructure:"aquifer"`
	SurveyDistrict string `yaml:"survey_district" mapstructure:"survey_district"`
	SurveyFraction string `yaml:"survey_fraction" mapstructure:"survey_fraction"`
}

// PopulationConfig configures raster resampling and the rural/urban split.
type PopulationConfig struct {
	TargetResolution  float64 `yaml:"target_resolution" mapstructure:"target_resolution"`
	ValueDivisor      float64 `yaml:"value_divisor" mapstructure:"value_divisor"`
	TargetCRS         string  `yaml:"target_crs" mapstructure:"target_crs"`
	SettlementClasses []int   `yaml:"settlement_classes" mapstructure:"settlement_classes"`
}

// LanduseConfig is the closed set of land-use labels.
type LanduseConfig struct {
	Agricultural    []string `yaml:"agricultural" mapstructure:"agricultural"`
	NonAgricultural []string `yaml:"non_agricultural" mapstructure:"non_agricultural"`
}

// SearchConfig configures the per-district buffer radius search.
type SearchConfig struct {
	Threshold          float64 `yaml:"threshold" mapstructure:"threshold"`
	InitialRadiusM     int     `yaml:"initial_radius_m" mapstructure:"initial_radius_m"`
	IncrementM         int     `yaml:"increment_m" mapstructure:"increment_m"`
	MaxIterations      int     `yaml:"max_iterations" mapstructure:"max_iterations"`
	SaturationFraction float64 `yaml:"saturation_fraction" mapstructure:"saturation_fraction"`
	QuadSegments       int     `yaml:"quad_segments" mapstructure:"quad_segments"`
	Concurrency        int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// AquiferYield maps an aquifer type to its pump yield.
type AquiferYield struct {
	Name      string `yaml:"name" mapstructure:"name"`
	PumpYield int    `yaml:"pump_yield" mapstructure:"pump_yield"`
}

// IndexConfig configures the tank index composition.
type IndexConfig struct {
	TankBufferM    int            `yaml:"tank_buffer_m" mapstructure:"tank_buffer_m"`
	UnknownAquifer string         `yaml:"unknown_aquifer" mapstructure:"unknown_aquifer"`
	AquiferYields  []AquiferYield `yaml:"aquifer_yields" mapstructure:"aquifer_yields"`
}

// SurveyConfig configures reading of the household survey table.
type SurveyConfig struct {
	Percent bool   `yaml:"percent" mapstructure:"percent"`
	Sheet   string `yaml:"sheet" mapstructure:"sheet"`
}

// PublishConfig configures the optional PostGIS export.
type PublishConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Unknown aquifer policies.
const (
	UnknownAquiferFail    = "fail"
	UnknownAquiferExclude = "exclude"
)

// DefaultAquiferYields is the pump-yield table for the recognised aquifer types.
func DefaultAquiferYields() []AquiferYield {
	return []AquiferYield{
		{Name: "Shallow alluvial aquifer", PumpYield: 920},
		{Name: "Deep confined aquifer", PumpYield: 585},
		{Name: "Shallow karstic acquifer", PumpYield: 400},
		{Name: "Shallow sandy aquifer", PumpYield: 225},
		{Name: "Basement regolith aquifer", PumpYield: 150},
		{Name: "Regolith or fractured aquifer", PumpYield: 75},
		{Name: "Laterite (cabook) aquifer", PumpYield: 70},
	}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TANKINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.resolveInputs()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths.input_dir", "./input-data")
	v.SetDefault("paths.work_dir", "./generated-files")
	v.SetDefault("paths.output_dir", "./output-data")
	v.SetDefault("paths.checkpoint_db", "./generated-files/checkpoints.db")

	v.SetDefault("inputs.population_raster", "lka_ppp_2020_1km_Aggregated_UNadj.tif")
	v.SetDefault("inputs.settlement_rasters", []string{
		"GHS_SMOD_E2020_GLOBE_R2023A_54009_1000_V1_0_R8_C26.tif",
		"GHS_SMOD_E2020_GLOBE_R2023A_54009_1000_V1_0_R9_C26.tif",
	})
	v.SetDefault("inputs.country_boundary", "lka_admbnda_adm0_slsd_20220816.shp")
	v.SetDefault("inputs.districts", "lka_admbnda_adm2_slsd_20220816.shp")
	v.SetDefault("inputs.land_use", "LandUse_2018.shp")
	v.SetDefault("inputs.survey", "hies_2019_agricultural_population.csv")
	v.SetDefault("inputs.tanks", "small_tanks.shp")
	v.SetDefault("inputs.rainfall_cov", "tanks_cov_rainfall.shp")
	v.SetDefault("inputs.aquifers", "tanks_rock_structure.shp")
	v.SetDefault("inputs.dsd_zones", "lka_admbnda_adm3_slsd_20220816.shp")

	v.SetDefault("fields.district_name", "ADM2_EN")
	v.SetDefault("fields.district_code", "ADM2_PCODE")
	v.SetDefault("fields.zone_code", "ADM3_PCODE")
	v.SetDefault("fields.land_use", "LU_TYPE")
	v.SetDefault("fields.tank_id", "Map_id")
	v.SetDefault("fields.silt", "silt_p")
	v.SetDefault("fields.soil", "max_soil_d")
	v.SetDefault("fields.functional", "functional")
	v.SetDefault("fields.rainfall_cov", "gridcode_m")
	v.SetDefault("fields.aquifer", "AquName")
	v.SetDefault("fields.survey_district", "district")
	v.SetDefault("fields.survey_fraction", "ag_fraction")

	v.SetDefault("population.target_resolution", 0.000833333333)
	v.SetDefault("population.value_divisor", 100.0)
	v.SetDefault("population.target_crs", "EPSG:4326")
	v.SetDefault("population.settlement_classes", []int{11, 12, 13, 21})

	v.SetDefault("landuse.agricultural", []string{
		"Paddy", "Chena", "Coconut", "Tea", "Rubber", "Other Cultivation", "Home Garden", "Sugarcane",
	})
	v.SetDefault("landuse.non_agricultural", []string{
		"Forest", "Forest Plantation", "Scrub", "Grassland", "Water", "Marsh", "Mangrove",
		"Built-up", "Rock", "Sand", "Barren", "Other",
	})

	v.SetDefault("search.threshold", 0.05)
	v.SetDefault("search.initial_radius_m", 100)
	v.SetDefault("search.increment_m", 100)
	v.SetDefault("search.max_iterations", 200)
	v.SetDefault("search.saturation_fraction", 0.95)
	v.SetDefault("search.quad_segments", 8)
	v.SetDefault("search.concurrency", 1)

	v.SetDefault("index.tank_buffer_m", 1000)
	v.SetDefault("index.unknown_aquifer", UnknownAquiferFail)
	v.SetDefault("index.aquifer_yields", DefaultAquiferYields())

	v.SetDefault("publish.schema", "tankindex")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// resolveInputs anchors relative input paths at the input directory.
func (c *Config) resolveInputs() {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.Paths.InputDir, p)
	}
	in := &c.Inputs
	in.PopulationRaster = resolve(in.PopulationRaster)
	for i, p := range in.SettlementRasters {
		in.SettlementRasters[i] = resolve(p)
	}
	in.CountryBoundary = resolve(in.CountryBoundary)
	in.Districts = resolve(in.Districts)
	in.LandUse = resolve(in.LandUse)
	in.Survey = resolve(in.Survey)
	in.Tanks = resolve(in.Tanks)
	in.RainfallCov = resolve(in.RainfallCov)
	in.Aquifers = resolve(in.Aquifers)
	in.DSDZones = resolve(in.DSDZones)
}

// Validate checks the numeric constants the pipeline depends on.
func (c *Config) Validate() error {
	s := c.Search
	switch {
	case s.Threshold <= 0 || s.Threshold >= 1:
		return eris.Errorf("config: search.threshold must be in (0,1), got %v", s.Threshold)
	case s.SaturationFraction <= 0 || s.SaturationFraction > 1:
		return eris.Errorf("config: search.saturation_fraction must be in (0,1], got %v", s.SaturationFraction)
	case s.InitialRadiusM <= 0 || s.IncrementM <= 0:
		return eris.New("config: search radii must be positive")
	case s.MaxIterations <= 0:
		return eris.Errorf("config: search.max_iterations must be positive, got %d", s.MaxIterations)
	}
	if c.Index.TankBufferM <= 0 {
		return eris.Errorf("config: index.tank_buffer_m must be positive, got %d", c.Index.TankBufferM)
	}
	if len(c.Index.AquiferYields) == 0 {
		return eris.New("config: index.aquifer_yields is empty")
	}
	switch c.Index.UnknownAquifer {
	case UnknownAquiferFail, UnknownAquiferExclude:
	default:
		return eris.Errorf("config: index.unknown_aquifer must be %q or %q, got %q",
			UnknownAquiferFail, UnknownAquiferExclude, c.Index.UnknownAquifer)
	}
	if c.Population.ValueDivisor <= 0 {
		return eris.Errorf("config: population.value_divisor must be positive, got %v", c.Population.ValueDivisor)
	}
	if len(c.Landuse.Agricultural) == 0 {
		return eris.New("config: landuse.agricultural is empty")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
