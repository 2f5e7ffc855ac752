package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tankindex/internal/buffer"
	"github.com/sells-group/tankindex/internal/db"
	"github.com/sells-group/tankindex/internal/index"
	"github.com/sells-group/tankindex/internal/pipeline"
	"github.com/sells-group/tankindex/internal/publish"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the DSD index and buffer radii to PostGIS",
	Long:  "Replaces the dsd_index and district_radii tables of the configured schema with the latest pipeline outputs.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dsn, _ := cmd.Flags().GetString("database-url")
		if dsn == "" {
			dsn = cfg.Publish.DatabaseURL
		}
		if dsn == "" {
			return eris.New("publish: database URL is required (--database-url or TANKINDEX_PUBLISH_DATABASE_URL)")
		}

		paths := pipeline.NewPaths(cfg.Paths)
		zones, err := index.ReadZoneLayer(paths.ZoneLayer(), cfg.Fields.ZoneCode)
		if err != nil {
			return eris.Wrap(err, "publish: read zone index")
		}
		radii, err := buffer.ReadRadii(paths.Radii())
		if err != nil {
			return eris.Wrap(err, "publish: read radii")
		}

		pool, err := db.Connect(ctx, dsn)
		if err != nil {
			return err
		}
		defer pool.Close()

		pub := publish.New(pool, cfg.Publish.Schema)
		if err := pub.Migrate(ctx); err != nil {
			return err
		}
		nz, err := pub.PublishZones(ctx, zones)
		if err != nil {
			return err
		}
		nr, err := pub.PublishRadii(ctx, radii)
		if err != nil {
			return err
		}

		zap.L().Info("publish complete",
			zap.String("schema", cfg.Publish.Schema),
			zap.Int64("zones", nz),
			zap.Int64("radii", nr),
		)
		return nil
	},
}

func init() {
	publishCmd.Flags().String("database-url", "", "PostGIS connection string (overrides publish.database_url)")
	rootCmd.AddCommand(publishCmd)
}
