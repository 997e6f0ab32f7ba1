package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/dbgateway"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/objectkey"
)

// parseSizeFlag parses a human-readable size ("50GB") from a flag or
// tenant file value.
func parseSizeFlag(s string) (int64, error) {
	n, err := objectkey.ParseSize(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q (want e.g. 500MB, 50GB)", s)
	}
	return n, nil
}

// NewMigrate builds the migrate subcommand.
func NewMigrate() *cobra.Command {
	var (
		shards        int
		shardCapacity int
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := dbgateway.Open(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(ctx); err != nil {
				return err
			}
			if shards > 0 {
				if err := db.EnsureShards(ctx, shards, shardCapacity); err != nil {
					return err
				}
			}

			fmt.Println(successStyle.Render("schema up to date"))
			return nil
		},
	}

	cmd.Flags().IntVar(&shards, "iceberg-shards", 0, "Seed this many Iceberg shards")
	cmd.Flags().IntVar(&shardCapacity, "iceberg-shard-capacity", 1000, "Max tables per Iceberg shard")

	return cmd
}
