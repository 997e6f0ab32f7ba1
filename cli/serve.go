package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-mizu/mizu/blueprints/objectgate/internal/iceberg/catalog"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/server"
	"github.com/go-mizu/mizu/blueprints/objectgate/internal/tenant"
)

// tenantSpec is the JSON shape one tenant takes in the --tenants file.
// Keys are strings in the file; the resolver wants byte slices.
type tenantSpec struct {
	ID                  string   `json:"id"`
	Ref                 string   `json:"ref"`
	Host                string   `json:"host"`
	JWTKeys             []string `json:"jwtKeys"`
	URLSigningKeys      []string `json:"urlSigningKeys"`
	S3AccessKeyID       string   `json:"s3AccessKeyId"`
	S3SecretAccessKey   string   `json:"s3SecretAccessKey"`
	GlobalFileSizeLimit string   `json:"globalFileSizeLimit,omitempty"`
	IcebergSuffix       string   `json:"icebergSuffix,omitempty"`
	WebhookURL          string   `json:"webhookUrl,omitempty"`
	WebhookSecret       string   `json:"webhookSecret,omitempty"`
}

// loadTenants reads and indexes the static tenant file.
func loadTenants(path string) ([]*tenant.Tenant, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	var specs []tenantSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse tenants file: %w", err)
	}

	out := make([]*tenant.Tenant, 0, len(specs))
	for _, s := range specs {
		t := &tenant.Tenant{
			ID:                s.ID,
			Ref:               s.Ref,
			Host:              s.Host,
			S3AccessKeyID:     s.S3AccessKeyID,
			S3SecretAccessKey: s.S3SecretAccessKey,
			IcebergSuffix:     s.IcebergSuffix,
			WebhookURL:        s.WebhookURL,
			WebhookSecret:     s.WebhookSecret,
		}
		for _, k := range s.JWTKeys {
			t.JWTKeys = append(t.JWTKeys, []byte(k))
		}
		for _, k := range s.URLSigningKeys {
			t.URLSigningKeys = append(t.URLSigningKeys, []byte(k))
		}
		if s.GlobalFileSizeLimit != "" {
			limit, err := parseSizeFlag(s.GlobalFileSizeLimit)
			if err != nil {
				return nil, fmt.Errorf("tenant %s: %w", s.ID, err)
			}
			t.GlobalFileSizeLimit = limit
		}
		out = append(out, t)
	}
	return out, nil
}

// NewServe builds the serve subcommand.
func NewServe() *cobra.Command {
	var (
		host             string
		port             int
		s3Port           int
		region           string
		enforceRegion    bool
		jwtSecret        string
		uploadSecret     string
		maxFileSize      string
		icebergShards    []string
		icebergToken     string
		icebergMaxTables int
		enablePprof      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tenants, err := loadTenants(tenantsFile)
			if err != nil {
				return err
			}

			cfg := &server.Config{
				Host:             host,
				Port:             port,
				S3Port:           s3Port,
				DatabaseURL:      databaseURL,
				BlobDSN:          blobDSN,
				Region:           region,
				EnforceRegion:    enforceRegion,
				JWTSecret:        jwtSecret,
				UploadSignSecret: uploadSecret,
				Tenants:          tenants,
				IcebergShardURLs: icebergShards,
				IcebergToken:     icebergToken,
				IcebergLimits: catalog.Limits{
					MaxCatalogs:   100,
					MaxNamespaces: 1000,
					MaxTables:     10000,
				},
				IcebergMaxTablesPerShard: icebergMaxTables,
				EnablePprof:              enablePprof,
			}
			if maxFileSize != "" {
				limit, err := parseSizeFlag(maxFileSize)
				if err != nil {
					return err
				}
				cfg.StandardMaxFileSize = limit
			}

			srv, err := server.New(ctx, cfg)
			if err != nil {
				return err
			}
			if err := srv.Migrate(ctx); err != nil {
				return err
			}

			printServeBanner(cfg)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Host to bind to")
	cmd.Flags().IntVar(&port, "port", 5000, "REST/TUS/Iceberg listener port")
	cmd.Flags().IntVar(&s3Port, "s3-port", 9000, "S3-compatible listener port")
	cmd.Flags().StringVar(&region, "region", "us-east-1", "S3 region")
	cmd.Flags().BoolVar(&enforceRegion, "enforce-region", false, "Reject SigV4 credentials from other regions")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "Fallback HS256 JWT secret")
	cmd.Flags().StringVar(&uploadSecret, "upload-secret", "", "Multipart progress signing secret")
	cmd.Flags().StringVar(&maxFileSize, "max-file-size", "", `Global upload ceiling, e.g. "50GB"`)
	cmd.Flags().StringSliceVar(&icebergShards, "iceberg-shard", nil, "Upstream Iceberg REST catalog URL (repeatable, indexed by shard)")
	cmd.Flags().StringVar(&icebergToken, "iceberg-token", "", "Bearer token for upstream Iceberg catalogs")
	cmd.Flags().IntVar(&icebergMaxTables, "iceberg-shard-capacity", 1000, "Max tables per Iceberg shard")
	cmd.Flags().BoolVar(&enablePprof, "pprof", false, "Expose /debug/pprof on the REST listener")

	return cmd
}
