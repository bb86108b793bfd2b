package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/clinical-scribe/internal/bootstrap"
	"github.com/jwalitptl/clinical-scribe/internal/config"
	"github.com/jwalitptl/clinical-scribe/internal/repository/postgres"
	templateService "github.com/jwalitptl/clinical-scribe/internal/service/template"
	"github.com/jwalitptl/clinical-scribe/pkg/auth"
	"github.com/jwalitptl/clinical-scribe/pkg/logger"
)

var configDir string

func main() {
	root := &cobra.Command{
		Use:           "scribectl",
		Short:         "Administrative commands for the clinical scribe backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configDir, "config", "", "directory containing config.yml")

	root.AddCommand(migrateCmd(), templatesCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configDir == "" {
		return config.LoadConfig()
	}
	return config.LoadConfig(configDir)
}

// openPostgres loads config and connects; every command here targets the
// shared database regardless of the configured driver.
func openPostgres(cmd *cobra.Command) (*bootstrap.Store, *logger.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	l := bootstrap.Logger(cfg.Log, "scribectl")
	cfg.Database.Driver = "postgres"
	store, err := bootstrap.OpenStore(cmd.Context(), cfg, l)
	if err != nil {
		return nil, nil, err
	}
	return store, l, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, l, err := openPostgres(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := postgres.NewMigrator(store.DB).Up(cmd.Context())
			if err != nil {
				return err
			}
			l.Info("Migrations applied", "count", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := openPostgres(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			statuses, err := postgres.NewMigrator(store.DB).Status(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT")
			for _, s := range statuses {
				applied := "pending"
				if s.Applied && s.AppliedAt != nil {
					applied = s.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%03d\t%s\t%s\n", s.Version, s.Name, applied)
			}
			return w.Flush()
		},
	})
	return cmd
}

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage the LOINC template catalog",
	}

	var file string
	load := &cobra.Command{
		Use:   "load",
		Short: "Upsert field and flowsheet templates from a YAML catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := templateService.ReadCatalogFile(file)
			if err != nil {
				return err
			}

			store, l, err := openPostgres(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := templateService.NewService(store.Repos.Templates, 0).Load(cmd.Context(), catalog)
			if err != nil {
				return err
			}
			l.Info("Template catalog loaded",
				"file", file,
				"fields", summary.Fields,
				"flowsheets", summary.Flowsheets)
			return nil
		},
	}
	load.Flags().StringVarP(&file, "file", "f", "config/templates.yml", "catalog file")
	cmd.AddCommand(load)
	return cmd
}

// tokenCmd mints a bearer token signed with SCRIBE_JWT_SECRET, for local
// development against an api without an identity provider.
func tokenCmd() *cobra.Command {
	var (
		subject string
		email   string
		name    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			id := uuid.New()
			if subject != "" {
				if id, err = uuid.Parse(subject); err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
			}

			token, err := auth.NewHS256(cfg.Secrets.JWTSecret).GenerateAccessToken(auth.Identity{
				Subject: id,
				Email:   email,
				Name:    name,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "user", "", "user id (random when empty)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&name, "name", "", "name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
