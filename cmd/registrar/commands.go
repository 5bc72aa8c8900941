package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/service"
	"github.com/noah-isme/registrar-api/pkg/database"
)

const commandTimeout = 2 * time.Minute

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logr, err := bootstrap()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			db, err := database.NewPostgres(cfg.Database)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			applied, err := database.Migrate(ctx, db)
			for _, name := range applied {
				logr.Info("migration applied", zap.String("file", name))
			}
			return err
		},
	}
}

func newPublishCommand() *cobra.Command {
	var catalogPath string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a subject catalog from a YAML file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(catalogPath)
			if err != nil {
				return fmt.Errorf("read catalog: %w", err)
			}
			var file dto.SubjectCatalogFile
			if err := yaml.Unmarshal(raw, &file); err != nil {
				return fmt.Errorf("parse catalog %s: %w", catalogPath, err)
			}

			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				created, skipped, err := a.catalog.Publish(ctx, file)
				if err != nil {
					return err
				}
				a.logger.Info("catalog published",
					zap.String("term", file.Term),
					zap.Int("created", len(created)),
					zap.Strings("skipped", skipped),
				)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "path to the catalog YAML file")
	_ = cmd.MarkFlagRequired("catalog")
	return cmd
}

func newAuditCommand() *cobra.Command {
	var termLabel string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Reconcile capacity ledger counters with stored records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				state, err := a.restore(ctx)
				if err != nil {
					return err
				}
				term := state.Term
				if termLabel != "" {
					if term, err = models.ParseTerm(termLabel); err != nil {
						return err
					}
				}
				if term.IsZero() {
					return errors.New("no active term; pass --term")
				}

				report, err := a.audit.Reconcile(ctx, term)
				if err != nil {
					return err
				}
				out, err := yaml.Marshal(report)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(out))
				if !report.Healthy() {
					return fmt.Errorf("%d discrepancies found", len(report.Discrepancies))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&termLabel, "term", "", "term to audit as YYYY-H (defaults to the active term)")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		userID int64
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logr, err := bootstrap()
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			auth := service.NewAuthService(logr, service.AuthConfig{
				AccessTokenSecret: cfg.JWT.Secret,
				Issuer:            cfg.JWT.Issuer,
				Audience:          cfg.JWT.Audience,
			})
			token, expiresAt, err := auth.IssueToken(userID, models.UserRole(role), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			logr.Info("token issued", zap.Int64("user_id", userID), zap.String("role", role), zap.Time("expires_at", expiresAt))
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user id carried in the token")
	cmd.Flags().StringVar(&role, "role", string(models.RoleStudent), "role: ADMIN, STAFF, PROFESSOR or STUDENT")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// withApp runs fn against a fully wired app with a bounded context.
func withApp(parent context.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, logr, err := bootstrap()
	if err != nil {
		return err
	}
	defer logr.Sync() //nolint:errcheck

	a, err := newApp(cfg, logr)
	if err != nil {
		return err
	}
	defer a.close()

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()
	return fn(ctx, a)
}
