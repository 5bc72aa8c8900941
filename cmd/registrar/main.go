package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/pkg/config"
	"github.com/noah-isme/registrar-api/pkg/logger"
)

// @title Registrar API
// @version 1.0.0
// @description Enrollment periods, pre-registration, seat-limited enrollment and advising slots
// @BasePath /api/v1
// @schemes http

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand builds the registrar CLI.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "registrar",
		Short:         "University registration service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newPublishCommand(),
		newAuditCommand(),
		newTokenCommand(),
	)
	return root
}

// bootstrap loads configuration and the process logger shared by every subcommand.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logr, nil
}
