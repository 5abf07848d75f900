package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/po-assignment-api/internal/models"
	"github.com/noah-isme/po-assignment-api/internal/repository"
	"github.com/noah-isme/po-assignment-api/internal/service"
	"github.com/noah-isme/po-assignment-api/pkg/config"
	"github.com/noah-isme/po-assignment-api/pkg/database"
	"github.com/noah-isme/po-assignment-api/pkg/logger"
)

type adminCreator interface {
	BootstrapAdmin(ctx context.Context, email, fullName, password string) (*models.InternalUser, error)
}

// openFunc builds the creator and returns a cleanup to run once the command finishes.
type openFunc func() (adminCreator, func(), error)

func openAdminCreator() (adminCreator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialising logger: %w", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting database: %w", err)
	}
	svc := service.NewUserService(repository.NewUserRepository(db), nil, logr)
	return svc, func() {
		_ = db.Close()
		_ = logr.Sync()
	}, nil
}

func newRootCmd(open openFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "poctl",
		Short:         "Operator tasks for the PO assignment service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCreateAdminCmd(open))
	return root
}

func newCreateAdminCmd(open openFunc) *cobra.Command {
	var email, fullName, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create the first administrator account",
		Long: `Create the first ADMIN account with every capability enabled.

The command refuses to run once any administrator exists. Values not given as
flags are read from FIRST_ADMIN_EMAIL, FIRST_ADMIN_NAME and FIRST_ADMIN_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email = firstNonEmpty(email, os.Getenv("FIRST_ADMIN_EMAIL"))
			fullName = firstNonEmpty(fullName, os.Getenv("FIRST_ADMIN_NAME"), "Administrator")
			password = firstNonEmpty(password, os.Getenv("FIRST_ADMIN_PASSWORD"))
			if email == "" || password == "" {
				return errors.New("email and password are required")
			}

			creator, cleanup, err := open()
			if err != nil {
				return err
			}
			defer cleanup()

			admin, err := creator.BootstrapAdmin(cmd.Context(), email, fullName, password)
			if err != nil {
				return fmt.Errorf("creating admin: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Admin account created: %s (%s)\n", admin.Email, admin.ID)
			fmt.Fprintln(out, "Change the password after the first login.")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&fullName, "name", "", "admin full name")
	cmd.Flags().StringVar(&password, "password", "", "initial password (min 8 characters)")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
