// Package cli implements mapctl, the admin command line for the map markers service.
//
//	mapctl user create --username alice --password s3cret [--db data/markers.db]
//	mapctl version
//
// Commands read the same configuration layers as the server (config.Load),
// so --db is only needed to point at a different database file.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/map-markers/internal/auth"
	"github.com/sakif/map-markers/internal/config"
	"github.com/sakif/map-markers/internal/logging"
	sqliteRepo "github.com/sakif/map-markers/internal/repository/sqlite"
	"github.com/sakif/map-markers/internal/service"
)

// Version is stamped at build time with -ldflags "-X .../internal/cli.Version=v1.2.3".
var Version = "dev"

// NewRootCommand builds the mapctl command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mapctl",
		Short:         "Administer the map markers service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newVersionCommand(), newUserCommand())
	return root
}

// Execute runs mapctl with os.Args and returns the process exit code.
func Execute(ctx context.Context) int {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("mapctl version %s\n", Version)
		},
	}
}

func newUserCommand() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage local accounts",
	}
	user.AddCommand(newUserCreateCommand())
	return user
}

func newUserCreateCommand() *cobra.Command {
	var username, password, dbPath string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a username/password account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}

			user, err := createUser(cmd.Context(), cfg, username, password, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			cmd.Printf("created user %s (%s)\n", user.Login, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "login name (required)")
	cmd.Flags().StringVar(&password, "password", "", "password (required)")
	cmd.Flags().StringVar(&dbPath, "db", "", "database file (default from config)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

type createdUser struct {
	ID    string
	Login string
}

func createUser(ctx context.Context, cfg *config.Config, username, password string, logOut io.Writer) (*createdUser, error) {
	if logOut == nil {
		logOut = os.Stderr
	}
	logger, err := logging.New(logging.Config{Level: "warn", Format: "console", Output: logOut})
	if err != nil {
		return nil, err
	}

	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.Database.Path, err)
	}
	defer db.Close()

	svc := service.NewAuthService(db.Users(), nil, auth.NewPasswordService(cfg.Auth.BcryptCost), logger)
	user, err := svc.Register(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return &createdUser{ID: user.ID, Login: user.Login}, nil
}
