package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd builds the cartsubs command tree.
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:           "cartsubs",
		Short:         "cartsubs: convert cart items to subscriptions",
		Long:          "cartsubs serves a cart in which any item can be bought once or as a subscription.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSchemesCmd())

	return root
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
