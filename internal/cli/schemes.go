package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/fjod/cartsubs/internal/catalog"
	"github.com/fjod/cartsubs/internal/config"
	"github.com/fjod/cartsubs/internal/domain"
	"github.com/spf13/cobra"
)

func newSchemesCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "schemes",
		Short: "Manage the cart-level subscription schemes",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "catalog database path (default CATALOG_DB_PATH)")

	open := func() (*catalog.Repository, error) {
		if dbPath == "" {
			cfg, err := config.Load()
			if err != nil {
				return nil, fmt.Errorf("load config: %w", err)
			}
			dbPath = cfg.CatalogDBPath
		}
		repo, err := catalog.NewRepository(dbPath)
		if err != nil {
			return nil, err
		}
		if err := repo.RunMigrations(); err != nil {
			_ = repo.Close()
			return nil, err
		}
		return repo, nil
	}

	cmd.AddCommand(newSchemesListCmd(open), newSchemesSetCmd(open))
	return cmd
}

func newSchemesListCmd(open func() (*catalog.Repository, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the schemes offered on the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			set, err := repo.CartSchemes(cmd.Context())
			if err != nil {
				return err
			}
			return printSchemes(cmd.OutOrStdout(), set)
		},
	}
}

func newSchemesSetCmd(open func() (*catalog.Repository, error)) *cobra.Command {
	var (
		period    string
		interval  int
		length    int
		isDefault bool
		position  int
	)
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Create or update a scheme",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			s := domain.Scheme{
				ID:       domain.SchemeID(args[0]),
				Period:   domain.BillingPeriod(period),
				Interval: interval,
				Length:   length,
			}
			if err := repo.UpsertScheme(cmd.Context(), s, isDefault, position); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheme %s saved\n", s.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "period", string(domain.PeriodMonth), "billing period: day, week, month or year")
	cmd.Flags().IntVar(&interval, "interval", 1, "periods between renewals")
	cmd.Flags().IntVar(&length, "length", 0, "number of periods, 0 renews until cancelled")
	cmd.Flags().BoolVar(&isDefault, "default", false, "preselect this scheme for new line items")
	cmd.Flags().IntVar(&position, "position", 0, "display order")
	return cmd
}

func printSchemes(out io.Writer, set domain.CartSchemes) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPERIOD\tINTERVAL\tLENGTH\tDEFAULT")
	for _, s := range set.Schemes {
		def := ""
		if s.ID == set.Default {
			def = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.ID, s.Period, s.Interval, lengthLabel(s.Length), def)
	}
	return tw.Flush()
}

func lengthLabel(n int) string {
	if n == 0 {
		return "until cancelled"
	}
	return strconv.Itoa(n)
}
