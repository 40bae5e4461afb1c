package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/court-case-scraper/internal/court"
)

func newFetchCmd() *cobra.Command {
	var query court.CaseQuery
	cmd := &cobra.Command{
		Use:     "fetch",
		Short:   "Look up one case and print the result as JSON",
		Example: `  court-scraper fetch --type FAO --number 123 --year 2023`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res := appInstance.Service().FetchCaseData(ctx, query)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.Outcome == court.OutcomeFailure {
				return fmt.Errorf("scrape failed (%s): %s", res.Cause, res.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&query.CaseType, "type", "", "case type, as listed by case-types")
	cmd.Flags().StringVar(&query.CaseNumber, "number", "", "case number")
	cmd.Flags().StringVar(&query.FilingYear, "year", "", "filing year")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("number")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func newOrdersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orders <detail-url>",
		Short: "Read one case's orders page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			detail, err := appInstance.Service().FetchCaseOrders(ctx, args[0])
			if err != nil {
				return fmt.Errorf("fetch case orders: %s", court.Describe(err))
			}
			return printJSON(cmd.OutOrStdout(), detail)
		},
	}
}

func newCaseTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "case-types",
		Short: "List the case types offered by the search form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			types, err := appInstance.Service().ListCaseTypes(cmd.Context())
			if err != nil {
				return fmt.Errorf("list case types: %s", court.Describe(err))
			}
			return printJSON(cmd.OutOrStdout(), types)
		},
	}
}

func newCaptchaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "captcha",
		Short: "Print the verification code currently shown on the search page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			token, err := appInstance.Service().PeekChallenge(cmd.Context())
			if err != nil {
				return fmt.Errorf("read verification code: %s", court.Describe(err))
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token.Text)
			return err
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent query log rows, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be > 0")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := appInstance.QueryLog().Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read query log: %w", err)
			}
			if rows == nil {
				rows = []court.QueryRecord{}
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of rows to print")
	return cmd
}
