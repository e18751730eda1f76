package main

import (
	"fmt"
	"strings"
	"time"

	"tlcharts/internal/app"
	"tlcharts/internal/security"
	"tlcharts/internal/service"

	"github.com/spf13/cobra"
)

func ServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return app.Run(cfg)
		},
	}
}

func SearchCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank catalog apis against a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			return opts.withCore(cmd.Context(), func(core *app.Core) error {
				res, err := core.Charts.Search(cmd.Context(), strings.Join(args, " "), limit)
				if err != nil {
					return fmt.Errorf("search: %w", err)
				}

				out := cmd.OutOrStdout()
				for i, api := range res.APIs {
					score := 0.0
					if i < len(res.Scores) {
						score = res.Scores[i]
					}
					fmt.Fprintf(out, "%2d. %-36s %6.3f  %s\n", i+1, api.ID, score, api.Title)
				}
				fmt.Fprintf(out, "%d result(s) in %dms\n", res.TotalResults, res.ExecutionTimeMs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "max results")
	return cmd
}

func ChartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chart <question>",
		Short: "Generate a chart spec for a question and print it as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			return opts.withCore(cmd.Context(), func(core *app.Core) error {
				resp, err := core.Charts.Generate(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return fmt.Errorf("chart: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
}

func FetchCmd(opts *rootOptions) *cobra.Command {
	var (
		from, to, shape string
		columns         []string
		asCSV           bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <api-id>",
		Short: "Fetch a catalogued api from topledger as a series or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			req := service.DataRequest{APIID: args[0], Columns: columns, Shape: shape}
			var err error
			if req.From, err = parseDay(from, false); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if req.To, err = parseDay(to, true); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if asCSV && shape != "" {
				return fmt.Errorf("--shape applies to series output, not --csv")
			}

			return opts.withCore(cmd.Context(), func(core *app.Core) error {
				if asCSV {
					return core.Data.CSV(cmd.Context(), cmd.OutOrStdout(), req)
				}
				resp, err := core.Data.Series(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD")
	cmd.Flags().StringVar(&shape, "shape", "", "typed family: dex_volume|transaction_stats|economic_value|volume_history")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "value columns, defaults to the numeric columns")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "write raw rows as CSV")
	return cmd
}

func TokenCmd(opts *rootOptions) *cobra.Command {
	var (
		sub    string
		ttl    time.Duration
		scopes []string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a dev RS256 token for the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			signer, err := security.NewRS256Signer(&cfg.Security.JWT)
			if err != nil {
				return fmt.Errorf("init signer: %w", err)
			}

			tok, err := signer.Mint(sub, ttl, scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "dev", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "granted scopes (charts, data); empty grants all")
	return cmd
}

// an upper bound covers the whole day
func parseDay(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
