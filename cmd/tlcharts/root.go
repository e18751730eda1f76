package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"tlcharts/internal/app"
	"tlcharts/internal/config"
	"tlcharts/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gitlab.com/nevasik7/alerting/logger"
)

const defaultConfigPath = "cmd/tlcharts/config.yaml"

type rootOptions struct {
	configPath string
	envFile    string
	verbose    bool
}

func RootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tlcharts",
		Short: "Turn questions about Solana metrics into chart specs over the topledger API",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// secrets may live in .env, a missing file is fine
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", opts.envFile, err)
			}
			return nil
		},
	}

	configDefault := os.Getenv("CONFIG")
	if configDefault == "" {
		configDefault = defaultConfigPath
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", configDefault, "path to config.yaml (env CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with secrets")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr in one-shot commands")

	cmd.AddCommand(
		ServeCmd(opts),
		SearchCmd(opts),
		ChartCmd(opts),
		FetchCmd(opts),
		TokenCmd(opts),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", o.configPath, err)
	}
	return cfg, nil
}

func (o *rootOptions) logger(cfg *config.Config) logger.Logger {
	if !o.verbose {
		return logging.Noop()
	}
	return logging.New(&cfg.Logging)
}

// withCore builds the chart pipeline for a one-shot command and tears it down afterwards
func (o *rootOptions) withCore(ctx context.Context, fn func(core *app.Core) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}

	core, err := app.BuildCore(ctx, cfg, o.logger(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = core.Close(context.WithoutCancel(ctx)) }()

	return fn(core)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
