package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"tree-buffer/internal/report"
	"tree-buffer/internal/reservation"
	"tree-buffer/internal/service"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

type reserveOptions struct {
	plotIDs     []int64
	plotNames   []string
	percentage  float64
	dryRun      bool
	output      string
	xlsxPath    string
	timeout     time.Duration
	concurrency int
}

// 兼容旧脚本的参数写法
var legacyFlagNames = map[string]string{
	"plotNames":  "plot-names",
	"plot_names": "plot-names",
	"dryRun":     "dry-run",
	"dryrun":     "dry-run",
	"dry_run":    "dry-run",
}

func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	if canonical, ok := legacyFlagNames[name]; ok {
		name = canonical
	}
	return pflag.NormalizedName(name)
}

func newReserveCommand(app *App) *cobra.Command {
	opts := &reserveOptions{
		percentage:  reservation.DefaultPercentage,
		output:      outputTable,
		timeout:     5 * time.Minute,
		concurrency: 1,
	}
	if app.Config != nil {
		opts.percentage = app.Config.Reservation.Percentage
		opts.timeout = app.Config.Reservation.Timeout
		opts.concurrency = app.Config.Reservation.SelectConcurrency
	}

	cmd := &cobra.Command{
		Use:   "reserve",
		Short: "Reserve buffer trees for the given plots",
		Example: `  tree-buffer reserve --plots=12,14 --percentage=20
  tree-buffer reserve --plot-names="North Ridge,Lake Side" --dry-run --output=json`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError(fmt.Errorf("unexpected arguments: %v", args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReserve(cmd, app, opts)
		},
	}

	flags := cmd.Flags()
	flags.SetNormalizeFunc(normalizeFlagName)
	flags.Int64SliceVar(&opts.plotIDs, "plots", nil, "comma-separated plot ids")
	flags.StringSliceVar(&opts.plotNames, "plot-names", nil, "comma-separated plot names")
	flags.Float64Var(&opts.percentage, "percentage", opts.percentage, "share of each plant type to hold in the buffer (%)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "compute and print the reservation without writing")
	flags.StringVarP(&opts.output, "output", "o", opts.output, "output format: table or json")
	flags.StringVar(&opts.xlsxPath, "xlsx", "", "also write the result to this .xlsx file")
	flags.DurationVar(&opts.timeout, "timeout", opts.timeout, "overall run deadline")
	flags.IntVar(&opts.concurrency, "concurrency", opts.concurrency, "parallel eligible-tree queries")
	return cmd
}

func (o *reserveOptions) request() (reservation.Request, error) {
	if o.output != outputTable && o.output != outputJSON {
		return reservation.Request{}, fmt.Errorf("%w: unknown output format %q", reservation.ErrInvalidRequest, o.output)
	}
	if o.timeout <= 0 {
		return reservation.Request{}, fmt.Errorf("%w: timeout must be positive", reservation.ErrInvalidRequest)
	}
	if o.concurrency < 1 {
		return reservation.Request{}, fmt.Errorf("%w: concurrency must be at least 1", reservation.ErrInvalidRequest)
	}
	req := reservation.Request{
		PlotIDs:    o.plotIDs,
		PlotNames:  o.plotNames,
		Percentage: o.percentage,
		DryRun:     o.dryRun,
	}
	return req.Normalize()
}

func runReserve(cmd *cobra.Command, app *App, opts *reserveOptions) error {
	req, err := opts.request()
	if err != nil {
		return usageError(err)
	}
	if app.Config == nil {
		return &ExitError{Code: ExitFailure, Err: errors.New("configuration not loaded")}
	}

	cfg := *app.Config
	cfg.Reservation.Percentage = req.Percentage
	cfg.Reservation.Timeout = opts.timeout
	cfg.Reservation.SelectConcurrency = opts.concurrency
	if err := cfg.Validate(); err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}

	ctx := cmd.Context()
	runner, cleanup, err := app.NewRunner(ctx, &cfg, app.Logger)
	if err != nil {
		return &ExitError{Code: ExitFailure, Err: err}
	}
	if cleanup != nil {
		defer cleanup()
	}

	result, runErr := runner.Run(ctx, req)
	if result != nil {
		if err := writeResult(app, opts, result); err != nil {
			app.Logger.Error("Failed to write run report", zap.Error(err))
			if runErr == nil {
				return &ExitError{Code: ExitFailure, Err: err}
			}
		}
	}
	if runErr != nil {
		if errors.Is(runErr, reservation.ErrApplyUnknown) {
			fmt.Fprintln(app.Stderr, "Apply outcome is unknown: verify the buffer before re-running.")
		}
		return runFailure(runErr)
	}
	return nil
}

func writeResult(app *App, opts *reserveOptions, result *service.RunResult) error {
	var err error
	switch opts.output {
	case outputJSON:
		err = report.WriteJSON(app.Stdout, result)
	default:
		err = report.WriteTable(app.Stdout, result)
	}
	if err != nil {
		return err
	}

	if opts.xlsxPath == "" {
		return nil
	}
	data, err := report.GenerateWorkbook(result)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.xlsxPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.xlsxPath, err)
	}
	app.Logger.Info("Wrote workbook", zap.String("path", opts.xlsxPath))
	return nil
}
