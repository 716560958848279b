package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"tree-buffer/internal/config"
	"tree-buffer/internal/reservation"
	"tree-buffer/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Runner executes one reservation run.
type Runner interface {
	Run(ctx context.Context, req reservation.Request) (*service.RunResult, error)
}

// RunnerFactory builds a Runner from the effective configuration.
// The returned cleanup releases connections and is called once the run is reported.
type RunnerFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Runner, func(), error)

// App 命令行运行所需的依赖
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	NewRunner RunnerFactory
	Stdout    io.Writer
	Stderr    io.Writer
}

// NewRootCommand 创建根命令
func NewRootCommand(app *App) *cobra.Command {
	if app.Stdout == nil {
		app.Stdout = os.Stdout
	}
	if app.Stderr == nil {
		app.Stderr = os.Stderr
	}
	if app.Logger == nil {
		app.Logger = zap.NewNop()
	}

	root := &cobra.Command{
		Use:           "tree-buffer",
		Short:         "Reserve a buffer of trees per plot and species",
		Long:          "tree-buffer holds back a percentage of the trees on each plot, per plant type, by assigning unclaimed trees to the buffer group and account.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(app.Stdout)
	root.SetErr(app.Stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(fmt.Errorf("%w\n\n%s", err, cmd.UsageString()))
	})

	root.AddCommand(newReserveCommand(app))
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, app *App, args []string) int {
	root := NewRootCommand(app)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(app.Stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}
