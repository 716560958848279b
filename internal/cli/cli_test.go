package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tree-buffer/internal/config"
	"tree-buffer/internal/models"
	"tree-buffer/internal/reservation"
	"tree-buffer/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, req reservation.Request) (*service.RunResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*service.RunResult)
	return res, args.Error(1)
}

func testConfig() *config.Config {
	cfg := &config.Config{Schema: "14trees"}
	cfg.Database.Host = "localhost"
	cfg.Database.User = "reader"
	cfg.Reservation.Buffer = models.BufferIdentity{GroupID: 195, AccountID: 20621}
	cfg.Reservation.Percentage = 20
	cfg.Reservation.Timeout = 5 * time.Minute
	cfg.Reservation.SelectConcurrency = 1
	return cfg
}

type harness struct {
	app     *App
	runner  *mockRunner
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	gotCfg  *config.Config
	built   int
	cleaned int
}

func newHarness(cfg *config.Config) *harness {
	h := &harness{runner: &mockRunner{}, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	h.app = &App{
		Config: cfg,
		Logger: zap.NewNop(),
		Stdout: h.stdout,
		Stderr: h.stderr,
		NewRunner: func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Runner, func(), error) {
			h.built++
			h.gotCfg = cfg
			return h.runner, func() { h.cleaned++ }, nil
		},
	}
	return h
}

func appliedResult(req reservation.Request) *service.RunResult {
	return &service.RunResult{
		RunID:      "run-1",
		Stage:      service.StageDone,
		DryRun:     req.DryRun,
		Applied:    !req.DryRun,
		Percentage: req.Percentage,
		PlotIDs:    req.PlotIDs,
		Plots: []models.PlotSummary{{PlotID: 10, PlantTypes: []models.PlantTypeSummary{
			{PlantTypeID: 1, PlantTypeName: "Neem", TotalTrees: 10, RequiredBuffer: 2, NewlyReserved: 2, ReservedSaplingIDs: []string{"N-1", "N-2"}},
		}}},
		Shortfalls:    []models.Shortfall{},
		Contended:     []string{},
		ReservedCount: 2,
	}
}

func TestReserve_ParsesLegacyFlags(t *testing.T) {
	h := newHarness(testConfig())
	want := reservation.Request{PlotIDs: []int64{1, 2}, PlotNames: []string{"North Ridge", "Lake Side"}, Percentage: 20, DryRun: true}
	h.runner.On("Run", mock.Anything, want).Return(appliedResult(want), nil).Once()

	code := Execute(context.Background(), h.app, []string{"reserve", "--plots=2,1", "--plotNames=North Ridge,Lake Side", "--dryrun"})

	assert.Equal(t, ExitOK, code, h.stderr.String())
	h.runner.AssertExpectations(t)
	assert.Equal(t, 1, h.cleaned)
	assert.Contains(t, h.stdout.String(), "DRY RUN")
}

func TestReserve_DryRunSpellings(t *testing.T) {
	for _, flag := range []string{"--dry-run", "--dryRun", "--dryrun"} {
		t.Run(flag, func(t *testing.T) {
			h := newHarness(testConfig())
			h.runner.On("Run", mock.Anything, mock.MatchedBy(func(r reservation.Request) bool { return r.DryRun })).
				Return(appliedResult(reservation.Request{DryRun: true}), nil)

			assert.Equal(t, ExitOK, Execute(context.Background(), h.app, []string{"reserve", "--plots=1", flag}))
		})
	}
}

func TestReserve_FlagsOverrideConfig(t *testing.T) {
	h := newHarness(testConfig())
	h.runner.On("Run", mock.Anything, mock.Anything).Return(appliedResult(reservation.Request{}), nil)

	code := Execute(context.Background(), h.app, []string{"reserve", "--plots=3", "--percentage=35", "--timeout=30s", "--concurrency=4"})
	require.Equal(t, ExitOK, code, h.stderr.String())

	require.NotNil(t, h.gotCfg)
	assert.Equal(t, 35.0, h.gotCfg.Reservation.Percentage)
	assert.Equal(t, 30*time.Second, h.gotCfg.Reservation.Timeout)
	assert.Equal(t, 4, h.gotCfg.Reservation.SelectConcurrency)
	assert.Equal(t, 20.0, h.app.Config.Reservation.Percentage, "loaded config is not mutated")
}

func TestReserve_UsageErrors(t *testing.T) {
	cases := map[string][]string{
		"no plots":         {"reserve"},
		"zero percentage":  {"reserve", "--plots=1", "--percentage=0"},
		"bad plot id":      {"reserve", "--plots=abc"},
		"unknown flag":     {"reserve", "--plots=1", "--bogus"},
		"unknown output":   {"reserve", "--plots=1", "--output=yaml"},
		"extra argument":   {"reserve", "--plots=1", "now"},
		"unknown command":  {"release"},
		"zero concurrency": {"reserve", "--plots=1", "--concurrency=0"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(testConfig())
			assert.Equal(t, ExitUsage, Execute(context.Background(), h.app, args))
			assert.Equal(t, 0, h.built)
			assert.NotEmpty(t, h.stderr.String())
		})
	}
}

func TestReserve_InvalidConfigFailsBeforeConnecting(t *testing.T) {
	cfg := testConfig()
	cfg.Reservation.Buffer = models.BufferIdentity{}
	h := newHarness(cfg)

	code := Execute(context.Background(), h.app, []string{"reserve", "--plots=1"})
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, 0, h.built)
	assert.Contains(t, h.stderr.String(), "BUFFER_GROUP_ID")
}

func TestReserve_TimeoutBeyondLockTTLFailsBeforeConnecting(t *testing.T) {
	cfg := testConfig()
	cfg.Redis.Addr = "redis:6379"
	cfg.Reservation.LockTTL = 10 * time.Minute
	h := newHarness(cfg)

	code := Execute(context.Background(), h.app, []string{"reserve", "--plots=1", "--timeout=30m"})
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, 0, h.built)
	assert.Contains(t, h.stderr.String(), "RUN_LOCK_TTL")
}

func TestReserve_FactoryError(t *testing.T) {
	h := newHarness(testConfig())
	h.app.NewRunner = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Runner, func(), error) {
		return nil, nil, errors.New("failed to connect to database: refused")
	}
	assert.Equal(t, ExitFailure, Execute(context.Background(), h.app, []string{"reserve", "--plots=1"}))
	assert.Contains(t, h.stderr.String(), "refused")
}

func TestReserve_RunFailuresMapToExitCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"plot not found", &reservation.PlotNotFoundError{Names: []string{"Nonexistent Plot"}}, ExitFailure},
		{"apply failed", fmt.Errorf("%w: boom", reservation.ErrApplyFailed), ExitFailure},
		{"timeout", fmt.Errorf("%w: context deadline exceeded", reservation.ErrTimeout), ExitFailure},
		{"canceled", fmt.Errorf("%w: context canceled", reservation.ErrCanceled), ExitFailure},
		{"apply unknown", fmt.Errorf("%w: bad connection", reservation.ErrApplyUnknown), ExitUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(testConfig())
			res := appliedResult(reservation.Request{})
			res.Applied = false
			res.Stage = service.StageFailed
			res.Error = tc.err.Error()
			h.runner.On("Run", mock.Anything, mock.Anything).Return(res, &service.RunError{Stage: service.StageApplying, Err: tc.err})

			code := Execute(context.Background(), h.app, []string{"reserve", "--plot-names=Nonexistent Plot"})
			assert.Equal(t, tc.code, code)
			assert.Contains(t, h.stderr.String(), tc.err.Error())
			assert.Contains(t, h.stdout.String(), "FAILED")
		})
	}
}

func TestReserve_JSONAndWorkbookOutput(t *testing.T) {
	h := newHarness(testConfig())
	h.runner.On("Run", mock.Anything, mock.Anything).Return(appliedResult(reservation.Request{Percentage: 20}), nil)
	path := filepath.Join(t.TempDir(), "run.xlsx")

	code := Execute(context.Background(), h.app, []string{"reserve", "--plots=10", "-o", "json", "--xlsx", path})
	require.Equal(t, ExitOK, code, h.stderr.String())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitUsage, ExitCode(errors.New("unknown command")))
	assert.Equal(t, ExitUnknown, ExitCode(runFailure(reservation.ErrApplyUnknown)))
	assert.Equal(t, ExitUsage, ExitCode(runFailure(reservation.ErrInvalidRequest)))
	assert.Equal(t, ExitFailure, ExitCode(runFailure(errors.New("x"))))
}
