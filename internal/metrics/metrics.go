package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"tree-buffer/common/config"
	"tree-buffer/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// 运行结果标签
const (
	OutcomeApplied = "applied"
	OutcomeDryRun  = "dry_run"
	OutcomeFailed  = "failed"
	OutcomeUnknown = "unknown"
)

var outcomes = []string{OutcomeApplied, OutcomeDryRun, OutcomeFailed, OutcomeUnknown}

// RunMetrics 单次运行的指标，运行结束后推送到 Pushgateway
type RunMetrics struct {
	registry *prometheus.Registry

	treesReserved prometheus.Counter
	contended     prometheus.Counter
	shortfall     *prometheus.GaugeVec
	duration      prometheus.Gauge
	status        *prometheus.GaugeVec
	lastSuccess   prometheus.Gauge
}

func NewRunMetrics() *RunMetrics {
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		treesReserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tree_buffer_trees_reserved_total",
			Help: "Trees moved into the buffer reserve by this run.",
		}),
		contended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tree_buffer_contended_trees_total",
			Help: "Selected trees that were claimed by someone else before apply.",
		}),
		shortfall: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tree_buffer_shortfall_trees",
			Help: "Trees still missing from the buffer after selection.",
		}, []string{"plot_id", "plant_type_id"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tree_buffer_run_duration_seconds",
			Help: "Wall time of the last run.",
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tree_buffer_run_status",
			Help: "1 for the outcome of the last run, 0 for the others.",
		}, []string{"outcome"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tree_buffer_last_success_timestamp_seconds",
			Help: "Unix time of the last run that applied or previewed successfully.",
		}),
	}
	m.registry.MustRegister(m.treesReserved, m.contended, m.shortfall, m.duration, m.status, m.lastSuccess)
	return m
}

// Registry exposes the collectors for pushing or testing.
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Record 记录一次运行
func (m *RunMetrics) Record(outcome string, reserved int64, contended int, shortfalls []models.Shortfall, elapsed time.Duration, finishedAt time.Time) {
	m.treesReserved.Add(float64(reserved))
	m.contended.Add(float64(contended))
	for _, sf := range shortfalls {
		m.shortfall.WithLabelValues(
			strconv.FormatInt(sf.PlotID, 10),
			strconv.FormatInt(sf.PlantTypeID, 10),
		).Set(float64(sf.Missing))
	}
	m.duration.Set(elapsed.Seconds())
	for _, o := range outcomes {
		v := 0.0
		if o == outcome {
			v = 1
		}
		m.status.WithLabelValues(o).Set(v)
	}
	if outcome == OutcomeApplied || outcome == OutcomeDryRun {
		m.lastSuccess.Set(float64(finishedAt.Unix()))
	}
}

// Pusher 推送指标到 Prometheus Pushgateway
type Pusher struct {
	cfg    config.PushgatewayConfig
	logger *zap.Logger
}

func NewPusher(cfg config.PushgatewayConfig, logger *zap.Logger) *Pusher {
	return &Pusher{cfg: cfg, logger: logger}
}

// Push replaces the job's metric group on the gateway. It is a no-op when no URL is configured.
func (p *Pusher) Push(ctx context.Context, m *RunMetrics) error {
	if !p.cfg.Enabled() {
		return nil
	}
	timeout := p.cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	err := push.New(p.cfg.URL, p.cfg.Job).
		Client(&http.Client{Timeout: timeout}).
		Gatherer(m.Registry()).
		PushContext(ctx)
	if err != nil {
		return err
	}
	p.logger.Debug("Pushed run metrics", zap.String("url", p.cfg.URL), zap.String("job", p.cfg.Job))
	return nil
}
