package metrics

import (
	"net/http"
	"sync"
	"time"

	"wisefido-badge-locator/internal/models"
	"wisefido-badge-locator/internal/positioning"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "badge_locator_"

	resultSuccess = "success"
)

var (
	registerOnce sync.Once

	batchesTotal     prometheus.Counter
	discardedTotal   *prometheus.CounterVec
	solvesTotal      *prometheus.CounterVec
	solveLatency     prometheus.Histogram
	outcomesTotal    *prometheus.CounterVec
	messagesTotal    *prometheus.CounterVec
	publishTotal     *prometheus.CounterVec
	zoneAlertsTotal  *prometheus.CounterVec
	invalidatesTotal *prometheus.CounterVec
)

// Init 注册定位服务指标（重复调用无副作用）
func Init() {
	registerOnce.Do(func() {
		batchesTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "batches_total",
				Help: "Total anchor batches processed",
			},
		)
		discardedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_discarded_total",
				Help: "Total readings discarded by reason",
			},
			[]string{"reason"},
		)
		solvesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "solves_total",
				Help: "Total position solves by method",
			},
			[]string{"method"},
		)
		solveLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "solve_latency_seconds",
				Help:    "Position solve latency in seconds",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
		)
		outcomesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "outcomes_total",
				Help: "Total subject outcomes by status",
			},
			[]string{"status"},
		)
		messagesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "anchor_messages_total",
				Help: "Total anchor MQTT messages by result",
			},
			[]string{"result"},
		)
		publishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "position_publish_total",
				Help: "Total live position publishes by result",
			},
			[]string{"result"},
		)
		zoneAlertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "zone_alerts_total",
				Help: "Total forbidden zone alerts by zone",
			},
			[]string{"zone"},
		)
		invalidatesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invalidations_total",
				Help: "Total subject cache invalidations by event type",
			},
			[]string{"event"},
		)

		prometheus.MustRegister(
			batchesTotal,
			discardedTotal,
			solvesTotal,
			solveLatency,
			outcomesTotal,
			messagesTotal,
			publishTotal,
			zoneAlertsTotal,
			invalidatesTotal,
		)
	})
}

// Handler /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// PipelineRecorder 实现 positioning.Recorder
type PipelineRecorder struct{}

var _ positioning.Recorder = PipelineRecorder{}

// ObserveBatch 记录一个批次
func (PipelineRecorder) ObserveBatch() {
	if batchesTotal != nil {
		batchesTotal.Inc()
	}
}

// ObserveDiscarded 记录被丢弃的读数
func (PipelineRecorder) ObserveDiscarded(reason string) {
	IncDiscarded(reason)
}

// ObserveSolve 记录求解方法与耗时
func (PipelineRecorder) ObserveSolve(method models.SolveMethod, elapsed time.Duration) {
	if solvesTotal != nil {
		solvesTotal.WithLabelValues(string(method)).Inc()
	}
	if solveLatency != nil {
		solveLatency.Observe(elapsed.Seconds())
	}
}

// ObserveOutcome 记录 subject 处理结果
func (PipelineRecorder) ObserveOutcome(status positioning.OutcomeStatus) {
	if outcomesTotal != nil {
		outcomesTotal.WithLabelValues(string(status)).Inc()
	}
}

// IncDiscarded 记录被丢弃的读数（流水线与入口共用）
func IncDiscarded(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if discardedTotal != nil {
		discardedTotal.WithLabelValues(reason).Inc()
	}
}

// IncAnchorMessage 记录 MQTT 消息处理结果
func IncAnchorMessage(result string) {
	if result == "" {
		result = resultSuccess
	}
	if messagesTotal != nil {
		messagesTotal.WithLabelValues(result).Inc()
	}
}

// IncPublish 记录位置推送结果
func IncPublish(result string) {
	if result == "" {
		result = resultSuccess
	}
	if publishTotal != nil {
		publishTotal.WithLabelValues(result).Inc()
	}
}

// IncZoneAlert 记录禁区告警
func IncZoneAlert(zone string) {
	if zoneAlertsTotal != nil {
		zoneAlertsTotal.WithLabelValues(zone).Inc()
	}
}

// IncInvalidation 记录缓存失效事件
func IncInvalidation(event string) {
	if event == "" {
		event = "unknown"
	}
	if invalidatesTotal != nil {
		invalidatesTotal.WithLabelValues(event).Inc()
	}
}
