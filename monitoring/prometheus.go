package monitoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rushairer/jsonsink"
)

// PrometheusMetrics Prometheus指标收集器，实现 jsonsink.MetricsReporter 接口
type PrometheusMetrics struct {
	database string

	// 批量执行指标
	executeDuration *prometheus.HistogramVec
	batchSize       *prometheus.HistogramVec
	outcomesTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	schemaApplied   *prometheus.CounterVec

	// 仪表盘指标
	inflightBatches *prometheus.GaugeVec
	queueLength     *prometheus.GaugeVec
	enqueueLatency  *prometheus.HistogramVec

	registry *prometheus.Registry
	server   *http.Server
	logger   *slog.Logger
	mutex    sync.RWMutex
}

var _ jsonsink.MetricsReporter = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics 创建 Prometheus 指标收集器
// database 作为所有指标的 database 标签（通常是方言名）
func NewPrometheusMetrics(database string, logger *slog.Logger) *PrometheusMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		database: database,

		executeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jsonsink_execute_duration_seconds",
				Help:    "Duration from batch submission to commit or rollback",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 18),
			},
			[]string{"database", "table", "status"},
		),
		batchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jsonsink_batch_size",
				Help:    "Batch size distribution",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"database"},
		),
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsonsink_record_outcomes_total",
				Help: "Records by final outcome",
			},
			[]string{"database", "table", "outcome"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsonsink_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"database", "table", "error_type"},
		),
		schemaApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jsonsink_schema_ddl_applied_total",
				Help: "Create-table DDL applied without error after a missing-table lookup",
			},
			[]string{"database", "table"},
		),
		inflightBatches: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jsonsink_inflight_batches",
				Help: "Current in-flight batch count (executing now)",
			},
			[]string{"database"},
		),
		queueLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jsonsink_sink_queue_length",
				Help: "Current sink buffer length",
			},
			[]string{"database"},
		),
		enqueueLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jsonsink_enqueue_latency_seconds",
				Help:    "Latency from submit to flush",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 18),
			},
			[]string{"database"},
		),

		registry: registry,
		logger:   logger,
	}

	// 注册所有指标
	registry.MustRegister(
		pm.executeDuration,
		pm.batchSize,
		pm.outcomesTotal,
		pm.errorsTotal,
		pm.schemaApplied,
		pm.inflightBatches,
		pm.queueLength,
		pm.enqueueLatency,
	)
	// 添加 Go 运行时指标
	registry.MustRegister(collectors.NewBuildInfoCollector())
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 初始化基础指标，确保端点始终返回有效数据
	pm.inflightBatches.WithLabelValues(database).Set(0)
	pm.queueLength.WithLabelValues(database).Set(0)

	return pm
}

// Registry 自定义 registry
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Handler 返回带 /metrics 与 /health 的路由
func (pm *PrometheusMetrics) Handler() http.Handler {
	// 设置 Gin 为发布模式，减少日志输出
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	metricsHandler := promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
	router.GET("/metrics", gin.WrapH(metricsHandler))
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	return router
}

// StartServer 启动 Prometheus HTTP 服务器
func (pm *PrometheusMetrics) StartServer(port int) error {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	if pm.server != nil {
		return fmt.Errorf("prometheus server already running")
	}

	pm.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           pm.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	server := pm.server
	go func() {
		pm.logger.Info("metrics server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pm.logger.Error("metrics server error", "error", err)
		}
	}()
	return nil
}

// StopServer 停止 Prometheus HTTP 服务器
func (pm *PrometheusMetrics) StopServer() error {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	if pm.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := pm.server.Shutdown(ctx)
	pm.server = nil
	if err == nil {
		pm.logger.Info("metrics server stopped")
	}
	return err
}

func (pm *PrometheusMetrics) ObserveExecuteDuration(table string, n int, d time.Duration, status string) {
	pm.executeDuration.WithLabelValues(pm.database, table, status).Observe(d.Seconds())
}

func (pm *PrometheusMetrics) ObserveBatchSize(n int) {
	pm.batchSize.WithLabelValues(pm.database).Observe(float64(n))
}

func (pm *PrometheusMetrics) IncOutcome(table, kind string, n int) {
	pm.outcomesTotal.WithLabelValues(pm.database, table, kind).Add(float64(n))
}

func (pm *PrometheusMetrics) IncError(table, kind string) {
	pm.errorsTotal.WithLabelValues(pm.database, table, kind).Inc()
}

func (pm *PrometheusMetrics) IncSchemaApplied(table string) {
	pm.schemaApplied.WithLabelValues(pm.database, table).Inc()
}

func (pm *PrometheusMetrics) IncInflight() {
	pm.inflightBatches.WithLabelValues(pm.database).Inc()
}

func (pm *PrometheusMetrics) DecInflight() {
	pm.inflightBatches.WithLabelValues(pm.database).Dec()
}

func (pm *PrometheusMetrics) SetQueueLength(n int) {
	pm.queueLength.WithLabelValues(pm.database).Set(float64(n))
}

func (pm *PrometheusMetrics) ObserveEnqueueLatency(d time.Duration) {
	pm.enqueueLatency.WithLabelValues(pm.database).Observe(d.Seconds())
}
