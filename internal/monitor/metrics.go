package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector 指标收集器
type MetricsCollector struct {
	// 管道指标
	deliveriesTotal  *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	retriesTotal     prometheus.Counter
	parkedTotal      prometheus.Counter
	deadLetteredTotal *prometheus.CounterVec

	// 发布指标
	publishTotal *prometheus.CounterVec

	// 订单指标
	ordersFulfilledTotal *prometheus.CounterVec
	gateRejectsTotal     prometheus.Counter

	// 队列指标
	queueDepth *prometheus.GaugeVec
}

// NewMetricsCollector 创建新的指标收集器
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWith(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWith 在指定的注册表上创建指标收集器
func NewMetricsCollectorWith(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)
	mc := &MetricsCollector{}

	// 管道指标
	mc.deliveriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_deliveries_total",
			Help: "Total number of processed deliveries",
		},
		[]string{"queue", "outcome"},
	)

	mc.deliveryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_delivery_duration_seconds",
			Help:    "Duration of delivery processing",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	mc.retriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_retries_total",
			Help: "Total number of deliveries republished for delayed retry",
		},
	)

	mc.parkedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_parked_total",
			Help: "Total number of deliveries escalated to the parking lot",
		},
	)

	mc.deadLetteredTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_dead_lettered_total",
			Help: "Total number of deliveries routed to the dead letter queue",
		},
		[]string{"reason"},
	)

	// 发布指标
	mc.publishTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_publish_total",
			Help: "Total number of confirmed publishes",
		},
		[]string{"queue", "status"},
	)

	// 订单指标
	mc.ordersFulfilledTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_fulfilled_total",
			Help: "Total number of fulfilled purchase attempts",
		},
		[]string{"goods_id"},
	)

	mc.gateRejectsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "stock_gate_rejects_total",
			Help: "Total number of attempts rejected by the stock gate",
		},
	)

	// 队列指标
	mc.queueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current number of messages in each queue",
		},
		[]string{"queue"},
	)

	return mc
}

// RecordDelivery 记录一次投递处理结果
func (mc *MetricsCollector) RecordDelivery(queue, outcome string, seconds float64) {
	mc.deliveriesTotal.WithLabelValues(queue, outcome).Inc()
	mc.deliveryDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordRetry 记录一次延迟重试
func (mc *MetricsCollector) RecordRetry() {
	mc.retriesTotal.Inc()
}

// RecordParked 记录一次停车场升级
func (mc *MetricsCollector) RecordParked() {
	mc.parkedTotal.Inc()
}

// RecordDeadLettered 记录一次死信
func (mc *MetricsCollector) RecordDeadLettered(reason string) {
	mc.deadLetteredTotal.WithLabelValues(reason).Inc()
}

// RecordPublish 记录一次发布
func (mc *MetricsCollector) RecordPublish(queue, status string) {
	mc.publishTotal.WithLabelValues(queue, status).Inc()
}

// RecordFulfilled 记录一次成交
func (mc *MetricsCollector) RecordFulfilled(goodsID string) {
	mc.ordersFulfilledTotal.WithLabelValues(goodsID).Inc()
}

// RecordGateReject 记录一次库存闸门拒绝
func (mc *MetricsCollector) RecordGateReject() {
	mc.gateRejectsTotal.Inc()
}

// SetQueueDepth 更新队列深度
func (mc *MetricsCollector) SetQueueDepth(queue string, depth float64) {
	mc.queueDepth.WithLabelValues(queue).Set(depth)
}

// Handler 返回Prometheus指标的HTTP处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
