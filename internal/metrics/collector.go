// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/BaSui01/egoqa/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// 完成结果分类
const (
	OutcomeCorrect    = "correct"
	OutcomeIncorrect  = "incorrect"
	OutcomeUnknown    = "unknown"    // 没有 truth，无法判断
	OutcomeUnanswered = "unanswered" // 预测为 -1
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 作业指标
	questionsClaimed   prometheus.Counter
	questionsCompleted *prometheus.CounterVec
	iterationFailures  *prometheus.CounterVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec

	// 审议指标
	routingDecisions   *prometheus.CounterVec
	deliberationSteps  prometheus.Histogram
	deliberationCapped prometheus.Counter

	// 存储指标
	storeOpDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg，reg 为 nil 时使用默认 Registerer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.questionsClaimed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "questions_claimed_total",
		Help:      "Total number of questions claimed from the store",
	})

	c.questionsCompleted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_completed_total",
			Help:      "Total number of questions with a written result, by outcome",
		},
		[]string{"outcome"},
	)

	c.iterationFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_iteration_failures_total",
			Help:      "Total number of failed worker iterations",
		},
		[]string{"reason"},
	)

	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	c.routingDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Total number of supervisor routing decisions, by target",
		},
		[]string{"target"},
	)

	c.deliberationSteps = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "deliberation_steps",
		Help:      "Node visits per deliberation run",
		Buckets:   prometheus.LinearBuckets(1, 2, 11),
	})

	c.deliberationCapped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliberation_step_ceiling_total",
		Help:      "Deliberation runs terminated by the step ceiling",
	})

	c.storeOpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Question store operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation", "status"},
	)

	return c
}

// RecordClaim 记录一次成功领取
func (c *Collector) RecordClaim() {
	c.questionsClaimed.Inc()
}

// RecordCompletion 按预测与 truth 记录完成结果
func (c *Collector) RecordCompletion(truth *int, prediction int) {
	c.questionsCompleted.WithLabelValues(Outcome(truth, prediction)).Inc()
}

// Outcome 返回完成结果分类
func Outcome(truth *int, prediction int) string {
	switch {
	case prediction < 0 || prediction >= types.OptionCount:
		return OutcomeUnanswered
	case truth == nil:
		return OutcomeUnknown
	case *truth == prediction:
		return OutcomeCorrect
	default:
		return OutcomeIncorrect
	}
}

// RecordIterationFailure 记录一次失败的 worker 迭代，reason 取错误码或 "panic"
func (c *Collector) RecordIterationFailure(reason string) {
	if reason == "" {
		reason = "error"
	}
	c.iterationFailures.WithLabelValues(reason).Inc()
}

// RecordLLMRequest 实现 llm.RequestObserver
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// ObserveRoute 实现 deliberation.Observer
func (c *Collector) ObserveRoute(target string) {
	c.routingDecisions.WithLabelValues(target).Inc()
}

// ObserveDeliberation 实现 deliberation.Observer
func (c *Collector) ObserveDeliberation(steps int, finished bool) {
	c.deliberationSteps.Observe(float64(steps))
	if !finished {
		c.deliberationCapped.Inc()
		c.logger.Debug("deliberation capped", zap.Int("steps", steps))
	}
}

// ObserveStoreOp 实现 store.OpObserver
func (c *Collector) ObserveStoreOp(op, status string, duration time.Duration) {
	c.storeOpDuration.WithLabelValues(op, status).Observe(duration.Seconds())
}
