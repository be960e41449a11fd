// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 遷移エンジン、パイプライン、ワーカーから利用する。
type MetricsCollector interface {
	RecordTransition(from, to string)
	RecordTransitionRejected(to, code string)
	RecordGenerationAttempt(result string)
	RecordGenerationLatency(duration time.Duration)
	RecordExpired(count int)
	RecordIndexPruned(count int)
	RecordNotificationFailure(kind string)
	RecordPublished()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	transitions        *prometheus.CounterVec
	transitionRejected *prometheus.CounterVec
	generationAttempts *prometheus.CounterVec
	generationLatency  prometheus.Histogram
	expired            prometheus.Counter
	indexPruned        prometheus.Counter
	notifyFail         *prometheus.CounterVec
	published          prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentforge_transitions_total",
			Help: "確定した状態遷移の合計数",
		}, []string{"from", "to"}),
		transitionRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentforge_transition_rejected_total",
			Help: "拒否された状態遷移の合計数",
		}, []string{"to", "code"}),
		generationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentforge_generation_attempts_total",
			Help: "生成呼び出しの試行回数（結果別）",
		}, []string{"result"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contentforge_generation_latency_seconds",
			Help:    "生成呼び出し1回あたりのレイテンシ（秒）",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentforge_sweep_expired_total",
			Help: "スイープで期限切れにしたリクエストの合計数",
		}),
		indexPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentforge_sweep_index_pruned_total",
			Help: "インデックスから取り除いたIDの合計数",
		}),
		notifyFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contentforge_notification_failures_total",
			Help: "通知（メール・ステータス）の失敗数",
		}, []string{"kind"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contentforge_published_total",
			Help: "公開まで完了したリクエストの合計数",
		}),
	}

	reg.MustRegister(
		c.transitions,
		c.transitionRejected,
		c.generationAttempts,
		c.generationLatency,
		c.expired,
		c.indexPruned,
		c.notifyFail,
		c.published,
	)

	return c
}

// RecordTransition は確定した状態遷移を記録する。
func (c *Collector) RecordTransition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
}

// RecordTransitionRejected は拒否された状態遷移を記録する。
func (c *Collector) RecordTransitionRejected(to, code string) {
	c.transitionRejected.WithLabelValues(to, code).Inc()
}

// RecordGenerationAttempt は生成呼び出しの試行を記録する。
func (c *Collector) RecordGenerationAttempt(result string) {
	c.generationAttempts.WithLabelValues(result).Inc()
}

// RecordGenerationLatency は生成呼び出しのレイテンシを記録する。
func (c *Collector) RecordGenerationLatency(duration time.Duration) {
	c.generationLatency.Observe(duration.Seconds())
}

// RecordExpired はスイープで期限切れにした件数を記録する。
func (c *Collector) RecordExpired(count int) {
	c.expired.Add(float64(count))
}

// RecordIndexPruned はインデックスから取り除いた件数を記録する。
func (c *Collector) RecordIndexPruned(count int) {
	c.indexPruned.Add(float64(count))
}

// RecordNotificationFailure は通知の失敗を記録する。
func (c *Collector) RecordNotificationFailure(kind string) {
	c.notifyFail.WithLabelValues(kind).Inc()
}

// RecordPublished は公開完了を記録する。
func (c *Collector) RecordPublished() {
	c.published.Inc()
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordTransition(string, string)         {}
func (NopCollector) RecordTransitionRejected(string, string) {}
func (NopCollector) RecordGenerationAttempt(string)          {}
func (NopCollector) RecordGenerationLatency(time.Duration)   {}
func (NopCollector) RecordExpired(int)                       {}
func (NopCollector) RecordIndexPruned(int)                   {}
func (NopCollector) RecordNotificationFailure(string)        {}
func (NopCollector) RecordPublished()                        {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
