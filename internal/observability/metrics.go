package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "freeagent"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	storeQueryDuration  *prometheus.HistogramVec

	providerAttempts     *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	providerKeys         *prometheus.GaugeVec
	poolExhaustedTotal   prometheus.Counter

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	agentRunTotal      *prometheus.CounterVec
	agentRunDuration   *prometheus.HistogramVec
	agentTurns         prometheus.Histogram
	hallucinationTotal *prometheus.CounterVec

	chatMessagesTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "queue_size",
					Help:      "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "enqueue_total",
					Help:      "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "dequeue_total",
					Help:      "Total completed tasks by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "task_duration_seconds",
					Help:      "Task execution duration in seconds by lane.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_load_duration_seconds",
					Help:      "Conversation history load duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_save_duration_seconds",
					Help:      "Conversation history append duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			storeQueryDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "store_query_duration_seconds",
					Help:      "SQLite store operation duration in seconds by operation.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			providerAttempts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "provider_attempts_total",
					Help:      "Provider calls by provider and outcome (success or error kind).",
				},
				[]string{"provider", "outcome"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "provider_call_duration_seconds",
					Help:      "Provider call duration in seconds by provider.",
					Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
				},
				[]string{"provider"},
			),
			providerKeys: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "provider_keys",
					Help:      "Configured API keys by provider.",
				},
				[]string{"provider"},
			),
			poolExhaustedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "pool_exhausted_total",
					Help:      "Dispatches that failed on every provider and key.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_run_total",
					Help:      "Total agent runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_duration_seconds",
					Help:      "Agent run duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentTurns: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_turns",
					Help:      "Turns used per agent run.",
					Buckets:   []float64{1, 2, 3, 4, 5, 7, 10, 15, 20},
				},
			),
			hallucinationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "hallucinated_tool_claims_total",
					Help:      "Answers claiming a tool that was not called, by tool.",
				},
				[]string{"tool"},
			),
			chatMessagesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "chat_messages_total",
					Help:      "Chat transport messages by direction.",
				},
				[]string{"direction"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.storeQueryDuration,
			m.providerAttempts,
			m.providerCallDuration,
			m.providerKeys,
			m.poolExhaustedTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentTurns,
			m.hallucinationTotal,
			m.chatMessagesTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, status(success)).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordStoreQuery(op string, duration time.Duration) {
	getMetrics().storeQueryDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordProviderAttempt counts one backend call. outcome is "success" or an error kind.
func RecordProviderAttempt(provider, outcome string, duration time.Duration) {
	m := getMetrics()
	m.providerAttempts.WithLabelValues(provider, outcome).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetProviderKeys(provider string, keys int) {
	getMetrics().providerKeys.WithLabelValues(provider).Set(float64(keys))
}

func RecordPoolExhausted() {
	getMetrics().poolExhaustedTotal.Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordAgentRun(provider string, duration time.Duration, turns int, success bool) {
	m := getMetrics()
	if provider == "" {
		provider = "none"
	}
	m.agentRunTotal.WithLabelValues(provider, status(success)).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.agentTurns.Observe(float64(turns))
}

func RecordHallucinatedClaim(tool string) {
	getMetrics().hallucinationTotal.WithLabelValues(tool).Inc()
}

// RecordChatMessage counts transport traffic; direction is "in" or "out".
func RecordChatMessage(direction string) {
	getMetrics().chatMessagesTotal.WithLabelValues(direction).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
