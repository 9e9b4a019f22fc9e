package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "propsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	crmRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_requests_total",
			Help:      "Outbound CRM requests by method and status class.",
		},
		[]string{"method", "status"},
	)

	crmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crm_request_duration_seconds",
			Help:      "Outbound CRM request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	syncItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Items processed by background syncs.",
		},
		[]string{"type", "result"},
	)

	syncJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_jobs_total",
			Help:      "Sync jobs by type and final status.",
		},
		[]string{"type", "status"},
	)

	webhooks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Inbound CRM webhooks by action and result.",
		},
		[]string{"action", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, crmRequests, crmDuration, syncItems, syncJobs, webhooks)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveCRM records one outbound CRM call. Status 0 is a transport failure.
func ObserveCRM(method string, status int, d time.Duration) {
	crmRequests.WithLabelValues(method, statusClass(status)).Inc()
	crmDuration.WithLabelValues(method).Observe(d.Seconds())
}

// IncSyncItem counts a processed item.
func IncSyncItem(syncType string, success bool) {
	result := "success"
	if !success {
		result = "failed"
	}
	syncItems.WithLabelValues(syncType, result).Inc()
}

// IncSyncJob counts a job reaching a final status.
func IncSyncJob(syncType, status string) {
	syncJobs.WithLabelValues(syncType, status).Inc()
}

// IncWebhook counts a processed webhook.
func IncWebhook(action, result string) {
	webhooks.WithLabelValues(action, result).Inc()
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
