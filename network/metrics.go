package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webdavfs",
		Subsystem: "network",
		Name:      "transactions_total",
		Help:      "Transactions by method and status class.",
	}, []string{"method", "status_class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webdavfs",
		Subsystem: "network",
		Name:      "retries_total",
		Help:      "Transaction retries by reason.",
	}, []string{"reason"})

	downloadsHandedOff = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "webdavfs",
		Subsystem: "network",
		Name:      "background_downloads_total",
		Help:      "GET bodies handed off for background download.",
	})
)

func countTransaction(method string, statusCode int) {
	class := "unknown"
	if statusCode >= 100 && statusCode < 600 {
		class = []string{"1xx", "2xx", "3xx", "4xx", "5xx"}[statusCode/100-1]
	}
	transactionsTotal.WithLabelValues(method, class).Inc()
}
