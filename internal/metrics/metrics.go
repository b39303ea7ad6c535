// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_gateway_request_duration_seconds",
			Help:    "Total time taken for requests in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60, 120, 180},
		},
		[]string{"model", "event_type"},
	)

	InputTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_gateway_input_tokens_total",
			Help: "Total number of estimated input tokens",
		},
		[]string{"model"},
	)

	OutputTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_gateway_output_tokens_total",
			Help: "Total number of estimated output tokens",
		},
		[]string{"model"},
	)

	TotalTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_gateway_total_tokens_total",
			Help: "Total number of estimated tokens",
		},
		[]string{"model"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_gateway_request_count_total",
			Help: "Total number of invocations processed",
		},
		[]string{"model", "event_type"},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_gateway_error_count",
			Help: "Error count",
		},
		[]string{"model", "from"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_gateway_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
