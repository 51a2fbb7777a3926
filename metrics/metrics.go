package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ClientMetrics struct {
	RequestCount    *prometheus.CounterVec
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

type UploadAPIMetrics struct {
	UploadAnswerRequestCount       prometheus.Counter
	UploadAnswerRequestDurationSec *prometheus.SummaryVec
	StageDurationSec               *prometheus.SummaryVec
	StageFailureCount              *prometheus.CounterVec
	TranscribeDurationSec          prometheus.Histogram
	MediaTransferCount             *prometheus.CounterVec

	MetadataClient ClientMetrics
}

func NewMetrics() *UploadAPIMetrics {
	m := &UploadAPIMetrics{
		// /upload/answer request metrics
		UploadAnswerRequestCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "upload_answer_request_count",
			Help: "The total number of requests to /upload/answer",
		}),
		UploadAnswerRequestDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "upload_answer_request_duration_seconds",
			Help: "The latency of the requests made to /upload/answer in seconds broken up by success and status code",
		}, []string{"success", "status_code"}),

		// worker stage metrics
		StageDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "upload_stage_duration_seconds",
			Help: "The time each pipeline stage takes to run, broken up by stage and success",
		}, []string{"stage", "success"}),
		StageFailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_stage_failure_count",
			Help: "The total number of failed pipeline stage runs",
		}, []string{"stage"}),
		TranscribeDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_duration_seconds",
			Help:    "Time taken by the external transcription service",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}),
		MediaTransferCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "media_transfer_count",
			Help: "The total number of media objects copied into the deployment bucket",
		}, []string{"success"}),

		// Clients metrics

		MetadataClient: ClientMetrics{
			RequestCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "metadata_client_request_count",
				Help: "The total number of GraphQL requests to the metadata service",
			}, []string{"host"}),
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "metadata_client_retry_count",
				Help: "The number of retries of a successful request to the metadata service",
			}, []string{"host"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "metadata_client_failure_count",
				Help: "The total number of failed metadata service requests",
			}, []string{"host", "status_code"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "metadata_client_request_duration",
				Help:    "Time taken by metadata service requests",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"host"}),
		},
	}

	return m
}

var Metrics = NewMetrics()
