package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics counts drain outcomes and pushes them to a Pushgateway when the
// drain ends. Batch workers exit too quickly to be scraped.
type Metrics struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	messages     *prometheus.CounterVec
	records      prometheus.Counter
	stepDuration *prometheus.HistogramVec
}

func NewMetrics(jobName, gatewayURL string) *Metrics {
	if jobName == "" {
		jobName = "title_ingest"
	}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        reg,
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_messages_total",
				Help: "Queue messages resolved, partitioned by outcome and error kind.",
			},
			[]string{"outcome", "kind"},
		),
		records: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_records_written_total",
				Help: "Records handed to the sink successfully.",
			},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_step_duration_seconds",
				Help:    "Duration of fetch, transform and sink steps.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
			},
			[]string{"step", "status"},
		),
	}
	reg.MustRegister(m.messages, m.records, m.stepDuration)
	return m
}

// ObserveMessage records how a message was resolved: processed, duplicate,
// retry or abandoned.
func (m *Metrics) ObserveMessage(outcome string, err error) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome, errorKind(err)).Inc()
}

func (m *Metrics) AddRecords(n int) {
	if m == nil {
		return
	}
	m.records.Add(float64(n))
}

func (m *Metrics) ObserveStep(step string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.stepDuration.WithLabelValues(step, status).Observe(d.Seconds())
}

// Push is a no-op without a gateway URL.
func (m *Metrics) Push() error {
	if m == nil || m.gatewayURL == "" {
		return nil
	}
	if err := push.New(m.gatewayURL, m.jobName).Gatherer(m.reg).Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
