package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the production engine's Prometheus collectors
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Kafka
	KafkaEventsPublished *prometheus.CounterVec
	KafkaPublishDuration *prometheus.HistogramVec
	OutboxPending        prometheus.Gauge

	// MongoDB
	MongoDBOperations         *prometheus.CounterVec
	MongoDBOperationDuration  *prometheus.HistogramVec
	MongoDBTransactionRetries *prometheus.CounterVec

	// Temporal
	WorkflowsCompleted  *prometheus.CounterVec
	ActivitiesCompleted *prometheus.CounterVec
	ActivityDuration    *prometheus.HistogramVec

	// Reservations and inventory
	ReservationsTotal   *prometheus.CounterVec
	MaterialShortfalls  *prometheus.CounterVec
	ConsumptionVariance *prometheus.HistogramVec
	ReservationsExpired prometheus.Counter
	LowStockAlerts      *prometheus.CounterVec

	// Workflow
	StageTransitions   *prometheus.CounterVec
	OrderTransitions   *prometheus.CounterVec
	WorkerAssignments  *prometheus.CounterVec
	ConcurrencyRetries *prometheus.CounterVec
	StageActualMinutes *prometheus.HistogramVec

	// Circuit breaker
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	ServiceName string
	Namespace   string
}

// DefaultConfig returns default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "atelier",
	}
}

func counterVec(ns, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, append([]string{"service"}, labels...))
}

func histogramVec(ns, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, append([]string{"service"}, labels...))
}

// New creates a new Metrics instance on its own registry
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ns := config.Namespace
	svc := prometheus.Labels{"service": config.ServiceName}
	dbBuckets := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}

	m := &Metrics{
		serviceName: config.ServiceName,
		registry:    registry,

		HTTPRequestsTotal: counterVec(ns, "http_requests_total", "Total number of HTTP requests", "method", "path", "status"),
		HTTPRequestDuration: histogramVec(ns, "http_request_duration_seconds", "HTTP request duration in seconds",
			[]float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}, "method", "path"),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "http_requests_in_flight", Help: "HTTP requests currently being served", ConstLabels: svc,
		}),

		KafkaEventsPublished: counterVec(ns, "kafka_events_published_total", "Kafka events published", "topic", "event_type", "status"),
		KafkaPublishDuration: histogramVec(ns, "kafka_publish_duration_seconds", "Kafka publish duration in seconds",
			[]float64{.001, .005, .01, .025, .05, .1, .25, .5, 1}, "topic"),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "outbox_pending_events", Help: "Unpublished outbox events seen by the last poll", ConstLabels: svc,
		}),

		MongoDBOperations:         counterVec(ns, "mongodb_operations_total", "MongoDB operations", "collection", "operation", "status"),
		MongoDBOperationDuration:  histogramVec(ns, "mongodb_operation_duration_seconds", "MongoDB operation duration in seconds", dbBuckets, "collection", "operation"),
		MongoDBTransactionRetries: counterVec(ns, "mongodb_transaction_errors_total", "MongoDB transactions that returned an error", "reason"),

		WorkflowsCompleted:  counterVec(ns, "temporal_workflows_completed_total", "Temporal workflows completed", "workflow_type", "status"),
		ActivitiesCompleted: counterVec(ns, "temporal_activities_completed_total", "Temporal activities completed", "activity_type", "status"),
		ActivityDuration: histogramVec(ns, "temporal_activity_duration_seconds", "Temporal activity duration in seconds",
			[]float64{.05, .1, .5, 1, 5, 10, 30, 60}, "activity_type"),

		ReservationsTotal:  counterVec(ns, "reservations_total", "Reservation lifecycle transitions", "status"),
		MaterialShortfalls: counterVec(ns, "material_shortfalls_total", "Materials that could not be reserved", "material_id"),
		ConsumptionVariance: histogramVec(ns, "consumption_variance_ratio", "Consumed minus reserved, divided by reserved",
			[]float64{-0.5, -0.25, -0.1, -0.05, 0, 0.05, 0.1, 0.25, 0.5}, "material_id"),
		ReservationsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "reservations_expired_total", Help: "Reservations released by the expiry sweep", ConstLabels: svc,
		}),
		LowStockAlerts: counterVec(ns, "low_stock_alerts_total", "Materials that fell to or below their reorder level", "material_id"),

		StageTransitions:   counterVec(ns, "stage_transitions_total", "Stage status transitions", "stage_id", "to_status"),
		OrderTransitions:   counterVec(ns, "order_transitions_total", "Order status transitions", "to_status"),
		WorkerAssignments:  counterVec(ns, "worker_assignments_total", "Worker assignment attempts", "stage_id", "result"),
		ConcurrencyRetries: counterVec(ns, "concurrency_retries_total", "Operations retried after a concurrent modification", "operation"),
		StageActualMinutes: histogramVec(ns, "stage_actual_minutes", "Minutes spent per completed stage",
			[]float64{5, 15, 30, 60, 120, 240, 480, 960}, "stage_id"),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Name: "circuit_breaker_state", Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"service", "name"}),
		CircuitBreakerTrips: counterVec(ns, "circuit_breaker_trips_total", "Circuit breaker trips", "name"),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration, m.HTTPRequestsInFlight,
		m.KafkaEventsPublished, m.KafkaPublishDuration, m.OutboxPending,
		m.MongoDBOperations, m.MongoDBOperationDuration, m.MongoDBTransactionRetries,
		m.WorkflowsCompleted, m.ActivitiesCompleted, m.ActivityDuration,
		m.ReservationsTotal, m.MaterialShortfalls, m.ConsumptionVariance, m.ReservationsExpired, m.LowStockAlerts,
		m.StageTransitions, m.OrderTransitions, m.WorkerAssignments, m.ConcurrencyRetries, m.StageActualMinutes,
		m.CircuitBreakerState, m.CircuitBreakerTrips,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, code int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(m.serviceName, method, path, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncrementHTTPRequestsInFlight() { m.HTTPRequestsInFlight.Inc() }

// DecrementHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecrementHTTPRequestsInFlight() { m.HTTPRequestsInFlight.Dec() }

// RecordKafkaPublish records a Kafka publish
func (m *Metrics) RecordKafkaPublish(topic, eventType string, success bool, duration time.Duration) {
	m.KafkaEventsPublished.WithLabelValues(m.serviceName, topic, eventType, status(success)).Inc()
	m.KafkaPublishDuration.WithLabelValues(m.serviceName, topic).Observe(duration.Seconds())
}

// SetOutboxPending sets the number of unpublished outbox events
func (m *Metrics) SetOutboxPending(n int) { m.OutboxPending.Set(float64(n)) }

// RecordMongoDBOperation records a MongoDB operation
func (m *Metrics) RecordMongoDBOperation(collection, operation string, success bool, duration time.Duration) {
	m.MongoDBOperations.WithLabelValues(m.serviceName, collection, operation, status(success)).Inc()
	m.MongoDBOperationDuration.WithLabelValues(m.serviceName, collection, operation).Observe(duration.Seconds())
}

// RecordTransactionError records a failed MongoDB transaction
func (m *Metrics) RecordTransactionError(reason string) {
	m.MongoDBTransactionRetries.WithLabelValues(m.serviceName, reason).Inc()
}

// RecordWorkflowCompleted records a workflow completion
func (m *Metrics) RecordWorkflowCompleted(workflowType string, success bool) {
	m.WorkflowsCompleted.WithLabelValues(m.serviceName, workflowType, status(success)).Inc()
}

// RecordActivityCompleted records an activity completion
func (m *Metrics) RecordActivityCompleted(activityType string, success bool, duration time.Duration) {
	m.ActivitiesCompleted.WithLabelValues(m.serviceName, activityType, status(success)).Inc()
	m.ActivityDuration.WithLabelValues(m.serviceName, activityType).Observe(duration.Seconds())
}

// RecordReservation records a reservation entering the given status
func (m *Metrics) RecordReservation(reservationStatus string, count int) {
	m.ReservationsTotal.WithLabelValues(m.serviceName, reservationStatus).Add(float64(count))
}

// RecordShortfall records an unsatisfiable material request
func (m *Metrics) RecordShortfall(materialID string) {
	m.MaterialShortfalls.WithLabelValues(m.serviceName, materialID).Inc()
}

// RecordConsumptionVariance records actual against reserved usage
func (m *Metrics) RecordConsumptionVariance(materialID string, reserved, actual float64) {
	if reserved <= 0 {
		return
	}
	m.ConsumptionVariance.WithLabelValues(m.serviceName, materialID).Observe((actual - reserved) / reserved)
}

// RecordReservationsExpired records reservations released by the sweep
func (m *Metrics) RecordReservationsExpired(count int) {
	m.ReservationsExpired.Add(float64(count))
}

// RecordLowStock records a low stock alert
func (m *Metrics) RecordLowStock(materialID string) {
	m.LowStockAlerts.WithLabelValues(m.serviceName, materialID).Inc()
}

// RecordStageTransition records a stage status change
func (m *Metrics) RecordStageTransition(stageID, toStatus string) {
	m.StageTransitions.WithLabelValues(m.serviceName, stageID, toStatus).Inc()
}

// RecordOrderTransition records an order status change
func (m *Metrics) RecordOrderTransition(toStatus string) {
	m.OrderTransitions.WithLabelValues(m.serviceName, toStatus).Inc()
}

// RecordAssignment records a worker assignment attempt
func (m *Metrics) RecordAssignment(stageID string, success bool) {
	m.WorkerAssignments.WithLabelValues(m.serviceName, stageID, status(success)).Inc()
}

// RecordConcurrencyRetry records a retry after a concurrent modification
func (m *Metrics) RecordConcurrencyRetry(operation string) {
	m.ConcurrencyRetries.WithLabelValues(m.serviceName, operation).Inc()
}

// RecordStageMinutes records the actual minutes spent on a completed stage
func (m *Metrics) RecordStageMinutes(stageID string, minutes float64) {
	m.StageActualMinutes.WithLabelValues(m.serviceName, stageID).Observe(minutes)
}

// SetCircuitBreakerState sets the circuit breaker state
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(m.serviceName, name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(name string) {
	m.CircuitBreakerTrips.WithLabelValues(m.serviceName, name).Inc()
}
