package risk

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// Breaker state labels for metrics.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// Per-service breaker thresholds. The exchange recovers on its own schedule,
// telegram tolerates longer outages, the database should retry quickly.
const (
	ExchangeMinRequests     = 5
	ExchangeFailureRatio    = 0.6
	ExchangeOpenTimeout     = 30 * time.Second
	ExchangeHalfOpenMaxReqs = 3
	ExchangeCountInterval   = 10 * time.Second

	TelegramMinRequests     = 3
	TelegramFailureRatio    = 0.6
	TelegramOpenTimeout     = 60 * time.Second
	TelegramHalfOpenMaxReqs = 2
	TelegramCountInterval   = 10 * time.Second

	DBMinRequests     = 10
	DBFailureRatio    = 0.6
	DBOpenTimeout     = 15 * time.Second
	DBHalfOpenMaxReqs = 5
	DBCountInterval   = 10 * time.Second
)

// BreakerManager holds one circuit breaker per outbound dependency.
type BreakerManager struct {
	exchange *gobreaker.CircuitBreaker
	telegram *gobreaker.CircuitBreaker
	database *gobreaker.CircuitBreaker
	metrics  *breakerMetrics
}

type breakerMetrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
}

var (
	globalBreakerMetrics *breakerMetrics
	breakerMetricsOnce   sync.Once
)

func initBreakerMetrics() {
	breakerMetricsOnce.Do(func() {
		globalBreakerMetrics = &breakerMetrics{
			state: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "vigil_circuit_breaker_state",
					Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
				},
				[]string{"service"},
			),
			requests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "vigil_circuit_breaker_requests_total",
					Help: "Requests through the circuit breakers",
				},
				[]string{"service", "result"},
			),
		}
	})
}

// ServiceSettings configures one breaker.
type ServiceSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// NewBreakerManager creates breakers with the default per-service settings.
func NewBreakerManager() *BreakerManager {
	return NewBreakerManagerWithSettings(nil, nil, nil)
}

// NewBreakerManagerWithSettings creates breakers with explicit settings; nil
// picks the defaults for that service.
func NewBreakerManagerWithSettings(exchange, telegram, database *ServiceSettings) *BreakerManager {
	initBreakerMetrics()

	m := &BreakerManager{metrics: globalBreakerMetrics}

	if exchange == nil {
		exchange = &ServiceSettings{
			MinRequests:     ExchangeMinRequests,
			FailureRatio:    ExchangeFailureRatio,
			OpenTimeout:     ExchangeOpenTimeout,
			HalfOpenMaxReqs: ExchangeHalfOpenMaxReqs,
			CountInterval:   ExchangeCountInterval,
		}
	}
	if telegram == nil {
		telegram = &ServiceSettings{
			MinRequests:     TelegramMinRequests,
			FailureRatio:    TelegramFailureRatio,
			OpenTimeout:     TelegramOpenTimeout,
			HalfOpenMaxReqs: TelegramHalfOpenMaxReqs,
			CountInterval:   TelegramCountInterval,
		}
	}
	if database == nil {
		database = &ServiceSettings{
			MinRequests:     DBMinRequests,
			FailureRatio:    DBFailureRatio,
			OpenTimeout:     DBOpenTimeout,
			HalfOpenMaxReqs: DBHalfOpenMaxReqs,
			CountInterval:   DBCountInterval,
		}
	}

	m.exchange = m.newBreaker("exchange", exchange)
	m.telegram = m.newBreaker("telegram", telegram)
	m.database = m.newBreaker("database", database)
	return m
}

func (m *BreakerManager) newBreaker(name string, s *ServiceSettings) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenMaxReqs,
		Interval:    s.CountInterval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && ratio >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.updateStateMetric(name, to)
		},
	})
}

func (m *BreakerManager) updateStateMetric(service string, to gobreaker.State) {
	var value float64
	switch to {
	case gobreaker.StateClosed:
		value = 0
	case gobreaker.StateOpen:
		value = 1
	case gobreaker.StateHalfOpen:
		value = 2
	}
	m.metrics.state.WithLabelValues(service).Set(value)
}

func (m *BreakerManager) execute(cb *gobreaker.CircuitBreaker, fn func() (interface{}, error)) (interface{}, error) {
	res, err := cb.Execute(fn)
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.metrics.requests.WithLabelValues(cb.Name(), result).Inc()
	return res, err
}

// ExecuteExchange runs fn through the exchange breaker.
func (m *BreakerManager) ExecuteExchange(fn func() (interface{}, error)) (interface{}, error) {
	return m.execute(m.exchange, fn)
}

// ExecuteTelegram runs fn through the telegram breaker.
func (m *BreakerManager) ExecuteTelegram(fn func() (interface{}, error)) (interface{}, error) {
	return m.execute(m.telegram, fn)
}

// ExecuteDB runs fn through the database breaker.
func (m *BreakerManager) ExecuteDB(fn func() (interface{}, error)) (interface{}, error) {
	return m.execute(m.database, fn)
}

// ExchangeState exposes the exchange breaker state for health reporting.
func (m *BreakerManager) ExchangeState() gobreaker.State { return m.exchange.State() }
