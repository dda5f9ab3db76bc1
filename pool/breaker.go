package pool

import (
	"time"

	"github.com/pior/kvtemplate/driver"
	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerConfig returns a function that creates the circuit breaker
// of a pool, for use as Config.NewCircuitBreaker. The breaker trips when at
// least 3 acquisitions were attempted and 60% of them failed.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) *gobreaker.CircuitBreaker[driver.Conn] {
	return func(name string) *gobreaker.CircuitBreaker[driver.Conn] {
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}
		return gobreaker.NewCircuitBreaker[driver.Conn](settings)
	}
}
