package mcplus

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerConfig returns a function that creates circuit breakers for servers.
// This is a helper for common use cases, to be set as Config.NewCircuitBreaker.
//
// A breaker trips once at least 3 requests were seen with 60% of them failing.
// Misses, NOT_STORED replies and invalid keys count as successes: only
// connection and protocol failures open the circuit.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) *gobreaker.CircuitBreaker[struct{}] {
	return func(serverAddr string) *gobreaker.CircuitBreaker[struct{}] {
		settings := gobreaker.Settings{
			Name:        serverAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				return err == nil || isValueError(err)
			},
		}
		return gobreaker.NewCircuitBreaker[struct{}](settings)
	}
}
