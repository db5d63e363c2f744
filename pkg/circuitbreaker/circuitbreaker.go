package circuitbreaker

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var (
	// MaxConsecutiveFailures is the number of failing calls in a row after
	// which the breaker opens.
	MaxConsecutiveFailures uint32 = 5
	// OpenTimeout is how long the breaker stays open before probing the
	// server again.
	OpenTimeout = 30 * time.Second
)

// NewCircuitBreaker returns a breaker guarding the calls towards a chain
// index server, opening after too many consecutive failures and logging
// every state change.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= MaxConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
}
