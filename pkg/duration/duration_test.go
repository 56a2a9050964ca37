package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationsPositive(t *testing.T) {
	all := map[string]time.Duration{
		"HTTPScanning":     HTTPScanning,
		"HTTPVerify":       HTTPVerify,
		"RetryFixed":       RetryFixed,
		"RetryMax":         RetryMax,
		"DNSRetry":         DNSRetry,
		"DBBusy":           DBBusy,
		"TokenTTL":         TokenTTL,
		"RateWindow":       RateWindow,
		"InterruptGrace":   InterruptGrace,
		"DBBusyTimeout":    DBBusyTimeout,
		"DBWrite":          DBWrite,
		"DialTimeout":      DialTimeout,
		"ServerShutdown":   ServerShutdown,
		"TelemetryConnect": TelemetryConnect,
	}
	for name, d := range all {
		assert.Greater(t, d, time.Duration(0), name)
	}
}

func TestRetryOrdering(t *testing.T) {
	assert.Less(t, RetryFixed, RetryMax)
	assert.Less(t, DBBusy, DBBusyTimeout)
	assert.Equal(t, 48*time.Hour, TokenTTL)
}
