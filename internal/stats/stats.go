// Package stats exposes the verification failure counters.
package stats

import "github.com/prometheus/client_golang/prometheus"

// Verify counts chain-verification failures by category. The two categories
// let operators tell "bad trust config / bad cert" (FailVerifyError) apart
// from "wrong identity" (FailVerifySAN).
type Verify struct {
	FailVerifyError prometheus.Counter
	FailVerifySAN   prometheus.Counter
}

// NewVerify builds the counters and registers them with reg when non-nil.
func NewVerify(reg prometheus.Registerer) *Verify {
	v := &Verify{
		FailVerifyError: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trustbundle",
			Name:      "fail_verify_error_total",
			Help:      "Peer certificate chains rejected by precheck, store lookup, or path validation.",
		}),
		FailVerifySAN: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trustbundle",
			Name:      "fail_verify_san_total",
			Help:      "Peer certificate chains rejected by SAN matcher policy.",
		}),
	}
	if reg != nil {
		reg.MustRegister(v.FailVerifyError, v.FailVerifySAN)
	}
	return v
}
