package cmdqv

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the device's Prometheus counters. All of the record helpers
// are safe to call on a nil *Metrics, so instrumentation is optional.
type Metrics struct {
	accesses     *prometheus.CounterVec
	unimpl       prometheus.Counter
	binds        prometheus.Counter
	bindFailures prometheus.Counter
	frees        prometheus.Counter
	freeFailures prometheus.Counter
}

// NewMetrics creates the device counters and registers them with reg.
// A nil reg skips registration, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		accesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmdqv",
			Name:      "mmio_accesses_total",
			Help:      "MMIO accesses handled, by direction.",
		}, []string{"op"}),

		unimpl: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cmdqv",
			Name:      "mmio_unimplemented_total",
			Help:      "Accesses to unimplemented or out-of-window offsets.",
		}),

		binds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cmdqv",
			Name:      "queue_binds_total",
			Help:      "Successful virtual-queue bind operations.",
		}),

		bindFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cmdqv",
			Name:      "queue_bind_failures_total",
			Help:      "Bind attempts rejected by validation or the kernel.",
		}),

		frees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cmdqv",
			Name:      "queue_frees_total",
			Help:      "Successful kernel handle frees.",
		}),

		freeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cmdqv",
			Name:      "queue_free_failures_total",
			Help:      "Kernel handle frees that returned an error.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.accesses, m.unimpl,
			m.binds, m.bindFailures, m.frees, m.freeFailures)
	}

	return m
}

func (m *Metrics) access(isWrite bool) {
	if m == nil {
		return
	}

	m.accesses.WithLabelValues(op(isWrite)).Inc()
}

func (m *Metrics) unhandled() {
	if m == nil {
		return
	}

	m.unimpl.Inc()
}

func (m *Metrics) bind(ok bool) {
	if m == nil {
		return
	}

	if ok {
		m.binds.Inc()
	} else {
		m.bindFailures.Inc()
	}
}

func (m *Metrics) freeHandle(ok bool) {
	if m == nil {
		return
	}

	if ok {
		m.frees.Inc()
	} else {
		m.freeFailures.Inc()
	}
}
