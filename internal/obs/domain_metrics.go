package obs

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrRejected marks an operation refused by business rules rather than failed.
var ErrRejected = errors.New("rejected")

var (
	domainOnce sync.Once

	// CartMutationsTotal counts cart mutations by operation and outcome.
	CartMutationsTotal *prometheus.CounterVec
	// CheckoutOrdersTotal counts order submission outcomes.
	CheckoutOrdersTotal *prometheus.CounterVec
	// SurchargeEstimatesTotal counts distance resolutions by resulting state.
	SurchargeEstimatesTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CartMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Count of cart mutations by operation and result.",
		}, []string{"op", "result"})
		CheckoutOrdersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_orders_total",
			Help:      "Count of order submission outcomes.",
		}, []string{"result"})
		SurchargeEstimatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surcharge_estimates_total",
			Help:      "Count of delivery distance resolutions by state.",
		}, []string{"state"})

		CartMutationsTotal = register(reg, CartMutationsTotal)
		CheckoutOrdersTotal = register(reg, CheckoutOrdersTotal)
		SurchargeEstimatesTotal = register(reg, SurchargeEstimatesTotal)
	})
}

// ObserveCartMutation records a cart mutation; a nil error counts as success.
func ObserveCartMutation(op string, err error) {
	if CartMutationsTotal == nil {
		return
	}
	CartMutationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

// ObserveCheckoutOrder records an order submission outcome.
func ObserveCheckoutOrder(result string) {
	if CheckoutOrdersTotal == nil {
		return
	}
	CheckoutOrdersTotal.WithLabelValues(result).Inc()
}

// ObserveSurchargeEstimate records the state of a distance resolution.
func ObserveSurchargeEstimate(state string) {
	if SurchargeEstimatesTotal == nil {
		return
	}
	SurchargeEstimatesTotal.WithLabelValues(state).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, ErrRejected) {
		return "rejected"
	}
	return "error"
}
