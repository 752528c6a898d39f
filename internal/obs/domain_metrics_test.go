package obs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/medihub-cart/internal/obs"
)

func TestDomainMetrics(t *testing.T) {
	obs.MustRegisterDomainMetrics("medihub", prometheus.NewRegistry())

	before := testutil.ToFloat64(obs.CartMutationsTotal.WithLabelValues("add", "rejected"))
	obs.ObserveCartMutation("add", fmt.Errorf("out of stock: %w", obs.ErrRejected))
	require.Equal(t, before+1, testutil.ToFloat64(obs.CartMutationsTotal.WithLabelValues("add", "rejected")))

	before = testutil.ToFloat64(obs.CartMutationsTotal.WithLabelValues("remove", "error"))
	obs.ObserveCartMutation("remove", errors.New("redis down"))
	require.Equal(t, before+1, testutil.ToFloat64(obs.CartMutationsTotal.WithLabelValues("remove", "error")))

	before = testutil.ToFloat64(obs.SurchargeEstimatesTotal.WithLabelValues("far"))
	obs.ObserveSurchargeEstimate("far")
	require.Equal(t, before+1, testutil.ToFloat64(obs.SurchargeEstimatesTotal.WithLabelValues("far")))

	before = testutil.ToFloat64(obs.CheckoutOrdersTotal.WithLabelValues("ok"))
	obs.ObserveCheckoutOrder("ok")
	require.Equal(t, before+1, testutil.ToFloat64(obs.CheckoutOrdersTotal.WithLabelValues("ok")))
}
