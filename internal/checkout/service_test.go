package checkout_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/medihub-cart/internal/cart"
	"github.com/noah-isme/medihub-cart/internal/checkout"
	"github.com/noah-isme/medihub-cart/internal/common"
	"github.com/noah-isme/medihub-cart/internal/events"
	"github.com/noah-isme/medihub-cart/internal/geo"
	"github.com/noah-isme/medihub-cart/internal/lock"
	"github.com/noah-isme/medihub-cart/internal/pricing"
	"github.com/noah-isme/medihub-cart/internal/session"
)

type stubOrders struct {
	mu       sync.Mutex
	id       string
	err      error
	payloads []checkout.OrderPayload
}

func (s *stubOrders) CreateOrder(_ context.Context, p checkout.OrderPayload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	return s.id, s.err
}

func (s *stubOrders) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

type pharmacyMap map[string]geo.Point

func (m pharmacyMap) PharmacyLocation(_ context.Context, id string) (geo.Point, error) {
	p, ok := m[id]
	if !ok {
		return geo.Point{}, errors.New("pharmacy not found")
	}
	return p, nil
}

type fixture struct {
	svc    *checkout.Service
	store  *cart.Store
	orders *stubOrders
	bus    *events.Bus
	ctx    context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := cart.NewMemoryKV()
	bus := events.NewBus()
	store := cart.NewStore(kv, bus, zerolog.Nop())
	orders := &stubOrders{id: "101"}
	svc := &checkout.Service{
		Cart:   store,
		Flows:  checkout.FlowStore{KV: kv},
		Orders: orders,
		Surcharge: geo.Resolver{
			Pharmacies: pharmacyMap{"5": {Lat: 24.60, Lng: 80.90}},
			Timeout:    time.Second,
			Logger:     zerolog.Nop(),
		},
		Bus:    bus,
		Logger: zerolog.Nop(),
	}
	return &fixture{svc: svc, store: store, orders: orders, bus: bus, ctx: session.With(context.Background(), "checkout-sess")}
}

func (f *fixture) fillCart(t *testing.T, qty int) {
	t.Helper()
	for i := 0; i < qty; i++ {
		res, err := f.store.Add(f.ctx, cart.Product{ID: "1", Name: "Paracetamol", Price: 2000, PharmacyID: "5"})
		require.NoError(t, err)
		require.True(t, res.OK)
	}
}

func (f *fixture) toConfirm(t *testing.T) {
	t.Helper()
	_, err := f.svc.SubmitAddress(f.ctx, " 12 MG Road ", "+91 98765 43210")
	require.NoError(t, err)
	_, err = f.svc.ChoosePayment(f.ctx, "upi")
	require.NoError(t, err)
}

func TestStepTransitions(t *testing.T) {
	f := newFixture(t)

	flow, err := f.svc.State(f.ctx)
	require.NoError(t, err)
	require.Equal(t, checkout.StepAddress, flow.Step)
	require.Equal(t, checkout.PaymentCOD, flow.PaymentMethod)

	_, err = f.svc.ChoosePayment(f.ctx, "card")
	require.ErrorIs(t, err, checkout.ErrInvalidStep)

	flow, err = f.svc.SubmitAddress(f.ctx, "", "9876543210")
	require.Error(t, err)
	require.Equal(t, checkout.StepAddress, flow.Step)
	require.Equal(t, checkout.MsgAddressRequired, flow.Error)

	flow, err = f.svc.SubmitAddress(f.ctx, " 12 MG Road ", "+91 98765 43210")
	require.NoError(t, err)
	require.Equal(t, checkout.StepPayment, flow.Step)
	require.Equal(t, "12 MG Road", flow.Address)
	require.Equal(t, "9876543210", flow.Phone)
	require.Empty(t, flow.Error)

	_, err = f.svc.ChoosePayment(f.ctx, "bitcoin")
	require.Error(t, err)

	flow, err = f.svc.ChoosePayment(f.ctx, "card")
	require.NoError(t, err)
	require.Equal(t, checkout.StepConfirm, flow.Step)

	flow, err = f.svc.Back(f.ctx)
	require.NoError(t, err)
	require.Equal(t, checkout.StepPayment, flow.Step)

	flow, err = f.svc.Reset(f.ctx)
	require.NoError(t, err)
	require.Equal(t, checkout.StepAddress, flow.Step)
	require.Equal(t, "12 MG Road", flow.Address)
}

func TestQuoteAppliesDistanceSurcharge(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, 5)

	q, err := f.svc.Quote(f.ctx, pricing.DeliveryExpress)
	require.NoError(t, err)
	require.Equal(t, geo.StateUnknown, q.Estimate.State)
	require.Zero(t, q.Cart.Summary.DistanceSurcharge)
	require.Equal(t, pricing.Money(9000+3000+500), q.Cart.Summary.Total)
	require.Equal(t, "15-20 min", q.ETA)

	require.NoError(t, f.store.SetDeliveryLocation(f.ctx, geo.Point{Lat: 24.58, Lng: 80.83}))
	q, err = f.svc.Quote(f.ctx, pricing.DeliveryStandard)
	require.NoError(t, err)
	require.Equal(t, geo.StateFar, q.Estimate.State)
	require.InDelta(t, 7.42, q.Estimate.DistanceKm, 0.001)
	require.Equal(t, geo.SurchargeAmount, q.Cart.Summary.DistanceSurcharge)
	require.Equal(t, pricing.Money(9000+500+3000), q.Cart.Summary.Total)
	require.Equal(t, "7.4km", q.DistanceLabel)
	require.Equal(t, "23-28 min", q.ETA)
}

func TestQuoteWithUnknownPharmacyHasNoSurcharge(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Add(f.ctx, cart.Product{ID: "9", Price: 1000, PharmacyID: "77"})
	require.NoError(t, err)
	require.NoError(t, f.store.SetDeliveryLocation(f.ctx, geo.Point{Lat: 24.58, Lng: 80.83}))

	q, err := f.svc.Quote(f.ctx, pricing.DeliveryStandard)
	require.NoError(t, err)
	require.Equal(t, geo.StateUnknown, q.Estimate.State)
	require.NotEmpty(t, q.Estimate.PharmacyError)
	require.Zero(t, q.Cart.Summary.DistanceSurcharge)
	require.Empty(t, q.ETA)
}

func TestSubmitPlacesOrder(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, 3)
	require.NoError(t, f.store.SetDeliveryLocation(f.ctx, geo.Point{Lat: 24.58, Lng: 80.83}))
	f.toConfirm(t)

	var created []events.Event
	unsubscribe := f.bus.Subscribe(func(ev events.Event) {
		if ev.Topic == events.TopicOrderCreated {
			created = append(created, ev)
		}
	})
	defer unsubscribe()

	receipt, err := f.svc.Submit(f.ctx, pricing.DeliveryExpress)
	require.NoError(t, err)
	require.Equal(t, "101", receipt.OrderID)
	require.Equal(t, checkout.StepSubmitted, receipt.Flow.Step)
	require.Empty(t, f.store.Items(f.ctx))
	require.Len(t, created, 1)
	require.Equal(t, "checkout-sess", created[0].Session)

	require.Equal(t, 1, f.orders.calls())
	p := f.orders.payloads[0]
	require.Equal(t, cart.ID("5"), p.PharmacyID)
	require.True(t, p.IsExpress)
	require.Equal(t, "12 MG Road", p.DeliveryAddress)
	require.Equal(t, "9876543210", p.CustomerPhone)
	require.Equal(t, checkout.PaymentUPI, p.PaymentMethod)
	require.NotNil(t, p.CustomerLat)
	require.InDelta(t, 24.58, *p.CustomerLat, 1e-9)
	require.Equal(t, []checkout.OrderItem{{MedicineID: "1", Quantity: 3}}, p.Items)

	// a repeated submit returns the same order without a second backend call
	again, err := f.svc.Submit(f.ctx, pricing.DeliveryExpress)
	require.NoError(t, err)
	require.Equal(t, "101", again.OrderID)
	require.Equal(t, 1, f.orders.calls())
}

func TestSubmitWithoutLocationSendsNullCoordinates(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, 1)
	f.toConfirm(t)

	_, err := f.svc.Submit(f.ctx, pricing.DeliveryStandard)
	require.NoError(t, err)
	p := f.orders.payloads[0]
	require.Nil(t, p.CustomerLat)
	require.Nil(t, p.CustomerLng)
	require.False(t, p.IsExpress)
}

func TestSubmitFailuresKeepCart(t *testing.T) {
	cases := []struct {
		name    string
		id      string
		err     error
		message string
		status  int
	}{
		{"network failure", "", errors.New("connection refused"), checkout.MsgOrderFailed, http.StatusBadGateway},
		{"missing id", "", nil, checkout.MsgOrderFailed, http.StatusBadGateway},
		{"backend message", "", common.NewAppError("BACKEND_REJECTED", "Pharmacy not found", http.StatusNotFound, nil), "Pharmacy not found", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.orders.id = tc.id
			f.orders.err = tc.err
			f.fillCart(t, 2)
			f.toConfirm(t)

			_, err := f.svc.Submit(f.ctx, pricing.DeliveryStandard)
			var appErr *common.AppError
			require.ErrorAs(t, err, &appErr)
			require.Equal(t, tc.message, appErr.Message)
			require.Equal(t, tc.status, appErr.HTTPStatus)
			if tc.id == "" && tc.err == nil {
				require.ErrorIs(t, err, checkout.ErrMissingOrderID)
			}

			require.Len(t, f.store.Items(f.ctx), 1)
			flow, err := f.svc.State(f.ctx)
			require.NoError(t, err)
			require.Equal(t, checkout.StepConfirm, flow.Step)
			require.Equal(t, tc.message, flow.Error)
		})
	}
}

func TestSubmitEmptyCart(t *testing.T) {
	f := newFixture(t)
	f.toConfirm(t)

	_, err := f.svc.Submit(f.ctx, pricing.DeliveryStandard)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, checkout.MsgEmptyCart, appErr.Message)
	require.Zero(t, f.orders.calls())

	flow, err := f.svc.State(f.ctx)
	require.NoError(t, err)
	require.Equal(t, checkout.StepConfirm, flow.Step)
}

func TestSubmitRevalidatesAddress(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, 1)
	f.toConfirm(t)

	// region rules tightened after the address step
	f.svc.Validator = checkout.Validator{Regions: []string{"Rewa"}}
	_, err := f.svc.Submit(f.ctx, pricing.DeliveryStandard)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, checkout.MsgRegionBlocked, appErr.Message)
	require.Zero(t, f.orders.calls())

	flow, err := f.svc.State(f.ctx)
	require.NoError(t, err)
	require.Equal(t, checkout.StepAddress, flow.Step)
	require.Len(t, f.store.Items(f.ctx), 1)
}

func TestSubmitRequiresConfirmStep(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, 1)
	_, err := f.svc.Submit(f.ctx, pricing.DeliveryStandard)
	require.ErrorIs(t, err, checkout.ErrInvalidStep)
	require.Zero(t, f.orders.calls())
}

func TestConcurrentSubmitsPlaceOneOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t)
	f.svc.Locker = lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
	f.svc.LockTTL = 5 * time.Second
	f.fillCart(t, 2)
	f.toConfirm(t)

	var wg sync.WaitGroup
	ids := make([]string, 4)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipt, err := f.svc.Submit(f.ctx, pricing.DeliveryStandard)
			if err == nil {
				ids[i] = receipt.OrderID
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, f.orders.calls())
	for _, id := range ids {
		require.Equal(t, "101", id)
	}
	require.False(t, mr.Exists(session.PrefixKey("checkout-sess", "checkout_lock")))
}
