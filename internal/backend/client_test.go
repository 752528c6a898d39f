package backend_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/medihub-cart/internal/backend"
	"github.com/noah-isme/medihub-cart/internal/cache"
	"github.com/noah-isme/medihub-cart/internal/checkout"
	"github.com/noah-isme/medihub-cart/internal/common"
	"github.com/noah-isme/medihub-cart/internal/geo"
)

type fakeBackend struct {
	pharmacyHits int32
	orderHits    int32
	lastOrder    map[string]any
	orderStatus  int
	orderBody    string
}

func (f *fakeBackend) server(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/pharmacies/{id}", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.pharmacyHits, 1)
		switch chi.URLParam(r, "id") {
		case "5":
			_, _ = io.WriteString(w, `{"ok":true,"pharmacy":{"id":5,"name":"City Pharmacy","lat":24.60,"lng":"80.90"}}`)
		case "6":
			_, _ = io.WriteString(w, `{"ok":true,"pharmacy":{"id":6,"name":"No Map","lat":null,"lng":null}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"ok":false,"message":"Pharmacy not found"}`)
		}
	})
	r.Post("/orders/create", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.orderHits, 1)
		_ = json.NewDecoder(r.Body).Decode(&f.lastOrder)
		if f.orderStatus != 0 {
			w.WriteHeader(f.orderStatus)
		}
		_, _ = io.WriteString(w, f.orderBody)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func payload() checkout.OrderPayload {
	lat, lng := 24.58, 80.83
	return checkout.OrderPayload{
		PharmacyID:      "5",
		IsExpress:       true,
		DeliveryAddress: "12 MG Road",
		CustomerPhone:   "9876543210",
		CustomerLat:     &lat,
		CustomerLng:     &lng,
		PaymentMethod:   checkout.PaymentCOD,
		Items:           []checkout.OrderItem{{MedicineID: "1", Quantity: 5}},
	}
}

func TestPharmacyLocation(t *testing.T) {
	fb := &fakeBackend{}
	srv := fb.server(t)
	client := backend.NewClient(srv.URL+"/", time.Second, zerolog.Nop())

	pt, err := client.PharmacyLocation(context.Background(), "5")
	require.NoError(t, err)
	require.Equal(t, geo.Point{Lat: 24.60, Lng: 80.90}, pt)

	_, err = client.PharmacyLocation(context.Background(), "6")
	require.ErrorIs(t, err, backend.ErrNoCoordinates)

	_, err = client.PharmacyLocation(context.Background(), "404")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "Pharmacy not found", appErr.Message)
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
}

func TestCreateOrder(t *testing.T) {
	fb := &fakeBackend{orderStatus: http.StatusCreated, orderBody: `{"ok":true,"order":{"id":42,"order_number":"ORD-1A2B3C4D"}}`}
	srv := fb.server(t)
	client := backend.NewClient(srv.URL, time.Second, zerolog.Nop())

	id, err := client.CreateOrder(context.Background(), payload())
	require.NoError(t, err)
	require.Equal(t, "42", id)

	require.Equal(t, float64(5), fb.lastOrder["pharmacy_id"])
	require.Equal(t, true, fb.lastOrder["is_express"])
	require.Equal(t, "9876543210", fb.lastOrder["customer_phone"])
	require.Equal(t, 24.58, fb.lastOrder["customer_lat"])
	items := fb.lastOrder["items"].([]any)
	require.Len(t, items, 1)
	require.Equal(t, map[string]any{"medicine_id": float64(1), "quantity": float64(5)}, items[0])
}

func TestCreateOrderFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
		missing bool
	}{
		{name: "missing id", status: http.StatusOK, body: `{"ok":true,"order":{}}`, missing: true},
		{name: "no order", status: http.StatusOK, body: `{"ok":true}`, missing: true},
		{name: "validation message", status: http.StatusBadRequest, body: `{"ok":false,"message":"delivery_address is required"}`, message: "delivery_address is required"},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fb := &fakeBackend{orderStatus: tc.status, orderBody: tc.body}
			srv := fb.server(t)
			client := backend.NewClient(srv.URL, time.Second, zerolog.Nop())

			_, err := client.CreateOrder(context.Background(), payload())
			require.Error(t, err)
			require.Equal(t, int32(1), atomic.LoadInt32(&fb.orderHits), "orders are never retried")
			if tc.missing {
				require.ErrorIs(t, err, checkout.ErrMissingOrderID)
			}
			var appErr *common.AppError
			if tc.message != "" {
				require.ErrorAs(t, err, &appErr)
				require.Equal(t, tc.message, appErr.Message)
			} else {
				_, isApp := common.AsAppError(err)
				require.False(t, isApp)
			}
		})
	}
}

func TestCachedPharmacies(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	fb := &fakeBackend{}
	srv := fb.server(t)
	lookup := backend.NewCachedPharmacies(backend.NewClient(srv.URL, time.Second, zerolog.Nop()), cache.New(rdb, time.Minute), zerolog.Nop())

	for i := 0; i < 3; i++ {
		pt, err := lookup.PharmacyLocation(context.Background(), "5")
		require.NoError(t, err)
		require.InDelta(t, 80.90, pt.Lng, 1e-9)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&fb.pharmacyHits))

	for i := 0; i < 2; i++ {
		_, err := lookup.PharmacyLocation(context.Background(), "404")
		require.Error(t, err)
	}
	require.Equal(t, int32(3), atomic.LoadInt32(&fb.pharmacyHits))
}
