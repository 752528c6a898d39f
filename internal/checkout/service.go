package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/medihub-cart/internal/cart"
	"github.com/noah-isme/medihub-cart/internal/common"
	"github.com/noah-isme/medihub-cart/internal/events"
	"github.com/noah-isme/medihub-cart/internal/geo"
	"github.com/noah-isme/medihub-cart/internal/lock"
	"github.com/noah-isme/medihub-cart/internal/obs"
	"github.com/noah-isme/medihub-cart/internal/pricing"
	"github.com/noah-isme/medihub-cart/internal/session"
)

// ErrMissingOrderID is returned when the backend acknowledges an order
// without identifying it.
var ErrMissingOrderID = errors.New("checkout: order created but id missing")

// OrderItem is one line of an order request.
type OrderItem struct {
	MedicineID cart.ID `json:"medicine_id" validate:"required"`
	Quantity   int     `json:"quantity" validate:"min=1"`
}

// OrderPayload is the order request sent to the backend.
type OrderPayload struct {
	PharmacyID      cart.ID       `json:"pharmacy_id" validate:"required"`
	IsExpress       bool          `json:"is_express"`
	DeliveryAddress string        `json:"delivery_address" validate:"required"`
	CustomerPhone   string        `json:"customer_phone" validate:"required,len=10,numeric"`
	CustomerLat     *float64      `json:"customer_lat"`
	CustomerLng     *float64      `json:"customer_lng"`
	PaymentMethod   PaymentMethod `json:"payment_method" validate:"oneof=cod upi card"`
	Items           []OrderItem   `json:"items" validate:"required,min=1,dive"`
}

// OrderCreator places orders with the backend and returns the order id.
type OrderCreator interface {
	CreateOrder(ctx context.Context, payload OrderPayload) (string, error)
}

// Locker serialises submissions across instances.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Quote is the priced checkout preview.
type Quote struct {
	Cart          cart.View    `json:"cart"`
	Estimate      geo.Estimate `json:"estimate"`
	DistanceLabel string       `json:"distance_label,omitempty"`
	ETA           string       `json:"eta,omitempty"`
	Flow          Flow         `json:"flow"`
}

// Receipt describes a placed order.
type Receipt struct {
	OrderID string          `json:"order_id"`
	Summary pricing.Summary `json:"summary"`
	Flow    Flow            `json:"flow"`
}

// Service drives the checkout flow of a session.
type Service struct {
	Cart      *cart.Store
	Flows     FlowStore
	Orders    OrderCreator
	Surcharge geo.Resolver
	Validator Validator
	Locker    Locker
	LockTTL   time.Duration
	Bus       *events.Bus
	Logger    zerolog.Logger

	validate *validator.Validate
	once     sync.Once
	mu       sync.Mutex
}

// State returns the session's checkout flow.
func (s *Service) State(ctx context.Context) (Flow, error) {
	return s.Flows.Load(ctx)
}

// SubmitAddress records delivery details and advances to payment. A failed
// validation keeps the flow on the address step with the message recorded.
func (s *Service) SubmitAddress(ctx context.Context, address, phone string) (Flow, error) {
	f, err := s.Flows.Load(ctx)
	if err != nil {
		return f, err
	}
	if f.Step != StepAddress {
		return f, stepError(f.Step, "submit address")
	}
	f.Address = address
	f.Phone = phone
	if verr := s.Validator.Validate(address, phone); verr != nil {
		f.Error = userMessage(verr)
		if err := s.save(ctx, f); err != nil {
			return f, err
		}
		return f, verr
	}
	f.Address = strings.TrimSpace(address)
	f.Phone = NormalizePhone(phone)
	f.Error = ""
	f.Step = StepPayment
	return f, s.save(ctx, f)
}

// ChoosePayment records the payment method and advances to confirmation.
func (s *Service) ChoosePayment(ctx context.Context, method string) (Flow, error) {
	f, err := s.Flows.Load(ctx)
	if err != nil {
		return f, err
	}
	if f.Step != StepPayment {
		return f, stepError(f.Step, "choose payment")
	}
	m, ok := ParsePaymentMethod(method)
	if !ok {
		return f, &common.AppError{
			Code:       "VALIDATION_FAILED",
			Message:    "Choose a supported payment method",
			HTTPStatus: http.StatusUnprocessableEntity,
			Details:    map[string]any{"field": "payment_method", "allowed": []PaymentMethod{PaymentCOD, PaymentUPI, PaymentCard}},
		}
	}
	f.PaymentMethod = m
	f.Step = StepConfirm
	f.Error = ""
	return f, s.save(ctx, f)
}

// Back returns to the previous step.
func (s *Service) Back(ctx context.Context) (Flow, error) {
	f, err := s.Flows.Load(ctx)
	if err != nil {
		return f, err
	}
	if err := f.Back(); err != nil {
		return f, err
	}
	return f, s.save(ctx, f)
}

// Reset starts a new checkout, keeping the last delivery details.
func (s *Service) Reset(ctx context.Context) (Flow, error) {
	prev, err := s.Flows.Load(ctx)
	if err != nil {
		return prev, err
	}
	f := NewFlow()
	f.Address = prev.Address
	f.Phone = prev.Phone
	return f, s.save(ctx, f)
}

// Quote prices the current cart including the distance surcharge.
func (s *Service) Quote(ctx context.Context, delivery pricing.DeliveryType) (Quote, error) {
	f, err := s.Flows.Load(ctx)
	if err != nil {
		return Quote{}, err
	}
	items := s.Cart.Items(ctx)
	est := s.estimate(ctx, items)
	q := Quote{Cart: cart.NewView(items, delivery), Estimate: est, Flow: f}
	q.Cart.Summary = pricing.Summarize(cart.PricingItems(items), delivery, est.Surcharge)
	if est.Known() {
		q.DistanceLabel = geo.FormatDistance(est.DistanceKm)
	}
	if est.Known() || delivery.IsExpress() {
		q.ETA = geo.DeliveryETA(est.DistanceKm, delivery.IsExpress())
	}
	return q, nil
}

// Submit places the order for the confirmed checkout. The cart is cleared and
// the flow marked submitted only once the backend returns an order id.
// Repeating a submission after success returns the same order.
func (s *Service) Submit(ctx context.Context, delivery pricing.DeliveryType) (Receipt, error) {
	var receipt Receipt
	err := s.withLock(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = s.submit(ctx, delivery)
		return err
	})
	if errors.Is(err, lock.ErrLockTimeout) {
		return receipt, common.NewAppError("SUBMIT_IN_PROGRESS", MsgSubmitInProgress, http.StatusConflict, err)
	}
	return receipt, err
}

func (s *Service) submit(ctx context.Context, delivery pricing.DeliveryType) (Receipt, error) {
	f, err := s.Flows.Load(ctx)
	if err != nil {
		return Receipt{}, err
	}
	if f.Step == StepSubmitted && f.OrderID != "" {
		return Receipt{OrderID: f.OrderID, Flow: f}, nil
	}
	if f.Step != StepConfirm {
		return Receipt{Flow: f}, stepError(f.Step, "submit order")
	}

	if verr := s.Validator.Validate(f.Address, f.Phone); verr != nil {
		f.Step = StepAddress
		f.Error = userMessage(verr)
		if err := s.save(ctx, f); err != nil {
			return Receipt{Flow: f}, err
		}
		obs.ObserveCheckoutOrder("rejected")
		return Receipt{Flow: f}, verr
	}

	items := s.Cart.Items(ctx)
	if len(items) == 0 {
		f.Error = MsgEmptyCart
		if err := s.save(ctx, f); err != nil {
			return Receipt{Flow: f}, err
		}
		obs.ObserveCheckoutOrder("rejected")
		return Receipt{Flow: f}, common.NewAppError("CART_EMPTY", MsgEmptyCart, http.StatusUnprocessableEntity, nil)
	}

	est := s.estimate(ctx, items)
	summary := pricing.Summarize(cart.PricingItems(items), delivery, est.Surcharge)
	payload := s.buildPayload(ctx, f, items, delivery)
	if err := s.validator().Struct(payload); err != nil {
		obs.ObserveCheckoutOrder("rejected")
		return Receipt{Flow: f}, &common.AppError{
			Code:       "INVALID_ORDER",
			Message:    "order request is incomplete",
			HTTPStatus: http.StatusUnprocessableEntity,
			Err:        err,
			Details:    validationDetails(err),
		}
	}

	orderID, err := s.createOrder(ctx, payload)
	if err != nil {
		msg := MsgOrderFailed
		status := http.StatusBadGateway
		if appErr, ok := common.AsAppError(err); ok && appErr.Message != "" {
			msg = appErr.Message
			if appErr.HTTPStatus >= 400 && appErr.HTTPStatus < 500 {
				status = appErr.HTTPStatus
			}
		}
		f.Error = msg
		if serr := s.save(ctx, f); serr != nil {
			s.Logger.Error().Err(serr).Msg("persist checkout error")
		}
		obs.ObserveCheckoutOrder("error")
		s.Logger.Warn().Err(err).Str("pharmacy_id", payload.PharmacyID.String()).Msg("order creation failed")
		return Receipt{Flow: f}, common.NewAppError("ORDER_FAILED", msg, status, err)
	}

	if err := s.Cart.Clear(ctx); err != nil {
		s.Logger.Error().Err(err).Str("order_id", orderID).Msg("clear cart after order")
	}
	f.Step = StepSubmitted
	f.OrderID = orderID
	f.Error = ""
	if err := s.save(ctx, f); err != nil {
		s.Logger.Error().Err(err).Str("order_id", orderID).Msg("persist submitted checkout")
	}
	obs.ObserveCheckoutOrder("ok")
	s.emit(ctx, events.TopicOrderCreated, map[string]any{
		"order_id":    orderID,
		"pharmacy_id": payload.PharmacyID,
		"total":       summary.Total,
	})
	return Receipt{OrderID: orderID, Summary: summary, Flow: f}, nil
}

func (s *Service) createOrder(ctx context.Context, payload OrderPayload) (string, error) {
	if s.Orders == nil {
		return "", errors.New("checkout: order backend not configured")
	}
	id, err := s.Orders.CreateOrder(ctx, payload)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrMissingOrderID
	}
	return id, nil
}

func (s *Service) buildPayload(ctx context.Context, f Flow, items []cart.LineItem, delivery pricing.DeliveryType) OrderPayload {
	p := OrderPayload{
		PharmacyID:      items[0].PharmacyID,
		IsExpress:       delivery.IsExpress(),
		DeliveryAddress: strings.TrimSpace(f.Address),
		CustomerPhone:   NormalizePhone(f.Phone),
		PaymentMethod:   f.PaymentMethod,
		Items:           make([]OrderItem, 0, len(items)),
	}
	if loc, ok := s.Cart.DeliveryLocation(ctx); ok {
		p.CustomerLat = &loc.Lat
		p.CustomerLng = &loc.Lng
	}
	for _, it := range items {
		p.Items = append(p.Items, OrderItem{MedicineID: it.ID, Quantity: it.Quantity})
	}
	return p
}

func (s *Service) estimate(ctx context.Context, items []cart.LineItem) geo.Estimate {
	if len(items) == 0 {
		return geo.Estimate{State: geo.StateUnknown}
	}
	est := s.Surcharge.ResolveWith(ctx, s.Cart.Locator(), items[0].PharmacyID.String())
	obs.ObserveSurchargeEstimate(string(est.State))
	return est
}

func (s *Service) withLock(ctx context.Context, fn func(context.Context) error) error {
	if s.Locker == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return s.Locker.WithLock(ctx, session.Key(ctx, "checkout_lock"), ttl, fn)
}

func (s *Service) save(ctx context.Context, f Flow) error {
	if err := s.Flows.Save(ctx, f); err != nil {
		return err
	}
	s.emit(ctx, events.TopicCheckoutUpdated, f)
	return nil
}

func (s *Service) emit(ctx context.Context, topic string, payload any) {
	if s.Bus == nil {
		return
	}
	sid, _ := session.From(ctx)
	if _, err := s.Bus.Emit(ctx, topic, sid, payload); err != nil {
		s.Logger.Warn().Err(err).Str("topic", topic).Msg("emit change notification")
	}
}

func (s *Service) validator() *validator.Validate {
	s.once.Do(func() {
		s.validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return s.validate
}

func validationDetails(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			out[fe.Namespace()] = fmt.Sprintf("failed %s", fe.Tag())
		}
	}
	return out
}

func userMessage(err error) string {
	if appErr, ok := common.AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}
