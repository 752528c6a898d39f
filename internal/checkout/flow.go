package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/noah-isme/medihub-cart/internal/cart"
	"github.com/noah-isme/medihub-cart/internal/common"
	"github.com/noah-isme/medihub-cart/internal/session"
)

// FlowKey is the per-session storage key of the checkout state.
const FlowKey = "medihub_checkout_v1"

// Step is a checkout stage. Steps advance one at a time.
type Step string

const (
	StepAddress   Step = "address"
	StepPayment   Step = "payment"
	StepConfirm   Step = "confirm"
	StepSubmitted Step = "submitted"
)

// PaymentMethod is the customer's chosen way to pay on delivery.
type PaymentMethod string

const (
	PaymentCOD  PaymentMethod = "cod"
	PaymentUPI  PaymentMethod = "upi"
	PaymentCard PaymentMethod = "card"
)

// ParsePaymentMethod accepts the supported methods case-insensitively.
func ParsePaymentMethod(v string) (PaymentMethod, bool) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(v))); m {
	case PaymentCOD, PaymentUPI, PaymentCard:
		return m, true
	default:
		return "", false
	}
}

// Flow is the persisted checkout state of a session.
type Flow struct {
	Step          Step          `json:"step"`
	Address       string        `json:"address"`
	Phone         string        `json:"phone"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	OrderID       string        `json:"order_id,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// NewFlow returns a flow at the first step.
func NewFlow() Flow {
	return Flow{Step: StepAddress, PaymentMethod: PaymentCOD}
}

// ErrInvalidStep is returned for a transition the current step does not allow.
var ErrInvalidStep = common.NewAppError("INVALID_STEP", "checkout step does not allow this action", http.StatusConflict, nil)

func stepError(from Step, action string) error {
	return &common.AppError{
		Code:       ErrInvalidStep.Code,
		Message:    fmt.Sprintf("cannot %s from %s step", action, from),
		HTTPStatus: http.StatusConflict,
		Err:        ErrInvalidStep,
	}
}

// Back moves one step backwards. The first step and a submitted order stay put.
func (f *Flow) Back() error {
	switch f.Step {
	case StepPayment:
		f.Step = StepAddress
	case StepConfirm:
		f.Step = StepPayment
	case StepAddress:
	default:
		return stepError(f.Step, "go back")
	}
	f.Error = ""
	return nil
}

// FlowStore persists flows in the same key/value backend as the cart.
type FlowStore struct {
	KV cart.KV
}

// Load returns the session's flow, or a fresh one when nothing usable is stored.
func (s FlowStore) Load(ctx context.Context) (Flow, error) {
	raw, ok, err := s.KV.Get(ctx, session.Key(ctx, FlowKey))
	if err != nil {
		return NewFlow(), fmt.Errorf("checkout: read flow: %w", err)
	}
	if !ok || raw == "" {
		return NewFlow(), nil
	}
	var f Flow
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return NewFlow(), nil
	}
	switch f.Step {
	case StepAddress, StepPayment, StepConfirm, StepSubmitted:
	default:
		return NewFlow(), nil
	}
	if _, ok := ParsePaymentMethod(string(f.PaymentMethod)); !ok {
		f.PaymentMethod = PaymentCOD
	}
	return f, nil
}

// Save writes f for the session.
func (s FlowStore) Save(ctx context.Context, f Flow) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("checkout: encode flow: %w", err)
	}
	if err := s.KV.Set(ctx, session.Key(ctx, FlowKey), string(data)); err != nil {
		return fmt.Errorf("checkout: persist flow: %w", err)
	}
	return nil
}
