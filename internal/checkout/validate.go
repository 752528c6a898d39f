package checkout

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/noah-isme/medihub-cart/internal/common"
)

// Validation messages shown to the customer.
const (
	MsgAddressRequired = "Address is required"
	MsgInvalidPhone    = "Enter valid 10 digit phone"
	MsgRegionBlocked   = "Delivery is not available in this area"
	MsgEmptyCart       = "Cart is empty. Add medicines before checkout."
	MsgOrderFailed     = "Failed to place order. Please try again."

	MsgSubmitInProgress = "Your order is already being placed."
)

var (
	nonDigits = regexp.MustCompile(`\D`)
	tenDigits = regexp.MustCompile(`^\d{10}$`)
)

// NormalizePhone strips formatting and a leading 91 country code. Numbers
// longer than ten digits keep their last ten.
func NormalizePhone(v string) string {
	digits := nonDigits.ReplaceAllString(v, "")
	switch {
	case len(digits) == 10:
		return digits
	case len(digits) == 12 && strings.HasPrefix(digits, "91"):
		return digits[2:]
	case len(digits) > 10:
		return digits[len(digits)-10:]
	default:
		return digits
	}
}

// Validator checks delivery details. An empty Regions list accepts any address.
type Validator struct {
	Regions []string
}

// Validate returns a validation error for the first failing rule, or nil.
func (v Validator) Validate(address, phone string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return invalid(MsgAddressRequired, "address")
	}
	if !tenDigits.MatchString(NormalizePhone(phone)) {
		return invalid(MsgInvalidPhone, "phone")
	}
	if !v.serviceable(address) {
		return invalid(MsgRegionBlocked, "address")
	}
	return nil
}

func (v Validator) serviceable(address string) bool {
	if len(v.Regions) == 0 {
		return true
	}
	lower := strings.ToLower(address)
	for _, region := range v.Regions {
		region = strings.ToLower(strings.TrimSpace(region))
		if region != "" && strings.Contains(lower, region) {
			return true
		}
	}
	return false
}

func invalid(message, field string) error {
	return &common.AppError{
		Code:       "VALIDATION_FAILED",
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]string{"field": field},
	}
}
