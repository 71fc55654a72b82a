package payment

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/brightpath/backend/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// PaymentExpiry is how long a local payment link stays valid.
const PaymentExpiry = 24 * time.Hour

// DefaultLocalMethods are the payment rails offered by the local provider.
var DefaultLocalMethods = []string{
	"TELEBIRR", "AWASH", "AWASH_WALLET", "PSS", "CBE", "AMOLE", "BOA", "KACHA", "HELLOCASH", "MPESSA",
}

// Provider is the closed set of payment providers. Only LocalProvider and
// InternationalProvider implement it.
type Provider interface {
	Kind() domain.ProviderKind
	RequiresPhone() bool
	SupportedMethods() []string
	sealed()
}

// CheckoutInput is what both providers need to describe a purchase.
type CheckoutInput struct {
	UserID       string
	Email        string
	Phone        string
	PlanID       string
	PlanName     string
	Amount       decimal.Decimal
	BillingCycle domain.BillingCycle
	URLs         RedirectURLs
	IssuedAt     time.Time
	// Nonce is the per-checkout secret a genuine notification must echo.
	Nonce string
}

// RedirectURLs are the provider callback and redirect targets.
type RedirectURLs struct {
	Success string
	Cancel  string
	Error   string
	Notify  string
}

// BuildRedirectURLs roots the dashboard redirects at origin and the
// notification callback at apiBase. The callback carries nonce so providers
// that do not echo it in the body still prove the delivery is genuine.
func BuildRedirectURLs(origin, apiBase, planID string, cycle domain.BillingCycle, nonce string) RedirectURLs {
	return RedirectURLs{
		Success: origin + "/payment/success?plan=" + url.QueryEscape(planID) + "&billing=" + url.QueryEscape(string(cycle)),
		Cancel:  origin + "/payment/cancel?status=canceled",
		Error:   origin + "/payment/error?status=error",
		Notify:  apiBase + "/payment/webhook?nonce=" + url.QueryEscape(nonce),
	}
}

// ToMinorUnits converts a major-unit amount to minor units (x100), rounding
// half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// LocalProvider builds mobile-money payment requests.
type LocalProvider struct {
	countryCode string
	currency    string
	methods     []string
	phoneRe     *regexp.Regexp
	validate    *validator.Validate
}

// NewLocalProvider creates a local provider for a numeric country calling code.
func NewLocalProvider(countryCode, currency string, methods []string) (*LocalProvider, error) {
	if !regexp.MustCompile(`^\d{1,4}$`).MatchString(countryCode) {
		return nil, fmt.Errorf("invalid country code %q", countryCode)
	}
	if len(methods) == 0 {
		methods = DefaultLocalMethods
	}
	p := &LocalProvider{
		countryCode: countryCode,
		currency:    currency,
		methods:     append([]string(nil), methods...),
		phoneRe:     regexp.MustCompile(`^` + countryCode + `\d{9}$`),
		validate:    newValidator(),
	}
	if err := p.validate.RegisterValidation("localphone", func(fl validator.FieldLevel) bool {
		return p.phoneRe.MatchString(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("failed to register phone validation: %w", err)
	}
	return p, nil
}

func (p *LocalProvider) Kind() domain.ProviderKind { return domain.ProviderLocal }
func (p *LocalProvider) RequiresPhone() bool { return true }
func (p *LocalProvider) Currency() string { return p.currency }
func (p *LocalProvider) sealed() {}

func (p *LocalProvider) SupportedMethods() []string {
	return append([]string(nil), p.methods...)
}

// ValidPhone reports whether phone is <country code> followed by nine digits.
func (p *LocalProvider) ValidPhone(phone string) bool {
	return p.phoneRe.MatchString(phone)
}

// BuildRequest validates the input and assembles the provider request.
func (p *LocalProvider) BuildRequest(in CheckoutInput) (*domain.PaymentRequest, error) {
	if in.Phone == "" {
		return nil, domain.ErrFieldValidation("phone", "phone number is required for mobile money payments")
	}
	if !p.ValidPhone(in.Phone) {
		return nil, domain.ErrFieldValidation("phone",
			fmt.Sprintf("phone number must be %s followed by 9 digits", p.countryCode))
	}
	if !in.Amount.IsPositive() {
		return nil, domain.ErrFieldValidation("amount", "amount must be greater than zero")
	}

	minor := ToMinorUnits(in.Amount)
	req := &domain.PaymentRequest{
		UserID:     in.UserID,
		Amount:     minor,
		Currency:   p.currency,
		CancelURL:  in.URLs.Cancel,
		SuccessURL: in.URLs.Success,
		ErrorURL:   in.URLs.Error,
		NotifyURL:  in.URLs.Notify,
		Phone:      in.Phone,
		Email:      in.Email,
		Nonce:      in.Nonce,
		ExpireDate: in.IssuedAt.Add(PaymentExpiry),
		Items: []domain.PaymentItem{{
			Name:        fmt.Sprintf("%s Plan (%s)", in.PlanName, in.BillingCycle),
			Quantity:    1,
			Price:       minor,
			Description: fmt.Sprintf("%s subscription, billed %s", in.PlanName, in.BillingCycle),
		}},
		PaymentMethods: p.SupportedMethods(),
	}

	if err := p.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	return req, nil
}

// InternationalProvider builds card checkout sessions against pre-configured prices.
type InternationalProvider struct {
	priceIDs map[string]string
	validate *validator.Validate
}

// NewInternationalProvider takes price ids keyed by "<planId>_<billingCycle>".
func NewInternationalProvider(priceIDs map[string]string) *InternationalProvider {
	ids := make(map[string]string, len(priceIDs))
	for k, v := range priceIDs {
		ids[k] = v
	}
	return &InternationalProvider{
		priceIDs: ids,
		validate: newValidator(),
	}
}

func (p *InternationalProvider) Kind() domain.ProviderKind { return domain.ProviderInternational }
func (p *InternationalProvider) RequiresPhone() bool { return false }
func (p *InternationalProvider) SupportedMethods() []string { return []string{"card"} }
func (p *InternationalProvider) sealed() {}

// PriceID returns the configured price for a plan and cycle.
func (p *InternationalProvider) PriceID(planID string, cycle domain.BillingCycle) (string, bool) {
	id, ok := p.priceIDs[planID+"_"+string(cycle)]
	return id, ok && id != ""
}

// BuildCheckout assembles the checkout-session request. priceID overrides the
// configured price when non-empty.
func (p *InternationalProvider) BuildCheckout(in CheckoutInput, priceID string) (*domain.CheckoutSessionRequest, error) {
	if priceID == "" {
		var ok bool
		if priceID, ok = p.PriceID(in.PlanID, in.BillingCycle); !ok {
			return nil, domain.ErrFieldValidation("priceId",
				fmt.Sprintf("no card price configured for %s (%s)", in.PlanID, in.BillingCycle))
		}
	}

	req := &domain.CheckoutSessionRequest{
		UserID:     in.UserID,
		Email:      in.Email,
		SuccessURL: in.URLs.Success,
		CancelURL:  in.URLs.Cancel,
		NotifyURL:  in.URLs.Notify,
		LineItems:  []domain.CheckoutLineItem{{Price: priceID, Quantity: 1}},
		Metadata: map[string]string{
			"planId":       in.PlanID,
			"billingCycle": string(in.BillingCycle),
		},
	}
	if err := p.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	return req, nil
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return domain.ErrFieldValidation(fe.Field(), fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()))
	}
	return domain.ErrValidation(err.Error())
}
