package rest

import (
	"context"
	"errors"
	"net/http"

	"umrah_portal/server/common/jsonx"
	commonlog "umrah_portal/server/common/log"
)

type CouponRequest struct {
	Code      string  `json:"code" validate:"required,max=64"`
	PackageID string  `json:"package_id" validate:"required"`
	Amount    float64 `json:"amount" validate:"gte=0"`
}

type CouponResult struct {
	Valid          bool    `json:"valid"`
	DiscountAmount float64 `json:"discount_amount"`
	FinalAmount    float64 `json:"final_amount"`
	Message        string  `json:"message,omitempty"`
}

type PilgrimDetails struct {
	FullName       string `json:"full_name" validate:"required"`
	PassportNumber string `json:"passport_number" validate:"required"`
	Nationality    string `json:"nationality" validate:"required"`
	Phone          string `json:"phone,omitempty"`
}

type CreateBookingRequest struct {
	PackageID  string           `json:"package_id" validate:"required"`
	Pilgrims   []PilgrimDetails `json:"pilgrims" validate:"required,min=1,dive"`
	Notes      string           `json:"notes,omitempty" validate:"max=2000"`
	CouponCode string           `json:"coupon_code,omitempty"`
}

type Booking struct {
	ID          jsonx.ID `json:"id"`
	Status      string   `json:"status"`
	TotalAmount float64  `json:"total_amount"`
	Currency    string   `json:"currency"`
}

type GeideaInitiateRequest struct {
	BookingID string  `json:"booking_id" validate:"required"`
	Amount    float64 `json:"amount" validate:"gt=0"`
	Currency  string  `json:"currency" validate:"required,len=3"`
	ReturnURL string  `json:"return_url,omitempty" validate:"omitempty,url"`
}

type GeideaSession struct {
	SessionID  string `json:"session_id"`
	PaymentURL string `json:"payment_url"`
	OrderID    string `json:"order_id"`
}

type GeideaStatus struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Paid    bool   `json:"paid"`
}

// PaymentClient returns errors instead of envelopes: a failed payment step
// must stop the flow. A 401 is reported as ErrLoginRequired.
type PaymentClient struct {
	*Client
}

func NewPaymentClient(c *Client) *PaymentClient {
	return &PaymentClient{Client: c}
}

func (c *PaymentClient) ValidateCoupon(ctx context.Context, token string, in CouponRequest) (CouponResult, error) {
	return strict[CouponResult](ctx, c.Client, "validate_coupon", jsonCall(http.MethodPost, "/coupons/validate", token, in))
}

func (c *PaymentClient) ApplyCoupon(ctx context.Context, token string, in CouponRequest) (CouponResult, error) {
	return strict[CouponResult](ctx, c.Client, "apply_coupon", jsonCall(http.MethodPost, "/coupons/apply", token, in))
}

func (c *PaymentClient) CreateBooking(ctx context.Context, token string, in CreateBookingRequest) (Booking, error) {
	return strict[Booking](ctx, c.Client, "create_booking", jsonCall(http.MethodPost, "/bookings", token, in))
}

func (c *PaymentClient) InitiateGeidea(ctx context.Context, token string, in GeideaInitiateRequest) (GeideaSession, error) {
	session, err := strict[GeideaSession](ctx, c.Client, "geidea_initiate", jsonCall(http.MethodPost, "/payments/geidea/initiate", token, in))
	if err != nil {
		return GeideaSession{}, err
	}
	if session.PaymentURL == "" && session.SessionID == "" {
		return GeideaSession{}, &APIError{Message: c.message(msgPaymentFailed), Err: ErrPaymentFailed}
	}
	return session, nil
}

func (c *PaymentClient) CheckGeideaStatus(ctx context.Context, token, orderID string) (GeideaStatus, error) {
	if orderID == "" {
		return GeideaStatus{}, &APIError{Message: c.message(msgInvalidRequest), Err: ErrInvalidRequest}
	}
	req := call{method: http.MethodGet, path: "/payments/geidea/status/" + escape(orderID), token: token}
	return strict[GeideaStatus](ctx, c.Client, "geidea_status", req)
}

func strict[T any](ctx context.Context, c *Client, action string, req call) (T, error) {
	out, apiErr := do[T](ctx, c, req)
	if apiErr == nil {
		return out, nil
	}
	if !errors.Is(apiErr, ErrLoginRequired) && !errors.Is(apiErr, ErrInvalidRequest) {
		apiErr.Err = errors.Join(ErrPaymentFailed, apiErr.Err)
	}
	commonlog.Errorf("event=payment action=%s status=failed code=%d error=%v", action, apiErr.StatusCode, apiErr)
	return out, apiErr
}
