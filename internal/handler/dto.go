package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/sales-core/internal/domain/coupon"
	"github.com/xenking/sales-core/internal/domain/order"
)

type lineRequest struct {
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity" binding:"required,min=1,max=2147483647"`
}

func (l lineRequest) line() order.Line {
	return order.Line{ProductID: l.ProductID, VariantID: l.VariantID, Quantity: l.Quantity}
}

type customerRequest struct {
	Name            string `json:"name" binding:"required"`
	Email           string `json:"email" binding:"omitempty,email"`
	Phone           string `json:"phone"`
	ShippingAddress string `json:"shipping_address"`
}

type placeOrderRequest struct {
	Customer      customerRequest `json:"customer" binding:"required"`
	PaymentMethod string          `json:"payment_method" binding:"required,oneof=online cod"`
	CouponCode    string          `json:"coupon_code"`
	Notes         string          `json:"notes"`
	Items         []lineRequest   `json:"items" binding:"required,min=1,dive"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1,max=2147483647"`
}

type setStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

type validateCouponRequest struct {
	Code     string          `json:"code" binding:"required"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type itemResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	VariantID int64  `json:"variant_id"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type statusUpdateResponse struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	Automatic bool      `json:"automatic"`
	CreatedAt time.Time `json:"created_at"`
}

type customerResponse struct {
	Name            string `json:"name"`
	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone,omitempty"`
	ShippingAddress string `json:"shipping_address,omitempty"`
}

type orderResponse struct {
	ID            int64                  `json:"id"`
	Status        string                 `json:"status"`
	PaymentMethod string                 `json:"payment_method"`
	PaymentStatus string                 `json:"payment_status"`
	PaidAt        *time.Time             `json:"paid_at,omitempty"`
	Customer      customerResponse       `json:"customer"`
	CouponCode    string                 `json:"coupon_code,omitempty"`
	Discount      string                 `json:"discount"`
	Total         string                 `json:"total"`
	Notes         string                 `json:"notes,omitempty"`
	Items         []itemResponse         `json:"items"`
	History       []statusUpdateResponse `json:"history,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

type couponQuoteResponse struct {
	Code       string `json:"code"`
	Kind       string `json:"kind"`
	Value      string `json:"value"`
	Subtotal   string `json:"subtotal"`
	Discount   string `json:"discount"`
	FinalTotal string `json:"final_total"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toItem(it order.Item) itemResponse {
	return itemResponse{
		ID:        it.ID,
		ProductID: it.ProductID,
		VariantID: it.VariantID,
		SKU:       it.SKU,
		Quantity:  it.Quantity,
		UnitPrice: money(it.UnitPrice()),
		Subtotal:  money(it.Subtotal()),
	}
}

func toStatusUpdate(u order.StatusUpdate) statusUpdateResponse {
	return statusUpdateResponse{
		ID:        u.ID,
		Status:    string(u.Status),
		Note:      u.Note,
		Automatic: u.Automatic,
		CreatedAt: u.CreatedAt,
	}
}

func toOrder(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		Status:        string(o.Status),
		PaymentMethod: string(o.PaymentMethod),
		PaymentStatus: string(o.PaymentStatus),
		PaidAt:        o.PaidAt,
		Customer: customerResponse{
			Name:            o.Customer.Name,
			Email:           o.Customer.Email,
			Phone:           o.Customer.Phone,
			ShippingAddress: o.Customer.ShippingAddress,
		},
		CouponCode: o.CouponCode,
		Discount:   money(o.Discount),
		Total:      money(o.Total),
		Notes:      o.Notes,
		Items:      make([]itemResponse, len(o.Items)),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	for i, it := range o.Items {
		resp.Items[i] = toItem(it)
	}
	for _, u := range o.History {
		resp.History = append(resp.History, toStatusUpdate(u))
	}
	return resp
}

func toQuote(q *coupon.Quote) couponQuoteResponse {
	return couponQuoteResponse{
		Code:       q.Coupon.Code,
		Kind:       string(q.Coupon.Kind),
		Value:      q.Coupon.Value.String(),
		Subtotal:   money(q.Subtotal),
		Discount:   money(q.Discount),
		FinalTotal: money(q.FinalTotal),
	}
}
