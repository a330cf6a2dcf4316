// Package seed holds the demo catalogue loaded by seed-db and by the API in
// memory storage mode.
package seed

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/domain/product"
)

// Data is a consistent set of merchants, their menus and some coupons.
type Data struct {
	Merchants []merchant.Merchant
	Products  []product.Product
	Coupons   []coupon.Coupon
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

// Demo returns the demo data. Coupons are valid for 90 days from now.
func Demo(now time.Time) Data {
	now = now.UTC()
	until := now.AddDate(0, 0, 90)

	merchants := []merchant.Merchant{
		{ID: "m-burger-barn", Name: "Burger Barn", CommissionRate: dec("0.15"), Active: true},
		{ID: "m-pasta-place", Name: "Pasta Place", CommissionRate: dec("0.12"), Active: true},
		{ID: "m-closed-cafe", Name: "Closed Cafe", CommissionRate: dec("0.10"), Active: false},
	}

	products := []product.Product{
		{ID: "p-classic-burger", MerchantID: "m-burger-barn", Name: "Classic Burger", Price: dec("9.50"), Available: true},
		{ID: "p-cheese-burger", MerchantID: "m-burger-barn", Name: "Cheese Burger", Price: dec("10.50"), Available: true},
		{ID: "p-fries", MerchantID: "m-burger-barn", Name: "Fries", Price: dec("3.25"), Available: true},
		{ID: "p-milkshake", MerchantID: "m-burger-barn", Name: "Milkshake", Price: dec("4.75"), Available: false},
		{ID: "p-carbonara", MerchantID: "m-pasta-place", Name: "Carbonara", Price: dec("13.90"), Available: true},
		{ID: "p-lasagne", MerchantID: "m-pasta-place", Name: "Lasagne", Price: dec("14.50"), Available: true},
		{ID: "p-tiramisu", MerchantID: "m-pasta-place", Name: "Tiramisu", Price: dec("6.00"), Available: true},
		{ID: "p-espresso", MerchantID: "m-closed-cafe", Name: "Espresso", Price: dec("2.20"), Available: true},
	}

	mk := func(code, merchantID string, typ coupon.DiscountType, value, minOrder string, maxUses, perUser int) coupon.Coupon {
		return coupon.Coupon{
			ID:                 "c-" + code,
			Code:               code,
			MerchantID:         merchantID,
			DiscountType:       typ,
			DiscountValue:      dec(value),
			MinOrderAmount:     dec(minOrder),
			MaxUses:            maxUses,
			MaxUsesPerUser:     perUser,
			ValidFrom:          now,
			ValidUntil:         until,
			IsActive:           true,
			TotalDiscountGiven: decimal.Zero,
			CreatedAt:          now,
		}
	}
	welcome := mk("WELCOME10", "", coupon.DiscountPercentage, "10", "15.00", 0, 1)
	welcome.MaxDiscountAmount = decimal.NewNullDecimal(dec("5.00"))

	coupons := []coupon.Coupon{
		welcome,
		mk("BURGER5", "m-burger-barn", coupon.DiscountFixedAmount, "5.00", "20.00", 500, 3),
		mk("FREEDEL", "", coupon.DiscountFreeDelivery, "0", "25.00", 1000, 0),
		mk("PASTA20", "m-pasta-place", coupon.DiscountPercentage, "20", "30.00", 100, 1),
	}

	return Data{Merchants: merchants, Products: products, Coupons: coupons}
}
