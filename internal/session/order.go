package session

import (
	"github.com/tidwall/gjson"
)

// OrderItem is a single line on a bill.
type OrderItem struct {
	Name           string  `json:"name"`
	Quantity       int     `json:"quantity"`
	Price          float64 `json:"price"`
	Customizations string  `json:"customizations,omitempty"`
}

// Bill is the legacy single-restaurant bill.
type Bill struct {
	RestaurantName string      `json:"restaurant_name"`
	Items          []OrderItem `json:"items"`
	TotalAmount    float64     `json:"total_amount"`
}

// RestaurantOrder is one restaurant's part of a multi-restaurant order.
type RestaurantOrder struct {
	RestaurantName string      `json:"restaurant_name"`
	Items          []OrderItem `json:"items"`
	SubTotal       float64     `json:"sub_total"`
}

// OrderConfirmation is what the backend reports once an order is placed. It
// arrives as a plain message, a legacy flat bill, or a multi-restaurant order.
type OrderConfirmation struct {
	Message    string            `json:"message,omitempty"`
	Bill       *Bill             `json:"bill,omitempty"`
	Orders     []RestaurantOrder `json:"orders,omitempty"`
	GrandTotal float64           `json:"grand_total,omitempty"`
}

// Total returns the amount charged across all restaurants.
func (c OrderConfirmation) Total() float64 {
	if len(c.Orders) > 0 {
		return c.GrandTotal
	}
	if c.Bill != nil {
		return c.Bill.TotalAmount
	}
	return 0
}

// OrderConfirmationFor returns the session's order confirmation, or nil when
// the order has not been confirmed.
func OrderConfirmationFor(s Session) *OrderConfirmation {
	r := s.get("state.order_confirmation_message")
	switch {
	case r.Type == gjson.String:
		if r.Str == "" {
			return nil
		}
		return &OrderConfirmation{Message: r.Str}
	case r.IsObject():
		return parseConfirmation(r)
	}
	return nil
}

// OrderConfirmationMessage returns the confirmation text, or "" when absent.
func OrderConfirmationMessage(s Session) string {
	if c := OrderConfirmationFor(s); c != nil {
		return c.Message
	}
	return ""
}

// OrderBill returns the legacy single-restaurant bill, or nil when the
// session carries none.
func OrderBill(s Session) *Bill {
	if c := OrderConfirmationFor(s); c != nil {
		return c.Bill
	}
	return nil
}

func parseConfirmation(r gjson.Result) *OrderConfirmation {
	c := &OrderConfirmation{Message: r.Get("message").String()}

	switch {
	case r.Get("orders").IsArray():
		for _, o := range r.Get("orders").Array() {
			c.Orders = append(c.Orders, RestaurantOrder{
				RestaurantName: o.Get("restaurant_name").String(),
				Items:          parseItems(o.Get("items")),
				SubTotal:       o.Get("sub_total").Float(),
			})
		}
		c.GrandTotal = r.Get("grand_total").Float()
	case r.Get("bill").IsObject():
		c.Bill = parseBill(r.Get("bill"))
	case r.Get("items").IsArray():
		c.Bill = parseBill(r)
	}
	return c
}

func parseBill(r gjson.Result) *Bill {
	return &Bill{
		RestaurantName: r.Get("restaurant_name").String(),
		Items:          parseItems(r.Get("items")),
		TotalAmount:    r.Get("total_amount").Float(),
	}
}

func parseItems(r gjson.Result) []OrderItem {
	if !r.IsArray() {
		return []OrderItem{}
	}
	items := r.Array()
	out := make([]OrderItem, 0, len(items))
	for _, it := range items {
		qty := 1
		if q := it.Get("quantity"); q.Exists() {
			qty = int(q.Int())
		}
		out = append(out, OrderItem{
			Name:           firstString(it, "name", "menu_item_name"),
			Quantity:       qty,
			Price:          it.Get("price").Float(),
			Customizations: it.Get("customizations").String(),
		})
	}
	return out
}
