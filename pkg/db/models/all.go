package models

// All lists every persisted model, parents before children.
func All() []any {
	return []any{
		&CartItem{},
		&ShippingRule{},
		&ShippingSelection{},
		&PaymentSelection{},
		&DeliveryAddress{},
		&PromoCode{},
		&PromoSelection{},
		&Order{},
		&SellerOrder{},
		&OrderItem{},
		&OrderShippingSelection{},
		&CommissionCorrection{},
		&EscrowEntry{},
		&PayoutSchedule{},
		&PayoutScheduleItem{},
		&CommissionInvoice{},
		&CommissionInvoiceLine{},
		&ReturnRequest{},
		&ReturnRequestItem{},
		&ReturnRequestMessage{},
		&OutboxEvent{},
		&OutboxDeadLetter{},
	}
}
