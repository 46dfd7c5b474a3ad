package models

var orderTransitions = map[string][]string{
	OrderStatusPending:   {OrderStatusPaid, OrderStatusExpired, OrderStatusCancelled},
	OrderStatusPaid:      {},
	OrderStatusExpired:   {},
	OrderStatusCancelled: {},
}

// Only the disputed-payment path may revisit a status: CONFIRMED -> IN_DISPUTE -> CONFIRMED.
var registrationTransitions = map[string][]string{
	RegistrationStatusPending:               {RegistrationStatusConfirmed, RegistrationStatusCancelled, RegistrationStatusExpired},
	RegistrationStatusConfirmed:             {RegistrationStatusAttended, RegistrationStatusCancelled, RegistrationStatusInDispute},
	RegistrationStatusAttended:              {RegistrationStatusCancelledByChargeback},
	RegistrationStatusInDispute:             {RegistrationStatusConfirmed, RegistrationStatusCancelledByChargeback},
	RegistrationStatusCancelled:             {},
	RegistrationStatusExpired:               {},
	RegistrationStatusCancelledByChargeback: {},
}

var paymentTransitions = map[string][]string{
	PaymentStatusPending:            {PaymentStatusWaitingApproval, PaymentStatusCompleted},
	PaymentStatusWaitingApproval:    {PaymentStatusCompleted, PaymentStatusRejected},
	PaymentStatusRejected:           {PaymentStatusWaitingApproval},
	PaymentStatusCompleted:          {PaymentStatusRefunded, PaymentStatusChargeback, PaymentStatusChargebackReversed},
	PaymentStatusRefunded:           {},
	PaymentStatusChargeback:         {},
	PaymentStatusChargebackReversed: {},
}

var refundTransitions = map[string][]string{
	RefundStatusRequested:  {RefundStatusApproved, RefundStatusRejected},
	RefundStatusApproved:   {RefundStatusProcessing},
	RefundStatusProcessing: {RefundStatusCompleted},
	RefundStatusCompleted:  {},
	RefundStatusRejected:   {},
}

func CanTransitionOrder(from, to string) bool { return allowed(orderTransitions, from, to) }
func CanTransitionRegistration(from, to string) bool {
	return allowed(registrationTransitions, from, to)
}
func CanTransitionPayment(from, to string) bool { return allowed(paymentTransitions, from, to) }
func CanTransitionRefund(from, to string) bool  { return allowed(refundTransitions, from, to) }

// IsTerminalRegistration reports whether status no longer holds a seat.
func IsTerminalRegistration(status string) bool {
	next, ok := registrationTransitions[status]
	return ok && len(next) == 0
}

func allowed(table map[string][]string, from, to string) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}
