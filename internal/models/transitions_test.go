package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderTerminalStates(t *testing.T) {
	for _, terminal := range []string{OrderStatusPaid, OrderStatusExpired, OrderStatusCancelled} {
		for _, to := range []string{OrderStatusPending, OrderStatusPaid, OrderStatusExpired, OrderStatusCancelled} {
			assert.False(t, CanTransitionOrder(terminal, to), "%s -> %s", terminal, to)
		}
	}
	assert.True(t, CanTransitionOrder(OrderStatusPending, OrderStatusExpired))
}

func TestRegistrationDisputeCycle(t *testing.T) {
	assert.True(t, CanTransitionRegistration(RegistrationStatusConfirmed, RegistrationStatusInDispute))
	assert.True(t, CanTransitionRegistration(RegistrationStatusInDispute, RegistrationStatusConfirmed))
	assert.True(t, CanTransitionRegistration(RegistrationStatusInDispute, RegistrationStatusCancelledByChargeback))
	assert.False(t, CanTransitionRegistration(RegistrationStatusPending, RegistrationStatusInDispute))
	assert.False(t, CanTransitionRegistration(RegistrationStatusAttended, RegistrationStatusInDispute))
	assert.False(t, CanTransitionRegistration(RegistrationStatusAttended, RegistrationStatusConfirmed))
	assert.True(t, CanTransitionRegistration(RegistrationStatusAttended, RegistrationStatusCancelledByChargeback))
	assert.False(t, CanTransitionRegistration(RegistrationStatusCancelled, RegistrationStatusConfirmed))
}

// Outside the dispute path, no status is reachable from its own successors.
func TestRegistrationGraphAcyclicOutsideDispute(t *testing.T) {
	var visit func(from string, seen map[string]bool) bool
	visit = func(from string, seen map[string]bool) bool {
		if seen[from] {
			return false
		}
		seen[from] = true
		for _, next := range registrationTransitions[from] {
			if from == RegistrationStatusInDispute && next == RegistrationStatusConfirmed {
				continue
			}
			if !visit(next, seen) {
				return false
			}
		}
		delete(seen, from)
		return true
	}

	for status := range registrationTransitions {
		assert.True(t, visit(status, map[string]bool{}), "cycle reachable from %s", status)
	}
}

func TestIsTerminalRegistration(t *testing.T) {
	assert.True(t, IsTerminalRegistration(RegistrationStatusExpired))
	assert.True(t, IsTerminalRegistration(RegistrationStatusCancelledByChargeback))
	assert.False(t, IsTerminalRegistration(RegistrationStatusInDispute))
	assert.False(t, IsTerminalRegistration("UNKNOWN"))
}

func TestPaymentAndRefundTransitions(t *testing.T) {
	assert.True(t, CanTransitionPayment(PaymentStatusRejected, PaymentStatusWaitingApproval))
	assert.False(t, CanTransitionPayment(PaymentStatusCompleted, PaymentStatusWaitingApproval))
	assert.True(t, CanTransitionRefund(RefundStatusApproved, RefundStatusProcessing))
	assert.False(t, CanTransitionRefund(RefundStatusRequested, RefundStatusCompleted))
}
