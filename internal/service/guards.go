package service

import (
	"crypto/subtle"
	"time"

	"delivery/internal/domain"
)

// deliveryGuard is one precondition of a transition. It returns a sentinel
// error when the precondition does not hold.
type deliveryGuard func(d *domain.Delivery, c domain.Caller) error

// checkDelivery runs guards in order and tags the first failure with op.
func checkDelivery(op string, d *domain.Delivery, c domain.Caller, guards ...deliveryGuard) error {
	for _, g := range guards {
		if err := g(d, c); err != nil {
			return &Error{Kind: KindOf(err), Op: op}
		}
	}
	return nil
}

func ownedByCaller(d *domain.Delivery, c domain.Caller) error {
	if d.ClientID != c.UserID {
		return ErrForbiddenAccess
	}
	return nil
}

func assignedToCaller(d *domain.Delivery, c domain.Caller) error {
	if d.DriverID == "" || d.DriverID != c.UserID {
		return ErrForbiddenAccess
	}
	return nil
}

func participantOrOperator(d *domain.Delivery, c domain.Caller) error {
	if c.IsOperator() || d.IsParticipant(c.UserID) {
		return nil
	}
	return ErrForbiddenAccess
}

func statusIn(statuses ...domain.DeliveryStatus) deliveryGuard {
	return func(d *domain.Delivery, _ domain.Caller) error {
		for _, s := range statuses {
			if d.Status == s {
				return nil
			}
		}
		return ErrCannotPerformAction
	}
}

// notCancelled reports cancellation ahead of generic state errors.
func notCancelled(d *domain.Delivery, _ domain.Caller) error {
	if d.Status == domain.DeliveryStatusCancelled {
		return ErrAlreadyCancelled
	}
	return nil
}

// acceptable requires an initial delivery with no driver.
func acceptable(d *domain.Delivery, _ domain.Caller) error {
	switch {
	case d.Status == domain.DeliveryStatusCancelled:
		return ErrAlreadyCancelled
	case d.Status != domain.DeliveryStatusInitial || d.DriverID != "":
		return ErrAlreadyAssigned
	}
	return nil
}

// notExpired rejects an offer older than ttl at now.
func notExpired(ttl time.Duration, now time.Time) deliveryGuard {
	return func(d *domain.Delivery, _ domain.Caller) error {
		if ttl > 0 && now.After(d.ExpiresAt(ttl)) {
			return ErrDeliveryTimeout
		}
		return nil
	}
}

// cancellable allows cancellation up to the deposit confirmation.
func cancellable(d *domain.Delivery, _ domain.Caller) error {
	switch d.Status {
	case domain.DeliveryStatusCancelled:
		return ErrAlreadyCancelled
	case domain.DeliveryStatusInitial, domain.DeliveryStatusPendingReception, domain.DeliveryStatusToBeConfirmed:
		return nil
	}
	return ErrCannotPerformAction
}

// noOpenConflict blocks a normal termination while a conflict is linked to a
// live delivery; only the conflict assignee can finish it then.
func noOpenConflict(d *domain.Delivery, _ domain.Caller) error {
	if d.ConflictID != "" && !d.Status.IsFinal() {
		return ErrCannotPerformAction
	}
	return nil
}

// reportable requires an ongoing delivery without an open conflict.
func reportable(d *domain.Delivery, _ domain.Caller) error {
	switch {
	case d.Status.IsFinal():
		return ErrCannotPerformAction
	case d.ConflictID != "" || d.Status == domain.DeliveryStatusInConflict:
		return ErrAlreadyReported
	case !d.Status.IsOngoing():
		return ErrCannotPerformAction
	}
	return nil
}

// codeMatches compares the handoff code exactly, in constant time.
func codeMatches(code string) deliveryGuard {
	return func(d *domain.Delivery, _ domain.Caller) error {
		if d.Code == "" || subtle.ConstantTimeCompare([]byte(d.Code), []byte(code)) != 1 {
			return ErrInvalidCode
		}
		return nil
	}
}
