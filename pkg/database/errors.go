package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/medstock/medstock-backend/pkg/errors"
)

// PostgreSQL error codes that indicate transient lock or serialization
// conflicts between concurrent transactions.
const (
	pqLockNotAvailable     = "55P03"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// IsContention reports whether the error is a transient lock or serialization
// conflict that a caller may retry.
func IsContention(err error) bool {
	pqErr, ok := asPQError(err)
	if !ok {
		return false
	}
	switch string(pqErr.Code) {
	case pqLockNotAvailable, pqSerializationFailure, pqDeadlockDetected:
		return true
	}
	return false
}

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := asPQError(err)
	if !ok {
		return nil
	}

	switch string(pqErr.Code) {
	case pqLockNotAvailable, pqSerializationFailure, pqDeadlockDetected:
		return errors.Contention("stock rows are locked by a concurrent operation")

	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

func asPQError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil, false
	}
	return pqErr, true
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_on_hand_non_negative"):
		// The database-level backstop against oversell. Allocation plans never
		// exceed on-hand, so hitting this means a concurrent writer won the row.
		return errors.Contention("batch quantity would go negative")

	case strings.Contains(constraint, "reserved_within_on_hand"):
		return errors.Conflict("reservation exceeds quantity on hand")

	case strings.Contains(constraint, "kind_valid"):
		return errors.Validation(map[string]string{
			"kind": "must be one of: stock_in, dispense_outpatient, dispense_ward, transfer, return, adjustment",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "batch_number"):
		return "a batch with this batch number already exists for the item"
	case strings.Contains(constraint, "items_code"):
		return "an item with this code already exists"
	default:
		return "a record with these values already exists"
	}
}
