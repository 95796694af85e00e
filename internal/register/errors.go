package register

import "errors"

// Validation errors are returned before any store call.
var (
	ErrStoreRequired          = errors.New("store id is required")
	ErrInvalidEntry           = errors.New("invalid entry")
	ErrWeekFull               = errors.New("week already has 7 daily entries")
	ErrDateOutsideWeek        = errors.New("entry date is outside the register week")
	ErrDuplicateEntryDate     = errors.New("an entry for this date already exists")
	ErrOpeningBalanceRequired = errors.New("opening balance is required for this week")
	ErrNegativeOpeningBalance = errors.New("opening balance must not be negative")
)

// Session state errors.
var (
	ErrRecordNotFound     = errors.New("draft record not found")
	ErrNothingToSave      = errors.New("nothing to save")
	ErrRecordBusy         = errors.New("record is being saved")
	ErrFinalizeInProgress = errors.New("week finalize already in progress")
	ErrFinalizeIncomplete = errors.New("week finalize incomplete")
	ErrPrintFailed        = errors.New("week saved but printing failed")
)

// IsValidation reports whether err was rejected by input validation.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrStoreRequired,
		ErrInvalidEntry,
		ErrWeekFull,
		ErrDateOutsideWeek,
		ErrDuplicateEntryDate,
		ErrOpeningBalanceRequired,
		ErrNegativeOpeningBalance,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
