package register

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"backoffice/backend/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// NullDecimal validates as its string form, or as nil when absent.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if n, ok := field.Interface().(decimal.NullDecimal); ok && n.Valid {
			return n.Decimal.String()
		}
		return nil
	}, decimal.NullDecimal{})
	_ = v.RegisterValidation("decimal_nonneg", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && !d.IsNegative()
	})
	_ = v.RegisterValidation("cents", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && HasCents(d)
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "decimal_nonneg":
			msgs = append(msgs, fe.Field()+" must be a non-negative amount")
		case "cents":
			msgs = append(msgs, fmt.Sprintf("%s must have at most %d decimal places", fe.Field(), AmountScale))
		case "datetime":
			msgs = append(msgs, fe.Field()+" must use YYYY-MM-DD")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidEntry, strings.Join(msgs, "; "))
}

// NewEntry validates in against the week bounds and returns the entry it
// describes, with cash computed.
func NewEntry(weekID string, bounds domain.WeekBounds, in domain.EntryInput) (domain.DailyEntry, error) {
	in.EntryDate = strings.TrimSpace(in.EntryDate)
	if err := validate.Struct(in); err != nil {
		return domain.DailyEntry{}, validationError(err)
	}
	if !InWeek(bounds, in.EntryDate) {
		return domain.DailyEntry{}, fmt.Errorf("%w: %s is not between %s and %s", ErrDateOutsideWeek, in.EntryDate, bounds.Start, bounds.End)
	}
	entry := domain.DailyEntry{
		WeekID:    weekID,
		EntryDate: in.EntryDate,
		Business:  orZero(in.Business),
		Payout:    orZero(in.Payout),
		Card:      orZero(in.Card),
		OverShort: orZero(in.OverShort),
	}
	entry.Cash = EntryCash(entry)
	return entry, nil
}

// NewAdjustment validates in and returns the record it describes.
func NewAdjustment(weekID string, in domain.AdjustmentInput) (domain.AdjustmentRecord, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return domain.AdjustmentRecord{}, validationError(err)
	}
	return domain.AdjustmentRecord{
		WeekID: weekID,
		Kind:   in.Kind,
		Name:   in.Name,
		Amount: orZero(in.Amount),
	}, nil
}

// ValidateOpeningBalance rejects an absent, negative or sub-cent opening
// balance.
func ValidateOpeningBalance(opening decimal.NullDecimal) (decimal.Decimal, error) {
	if !opening.Valid {
		return decimal.Zero, ErrOpeningBalanceRequired
	}
	if opening.Decimal.IsNegative() {
		return decimal.Zero, ErrNegativeOpeningBalance
	}
	if !HasCents(opening.Decimal) {
		return decimal.Zero, fmt.Errorf("%w: opening_balance must have at most %d decimal places", ErrInvalidEntry, AmountScale)
	}
	return opening.Decimal, nil
}
