package register

import (
	"fmt"
	"time"

	"backoffice/backend/internal/domain"
)

const DateLayout = "2006-01-02"

// WeekOf returns the Monday to Sunday week containing t, computed in UTC.
func WeekOf(t time.Time) domain.WeekBounds {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	return domain.WeekBounds{
		Start: start.Format(DateLayout),
		End:   start.AddDate(0, 0, 6).Format(DateLayout),
	}
}

// WeekOfDate is WeekOf for a 2006-01-02 date string.
func WeekOfDate(date string) (domain.WeekBounds, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return domain.WeekBounds{}, fmt.Errorf("%w: date %q must use YYYY-MM-DD", ErrInvalidEntry, date)
	}
	return WeekOf(t), nil
}

// InWeek reports whether date falls inside b. The fixed layout makes string
// comparison equivalent to date comparison.
func InWeek(b domain.WeekBounds, date string) bool {
	return date >= b.Start && date <= b.End
}

// ValidBounds reports whether b is a canonical Monday to Sunday week.
func ValidBounds(b domain.WeekBounds) bool {
	start, err := time.Parse(DateLayout, b.Start)
	if err != nil {
		return false
	}
	return WeekOf(start) == b
}

// Follows reports whether next starts the day after prev ends.
func Follows(prev domain.WeekBounds, next domain.WeekBounds) bool {
	end, err := time.Parse(DateLayout, prev.End)
	if err != nil {
		return false
	}
	return end.AddDate(0, 0, 1).Format(DateLayout) == next.Start
}
