package babble

import (
	"fmt"
	"time"
)

// BirthDateLayout is the date format used for date_of_birth.
const BirthDateLayout = "2006-01-02"

// Age is a calendar age split into whole years, months and days.
type Age struct {
	Years  int `json:"years"`
	Months int `json:"months"`
	Days   int `json:"days"`
}

// TotalMonths is the age in whole months.
func (a Age) TotalMonths() int {
	return a.Years*12 + a.Months
}

// String renders the age the way the child cards show it.
func (a Age) String() string {
	switch {
	case a.Years == 0 && a.Months == 0:
		return plural(a.Days, "day")
	case a.Years < 2:
		return plural(a.TotalMonths(), "month")
	case a.Months == 0:
		return plural(a.Years, "year")
	default:
		return plural(a.Years, "year") + " " + plural(a.Months, "month")
	}
}

// ChildAge computes the age at now of a child born on birthDate (YYYY-MM-DD).
func ChildAge(birthDate string, now time.Time) (Age, error) {
	born, err := time.Parse(BirthDateLayout, birthDate)
	if err != nil {
		return Age{}, fmt.Errorf("invalid birth date %q: %w", birthDate, err)
	}
	// civil dates in UTC so DST never shifts the day count
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if born.After(today) {
		return Age{}, fmt.Errorf("birth date %s is in the future", birthDate)
	}

	// a month is complete on its clamped anchor day, so Jan 31 turns
	// one month old on Feb 28
	months := (today.Year()-born.Year())*12 + int(today.Month()) - int(born.Month())
	anchor := addMonthsClamped(born, months)
	if anchor.After(today) {
		months--
		anchor = addMonthsClamped(born, months)
	}

	days := int(today.Sub(anchor).Hours() / 24)

	return Age{Years: months / 12, Months: months % 12, Days: days}, nil
}

// addMonthsClamped adds n months keeping the day within the target month,
// so Jan 31 + 1 month is Feb 28 (or 29) rather than early March.
func addMonthsClamped(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
