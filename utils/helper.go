package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

var CountryCode = "MM"

func ValidatePhoneNumber(phoneNumber string, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err
	}
	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}
	return nil
}

// MoneyRound fixes monetary values to the 2-decimal scale every persisted
// amount carries.
func MoneyRound(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ConvertToDate truncates any timestamp to its calendar-date component.
func ConvertToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// CombineDateWithClock keeps the calendar date of d and takes the
// time-of-day from clock. Used when a payment record carries only a date
// and a full realization timestamp is needed.
func CombineDateWithClock(d time.Time, clock time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), clock.Location())
}

var flexibleTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
	"02/01/2006",
}

// ParseFlexibleTime accepts the timestamp spellings found in legacy meta
// fields. Returns a zero time and false when nothing matches.
func ParseFlexibleTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range flexibleTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// Unix seconds also show up in older records.
	if IsNumeric(s) {
		if secs, _ := strconv.ParseInt(s, 10, 64); secs > 0 {
			return time.Unix(secs, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseFlexibleDecimal accepts the numeric spellings found in legacy meta
// fields: "10", "10.50", "1,250.00".
func ParseFlexibleDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// IsNumeric reports whether s is a plain base-10 integer.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
