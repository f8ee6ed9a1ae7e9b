package service

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var (
	ErrTransient       = errors.New("transient storage conflict, retry the request")
	ErrMealNotFound    = errors.New("meal not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrFoodNotFound    = errors.New("food not found")
	ErrInvalidInput    = errors.New("invalid input")
)

// invalidError keeps the caller's message and matches ErrInvalidInput.
type invalidError struct{ msg string }

func (e invalidError) Error() string        { return e.msg }
func (e invalidError) Is(target error) bool { return target == ErrInvalidInput }

func invalidf(format string, args ...any) error {
	return invalidError{msg: fmt.Sprintf(format, args...)}
}

func validateNonNegativeInt(name string, value int) error {
	if value < 0 {
		return invalidf("%s must be >= 0", name)
	}
	return nil
}

func validateNonNegativeFloat(name string, value float64) error {
	if value < 0 || math.IsNaN(value) {
		return invalidf("%s must be >= 0", name)
	}
	return nil
}

func normalizeName(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

func requireUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", invalidf("user id is required")
	}
	return userID, nil
}

func DateKey(t time.Time) string {
	return t.Format(dateLayout)
}

func ParseDateKey(value string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(value), time.Local)
	if err != nil {
		return time.Time{}, invalidf("invalid date %q (expected YYYY-MM-DD)", value)
	}
	return t, nil
}

// daysBetween counts calendar days from a to b, ignoring time of day and DST shifts.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func addDays(dateKey string, days int) (string, error) {
	t, err := ParseDateKey(dateKey)
	if err != nil {
		return "", err
	}
	return DateKey(t.AddDate(0, 0, days)), nil
}
