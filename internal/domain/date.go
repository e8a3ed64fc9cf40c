package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

const (
	isoDateLayout = "2006-01-02"
	dmyDateLayout = "02-01-2006"
)

// Date is a calendar date without a time zone. It is always written as
// ISO "YYYY-MM-DD"; parsing also accepts "DD-MM-YYYY" and RFC 3339
// timestamps because sheets edited by hand or by older scripts contain both.
type Date struct {
	civil.Date
}

// NewDate builds a Date from its parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{civil.Date{Year: year, Month: month, Day: day}}
}

// Today returns the local calendar date of now.
func Today(now time.Time) Date {
	return Date{civil.DateOf(now)}
}

// ParseDate parses s in any of the accepted date formats.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}

	if t, err := time.Parse(isoDateLayout, s); err == nil {
		return Date{civil.DateOf(t)}, nil
	}
	if t, err := time.Parse(dmyDateLayout, s); err == nil {
		return Date{civil.DateOf(t)}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Date{civil.DateOf(t.UTC())}, nil
	}

	return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or DD-MM-YYYY", s)
}

// IsZero reports whether d is unset.
func (d Date) IsZero() bool {
	return d.Date == civil.Date{}
}

// Before reports whether d is before other.
func (d Date) Before(other Date) bool {
	return d.Date.Before(other.Date)
}

// String returns the ISO form, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Date.String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(data []byte) error {
	parsed, err := ParseDate(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
