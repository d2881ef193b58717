package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Clock is a wall-clock time in minutes since midnight.
type Clock int

// ClockMax is midnight at the end of the day, valid only as an end bound.
const ClockMax Clock = 24 * 60

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// ParseClock reads the canonical "HH:MM" form.
func ParseClock(s string) (Clock, error) {
	var h, m int
	if n, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil || n != 2 {
		return 0, fmt.Errorf("parse clock %q: expected HH:MM", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("parse clock %q: out of range", s)
	}
	return NewClock(h, m), nil
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("clock must be a string: %w", err)
	}
	v, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c Clock) Value() (driver.Value, error) {
	return c.String(), nil
}

func (c *Clock) Scan(src any) error {
	switch v := src.(type) {
	case string:
		p, err := ParseClock(v)
		if err != nil {
			return err
		}
		*c = p
	case []byte:
		return c.Scan(string(v))
	case int64:
		*c = Clock(v)
	default:
		return fmt.Errorf("scan clock: unsupported type %T", src)
	}
	return nil
}
