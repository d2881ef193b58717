package models

import (
	"strings"
	"unicode"
)

type Day string

const (
	Monday    Day = "Monday"
	Tuesday   Day = "Tuesday"
	Wednesday Day = "Wednesday"
	Thursday  Day = "Thursday"
	Friday    Day = "Friday"
	Saturday  Day = "Saturday"
	Sunday    Day = "Sunday"
)

// Week lists the canonical days in calendar order.
var Week = []Day{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// SchoolWeek is the default projection domain.
var SchoolWeek = []Day{Monday, Tuesday, Wednesday, Thursday, Friday}

var dayAliases = map[string]Day{
	"m": Monday, "mo": Monday, "mon": Monday, "monday": Monday,
	"tu": Tuesday, "tue": Tuesday, "tues": Tuesday, "tuesday": Tuesday,
	"w": Wednesday, "we": Wednesday, "wed": Wednesday, "weds": Wednesday, "wednesday": Wednesday,
	"th": Thursday, "thu": Thursday, "thur": Thursday, "thurs": Thursday, "thursday": Thursday,
	"f": Friday, "fr": Friday, "fri": Friday, "friday": Friday,
	"sa": Saturday, "sat": Saturday, "saturday": Saturday,
	"su": Sunday, "sun": Sunday, "sunday": Sunday,
}

// ParseDay case-folds s and matches it against the day vocabulary. Surrounding
// punctuation is ignored so header text like "Mon." or "TUE:" still matches.
func ParseDay(s string) (Day, bool) {
	key := strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}))
	d, ok := dayAliases[key]
	return d, ok
}

// Canonical returns the canonical spelling of d, or "" when d is not a day.
func Canonical(d Day) Day {
	c, _ := ParseDay(string(d))
	return c
}

// Index returns the position of d in Week, or -1.
func (d Day) Index() int {
	c := Canonical(d)
	for i, w := range Week {
		if w == c {
			return i
		}
	}
	return -1
}
