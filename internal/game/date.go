// Package game holds the typed domain model for one normalized snapshot
// and the projection from the generic save tree into it.
package game

import (
	"fmt"
	"strconv"
	"strings"
)

// Date counts in-game days since 2200.01.01. The game calendar has twelve
// 30-day months, so a year is 360 days; that keeps date arithmetic exact
// and matches how the save files themselves count days.
type Date int

const (
	epochYear    = 2200
	daysPerMonth = 30
	daysPerYear  = 360
)

// ParseDate reads the save file's yyyy.mm.dd form.
func ParseDate(s string) (Date, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("bad date %q", s)
	}
	y, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	d, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, fmt.Errorf("bad date %q", s)
	}
	if m < 1 || m > 12 || d < 1 || d > daysPerMonth {
		return 0, fmt.Errorf("bad date %q", s)
	}
	return Date((y-epochYear)*daysPerYear + (m-1)*daysPerMonth + (d - 1)), nil
}

func (d Date) String() string {
	days := int(d)
	y := epochYear + days/daysPerYear
	days %= daysPerYear
	if days < 0 {
		days += daysPerYear
		y--
	}
	m := days/daysPerMonth + 1
	day := days%daysPerMonth + 1
	return fmt.Sprintf("%04d.%02d.%02d", y, m, day)
}
