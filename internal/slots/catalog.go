// Package slots holds the fixed set of daily bookable time slots.
package slots

import (
	"errors"
	"fmt"
	"time"
)

// Slot is a labeled point in the daily schedule.
type Slot struct {
	Label string `json:"label"`
	Hour  int    `json:"hour"`
}

var ErrEmptyCatalog = errors.New("slot catalog must contain at least one slot")

// Catalog is an immutable, ordered list of slots. The zero value is empty.
type Catalog struct {
	slots []Slot
	index map[string]int
}

// Default returns the hospital's standard consultation hours.
func Default() Catalog {
	c, _ := New(
		Slot{Label: "09:00 AM", Hour: 9},
		Slot{Label: "10:00 AM", Hour: 10},
		Slot{Label: "11:00 AM", Hour: 11},
		Slot{Label: "02:00 PM", Hour: 14},
		Slot{Label: "04:00 PM", Hour: 16},
	)
	return c
}

// New builds a catalog in the given order. Labels must be unique and hours
// must fall inside a day.
func New(slots ...Slot) (Catalog, error) {
	if len(slots) == 0 {
		return Catalog{}, ErrEmptyCatalog
	}

	c := Catalog{
		slots: make([]Slot, 0, len(slots)),
		index: make(map[string]int, len(slots)),
	}
	for _, s := range slots {
		if s.Label == "" {
			return Catalog{}, errors.New("slot label must not be empty")
		}
		if s.Hour < 0 || s.Hour > 23 {
			return Catalog{}, fmt.Errorf("slot %q: hour %d out of range", s.Label, s.Hour)
		}
		if _, dup := c.index[s.Label]; dup {
			return Catalog{}, fmt.Errorf("duplicate slot label %q", s.Label)
		}
		c.index[s.Label] = len(c.slots)
		c.slots = append(c.slots, s)
	}
	return c, nil
}

func (c Catalog) Len() int { return len(c.slots) }

// Slots returns a copy of the catalog entries.
func (c Catalog) Slots() []Slot {
	out := make([]Slot, len(c.slots))
	copy(out, c.slots)
	return out
}

// Labels returns the slot labels in catalog order.
func (c Catalog) Labels() []string {
	out := make([]string, len(c.slots))
	for i, s := range c.slots {
		out[i] = s.Label
	}
	return out
}

// Lookup finds a slot by its exact label.
func (c Catalog) Lookup(label string) (Slot, bool) {
	i, ok := c.index[label]
	if !ok {
		return Slot{}, false
	}
	return c.slots[i], true
}

func (c Catalog) Contains(label string) bool {
	_, ok := c.index[label]
	return ok
}

// Position reports the catalog order of label, or -1 if unknown.
func (c Catalog) Position(label string) int {
	if i, ok := c.index[label]; ok {
		return i
	}
	return -1
}

// Upcoming returns the slots of date that are still in the future relative to
// now. On the current day a slot whose hour is <= now's hour is gone; earlier
// days have nothing left and later days keep every slot. Both times are
// compared in now's location.
//
// Availability lookups never apply this filter; it belongs to the caller.
func (c Catalog) Upcoming(date, now time.Time) []Slot {
	day := truncateDay(date.In(now.Location()))
	today := truncateDay(now)

	switch {
	case day.Before(today):
		return nil
	case day.After(today):
		return c.Slots()
	}

	var out []Slot
	for _, s := range c.slots {
		if s.Hour > now.Hour() {
			out = append(out, s)
		}
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
