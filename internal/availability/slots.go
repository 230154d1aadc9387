// Package availability turns a midwife's weekly template into concrete
// bookable instants and screens them against existing appointments. Both
// operations are pure: the caller supplies "now" explicitly.
package availability

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hellobump/booking-service/internal/calendar"
	"github.com/hellobump/booking-service/internal/model"
)

var ErrReversedRange = errors.New("range end precedes range start")

// Expand returns every bookable instant for the template within
// [from, to], inclusive of both civil days, already filtered to slots at or
// after now and sorted ascending. An empty result means no availability,
// not an error.
//
// Days are iterated in the clock's civil zone and slots inside a block step
// by durationMin from the block's start; a slot that would overflow the
// block's end is never emitted. Template blocks may be unsorted and may
// overlap.
func Expand(clock *calendar.Clock, blocks []model.AvailabilityBlock, durationMin int, from, to, now time.Time) ([]time.Time, error) {
	if durationMin <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %d", durationMin)
	}
	if to.Before(from) {
		return nil, ErrReversedRange
	}

	cursor := clock.Parts(from).Date()
	last := clock.Parts(to).Date()

	var slots []time.Time
	for calendar.CompareCivilDays(cursor, last) <= 0 {
		weekday := clock.WeekdayOf(cursor)
		for _, block := range blocks {
			if block.Weekday != int(weekday) {
				continue
			}
			starts, err := blockStarts(block, durationMin)
			if err != nil {
				return nil, err
			}
			for _, minute := range starts {
				slot := clock.Instant(cursor.Year, cursor.Month, cursor.Day, minute/60, minute%60)
				if slot.Before(now) {
					continue
				}
				slots = append(slots, slot)
			}
		}
		cursor = clock.AddCivilDays(cursor, 1)
	}

	// Multi-block days and unsorted templates can yield out-of-order output.
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots, nil
}

// blockStarts lists slot start offsets (minutes since civil midnight) inside
// one template block. A block whose end does not trail its start simply
// yields nothing.
func blockStarts(block model.AvailabilityBlock, durationMin int) ([]int, error) {
	start, err := calendar.ParseClockTime(block.StartTime)
	if err != nil {
		return nil, fmt.Errorf("block start: %w", err)
	}
	end, err := calendar.ParseClockTime(block.EndTime)
	if err != nil {
		return nil, fmt.Errorf("block end: %w", err)
	}

	var starts []int
	for minute := start; minute+durationMin <= end; minute += durationMin {
		starts = append(starts, minute)
	}
	return starts, nil
}

// FilterConflicts removes candidate slots that overlap any of the given
// appointments. The appointment list must already exclude cancelled entries;
// this function performs no status filtering.
//
// Intervals are half-open: slot [s, s+d) conflicts with appointment
// [a.StartAt, a.EndAt) only on a non-empty intersection, so touching
// endpoints never conflict.
func FilterConflicts(candidates []time.Time, active []model.Appointment, durationMin int) []time.Time {
	d := time.Duration(durationMin) * time.Minute

	surviving := make([]time.Time, 0, len(candidates))
	for _, slot := range candidates {
		if !overlapsAny(slot, slot.Add(d), active) {
			surviving = append(surviving, slot)
		}
	}
	return surviving
}

func overlapsAny(start, end time.Time, appts []model.Appointment) bool {
	for _, a := range appts {
		if start.Before(a.EndAt) && a.StartAt.Before(end) {
			return true
		}
	}
	return false
}
