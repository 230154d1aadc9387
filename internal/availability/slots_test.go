package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/hellobump/booking-service/internal/calendar"
	"github.com/hellobump/booking-service/internal/model"
)

func londonClock(t *testing.T) *calendar.Clock {
	t.Helper()
	clock, err := calendar.NewClock(calendar.DefaultZone)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	return clock
}

// 2026-01-26 is a Monday in the GMT half of the year, so civil time and UTC
// coincide and the expected instants are easy to read.
var (
	mondayStart = time.Date(2026, time.January, 26, 0, 0, 0, 0, time.UTC)
	mondayNoon  = time.Date(2026, time.January, 26, 12, 0, 0, 0, time.UTC)
	farPast     = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
)

func TestExpand_FullMondayBlock(t *testing.T) {
	clock := londonClock(t)
	blocks := []model.AvailabilityBlock{
		{Weekday: 1, StartTime: "09:00", EndTime: "15:00"},
	}

	slots, err := Expand(clock, blocks, 30, mondayStart, mondayNoon, farPast)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(slots) != 12 {
		t.Fatalf("expected 12 slots, got %d", len(slots))
	}
	for i, slot := range slots {
		want := mondayStart.Add(9*time.Hour + time.Duration(i)*30*time.Minute)
		if !slot.Equal(want) {
			t.Fatalf("slot %d: got %s, want %s", i, slot.Format(time.RFC3339), want.Format(time.RFC3339))
		}
	}
}

func TestExpand_NeverEmitsPartialSlot(t *testing.T) {
	clock := londonClock(t)
	blocks := []model.AvailabilityBlock{
		{Weekday: 1, StartTime: "09:00", EndTime: "10:15"},
	}

	slots, err := Expand(clock, blocks, 30, mondayStart, mondayNoon, farPast)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	// 10:00 would end at 10:30, past the block end, so only two slots fit.
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[1].Equal(mondayStart.Add(9*time.Hour + 30*time.Minute)) {
		t.Fatalf("last slot: got %s", slots[1].Format(time.RFC3339))
	}
}

func TestExpand_UnsortedBlocksYieldSortedSlots(t *testing.T) {
	clock := londonClock(t)
	blocks := []model.AvailabilityBlock{
		{Weekday: 1, StartTime: "13:00", EndTime: "14:00"},
		{Weekday: 1, StartTime: "09:00", EndTime: "10:00"},
	}

	slots, err := Expand(clock, blocks, 30, mondayStart, mondayNoon, farPast)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i-1].Before(slots[i]) {
			t.Fatalf("slots out of order at %d: %s then %s", i,
				slots[i-1].Format(time.RFC3339), slots[i].Format(time.RFC3339))
		}
	}
	if !slots[0].Equal(mondayStart.Add(9 * time.Hour)) {
		t.Fatalf("first slot: got %s", slots[0].Format(time.RFC3339))
	}
}

func TestExpand_DropsSlotsBeforeNow(t *testing.T) {
	clock := londonClock(t)
	blocks := []model.AvailabilityBlock{
		{Weekday: 1, StartTime: "09:00", EndTime: "15:00"},
	}

	now := mondayStart.Add(10*time.Hour + 5*time.Minute)
	slots, err := Expand(clock, blocks, 30, mondayStart, mondayNoon, now)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(slots) != 9 {
		t.Fatalf("expected 9 future slots, got %d", len(slots))
	}
	if !slots[0].Equal(mondayStart.Add(10*time.Hour + 30*time.Minute)) {
		t.Fatalf("first future slot: got %s", slots[0].Format(time.RFC3339))
	}
}

func TestExpand_ReversedRange(t *testing.T) {
	clock := londonClock(t)
	_, err := Expand(clock, nil, 30, mondayNoon, mondayStart, farPast)
	if !errors.Is(err, ErrReversedRange) {
		t.Fatalf("expected ErrReversedRange, got %v", err)
	}
}

func TestExpand_MalformedBlockTime(t *testing.T) {
	clock := londonClock(t)
	blocks := []model.AvailabilityBlock{
		{Weekday: 1, StartTime: "morning", EndTime: "15:00"},
	}
	_, err := Expand(clock, blocks, 30, mondayStart, mondayNoon, farPast)
	if !errors.Is(err, calendar.ErrInvalidClockTime) {
		t.Fatalf("expected ErrInvalidClockTime, got %v", err)
	}
}

func TestExpand_EmptyTemplateIsNotAnError(t *testing.T) {
	clock := londonClock(t)
	slots, err := Expand(clock, nil, 30, mondayStart, mondayNoon, farPast)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}
}

func TestExpand_SpringForwardKeepsWallClockTimes(t *testing.T) {
	clock := londonClock(t)

	// London springs forward on Sunday 2026-03-29 at 01:00Z. A block spanning
	// the transition must emit slots at the correct wall-clock times on both
	// sides, which requires the offset to be measured per instant.
	blocks := []model.AvailabilityBlock{
		{Weekday: 0, StartTime: "00:00", EndTime: "06:00"},
	}
	day := time.Date(2026, time.March, 29, 12, 0, 0, 0, time.UTC)

	slots, err := Expand(clock, blocks, 120, day, day, farPast)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := []time.Time{
		time.Date(2026, time.March, 29, 0, 0, 0, 0, time.UTC), // 00:00 GMT
		time.Date(2026, time.March, 29, 1, 0, 0, 0, time.UTC), // 02:00 BST
		time.Date(2026, time.March, 29, 3, 0, 0, 0, time.UTC), // 04:00 BST
	}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	wantLocalHours := []int{0, 2, 4}
	for i := range want {
		if !slots[i].Equal(want[i]) {
			t.Fatalf("slot %d: got %s, want %s", i, slots[i].Format(time.RFC3339), want[i].Format(time.RFC3339))
		}
		if h := clock.Parts(slots[i]).Hour; h != wantLocalHours[i] {
			t.Fatalf("slot %d wall clock: got %02d:00, want %02d:00", i, h, wantLocalHours[i])
		}
	}
}

func TestFilterConflicts(t *testing.T) {
	base := mondayStart.Add(9 * time.Hour)
	candidates := []time.Time{
		base,
		base.Add(30 * time.Minute),
		base.Add(60 * time.Minute),
	}
	active := []model.Appointment{
		{StartAt: base.Add(30 * time.Minute), EndAt: base.Add(60 * time.Minute)},
	}

	surviving := FilterConflicts(candidates, active, 30)
	if len(surviving) != 2 {
		t.Fatalf("expected 2 surviving slots, got %d", len(surviving))
	}
	// 09:00 ends exactly where the appointment starts and 10:00 starts
	// exactly where it ends; touching endpoints never conflict.
	if !surviving[0].Equal(base) || !surviving[1].Equal(base.Add(60*time.Minute)) {
		t.Fatalf("unexpected survivors: %v", surviving)
	}
}

func TestFilterConflicts_PartialOverlapConflicts(t *testing.T) {
	base := mondayStart.Add(9 * time.Hour)
	active := []model.Appointment{
		{StartAt: base.Add(45 * time.Minute), EndAt: base.Add(75 * time.Minute)},
	}

	surviving := FilterConflicts([]time.Time{base.Add(30 * time.Minute)}, active, 30)
	if len(surviving) != 0 {
		t.Fatalf("expected slot overlapping an appointment tail to be removed, got %v", surviving)
	}
}
