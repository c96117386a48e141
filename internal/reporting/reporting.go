// Package reporting projects the occupancy usage log into hourly, daily,
// weekday-by-hour and per-slot counts.
package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"
	_ "time/tzdata"

	"parking-status-backend/internal/apperr"
	"parking-status-backend/internal/model"
	"parking-status-backend/internal/store"
)

// Reader is the slice of the store reporting reads from.
type Reader interface {
	UsageSince(ctx context.Context, since time.Time) ([]model.UsageLog, error)
	ListSlots(ctx context.Context, activeOnly bool) ([]model.Slot, error)
}

var _ Reader = (store.Store)(nil)

type HourBucket struct {
	Hour    string `json:"hour"`
	Updates int    `json:"updates"`
}

type DayBucket struct {
	Date    string `json:"date"`
	Updates int    `json:"updates"`
}

type HeatCell struct {
	DOW     int `json:"dow"`
	Hour    int `json:"hour"`
	Updates int `json:"updates"`
}

type SlotCount struct {
	SlotID  int64  `json:"slotId"`
	Name    string `json:"name,omitempty"`
	Updates int    `json:"updates"`
}

// Report wraps any projection with the window it covers.
type Report[T any] struct {
	Days     int    `json:"days"`
	Limit    int    `json:"limit,omitempty"`
	Timezone string `json:"timezone"`
	Data     []T    `json:"data"`
}

// Service computes reports in a fixed time zone.
type Service struct {
	reader Reader
	loc    *time.Location
	now    func() time.Time
}

// NewService loads the named zone; an empty name means UTC.
func NewService(reader Reader, timezone string) (*Service, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
		}
		loc = l
	}
	return &Service{reader: reader, loc: loc, now: time.Now}, nil
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) logs(ctx context.Context, days int) ([]model.UsageLog, error) {
	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	logs, err := s.reader.UsageSince(ctx, since)
	if err != nil {
		return nil, apperr.Store(err, "read usage log")
	}
	return logs, nil
}

// Hours counts updates per local hour, oldest first.
func (s *Service) Hours(ctx context.Context, days int) (Report[HourBucket], error) {
	logs, err := s.logs(ctx, days)
	if err != nil {
		return Report[HourBucket]{}, err
	}
	counts := make(map[time.Time]int)
	for _, l := range logs {
		local := l.CreatedAt.In(s.loc)
		counts[time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, s.loc)]++
	}
	keys := make([]time.Time, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	data := make([]HourBucket, len(keys))
	for i, k := range keys {
		data[i] = HourBucket{Hour: k.Format(time.RFC3339), Updates: counts[k]}
	}
	return Report[HourBucket]{Days: days, Timezone: s.loc.String(), Data: data}, nil
}

// Daily counts updates per local calendar day, oldest first.
func (s *Service) Daily(ctx context.Context, days int) (Report[DayBucket], error) {
	logs, err := s.logs(ctx, days)
	if err != nil {
		return Report[DayBucket]{}, err
	}
	counts := make(map[string]int)
	for _, l := range logs {
		counts[l.CreatedAt.In(s.loc).Format(time.DateOnly)]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := make([]DayBucket, len(keys))
	for i, k := range keys {
		data[i] = DayBucket{Date: k, Updates: counts[k]}
	}
	return Report[DayBucket]{Days: days, Timezone: s.loc.String(), Data: data}, nil
}

// Heatmap counts updates per (weekday, hour); Sunday is 0. Empty cells are
// omitted.
func (s *Service) Heatmap(ctx context.Context, days int) (Report[HeatCell], error) {
	logs, err := s.logs(ctx, days)
	if err != nil {
		return Report[HeatCell]{}, err
	}
	var grid [7][24]int
	for _, l := range logs {
		local := l.CreatedAt.In(s.loc)
		grid[local.Weekday()][local.Hour()]++
	}
	data := []HeatCell{}
	for dow := 0; dow < 7; dow++ {
		for hour := 0; hour < 24; hour++ {
			if n := grid[dow][hour]; n > 0 {
				data = append(data, HeatCell{DOW: dow, Hour: hour, Updates: n})
			}
		}
	}
	return Report[HeatCell]{Days: days, Timezone: s.loc.String(), Data: data}, nil
}

// TopSlots ranks slots by update count, busiest first.
func (s *Service) TopSlots(ctx context.Context, days, limit int) (Report[SlotCount], error) {
	logs, err := s.logs(ctx, days)
	if err != nil {
		return Report[SlotCount]{}, err
	}
	counts := make(map[int64]int)
	for _, l := range logs {
		counts[l.SlotID]++
	}

	names := make(map[int64]string)
	if slots, err := s.reader.ListSlots(ctx, false); err == nil {
		for _, sl := range slots {
			names[sl.ID] = sl.Name
		}
	}

	data := make([]SlotCount, 0, len(counts))
	for id, n := range counts {
		data = append(data, SlotCount{SlotID: id, Name: names[id], Updates: n})
	}
	sort.Slice(data, func(i, j int) bool {
		if data[i].Updates != data[j].Updates {
			return data[i].Updates > data[j].Updates
		}
		return data[i].SlotID < data[j].SlotID
	})
	if len(data) > limit {
		data = data[:limit]
	}
	return Report[SlotCount]{Days: days, Limit: limit, Timezone: s.loc.String(), Data: data}, nil
}
