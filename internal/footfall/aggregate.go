package footfall

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Period is the width of an aggregation bucket.
type Period string

// Supported aggregation periods.
const (
	PeriodHour Period = "hour"
	PeriodDay  Period = "day"
)

// Window lengths used by the engine.
const (
	DefaultAggregateRange = 24 * time.Hour
	RealtimeWindow        = time.Hour
)

const (
	hourLabelLayout   = "2006-01-02 15:00"
	dayLabelLayout    = "2006-01-02"
	minuteLabelLayout = "2006-01-02 15:04"
)

// ParsePeriod converts s into a Period. An empty string selects PeriodHour.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "":
		return PeriodHour, nil
	case PeriodHour, PeriodDay:
		return Period(s), nil
	default:
		return "", newValidationError("period", "must be hour or day")
	}
}

// AggregateQuery selects the readings folded into buckets.
// When both Start and End are zero the last 24 hours are used.
type AggregateQuery struct {
	Start    time.Time
	End      time.Time
	Period   Period
	SensorID string
}

// AggregateBucket holds the statistics of one (sensor, period start) group.
type AggregateBucket struct {
	PeriodStart time.Time
	SensorID    string
	Label       string
	TotalCount  int
	DataPoints  int
	AvgCount    float64
	MinCount    int
	MaxCount    int
}

// Series is a minute-resolution count series for one sensor.
type Series struct {
	Labels []string
	Data   []int
}

// PeriodSummary totals one calendar day.
type PeriodSummary struct {
	TotalCount   int
	SensorCount  int
	AvgPerSensor int
}

// SensorDetail totals one sensor over the current day.
type SensorDetail struct {
	SensorID   string
	TotalCount int
	DataPoints int
	AvgCount   float64
}

// Summary compares today against yesterday.
type Summary struct {
	SensorDetails []SensorDetail
	Today         PeriodSummary
	Yesterday     PeriodSummary
	ChangePercent float64
}

// DeviceStatistics totals the readings of one sensor over trailing windows.
type DeviceStatistics struct {
	LastHour    WindowTotals
	Last24Hours WindowTotals
}

// WindowTotals is the sum and number of readings in a window.
type WindowTotals struct {
	TotalCount int
	DataPoints int
}

// Engine computes read-only statistics over a ReadingStore.
type Engine struct {
	store    ReadingStore
	clock    Clock
	location *time.Location
}

// NewEngine creates an Engine. Bucket boundaries and calendar days are
// evaluated in loc; a nil loc means UTC.
func NewEngine(store ReadingStore, clock Clock, loc *time.Location) (*Engine, error) {
	if store == nil {
		return nil, errors.New("reading store cannot be nil")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{store: store, clock: clock, location: loc}, nil
}

// Aggregate groups readings into buckets keyed by sensor and the floor of the
// timestamp to q.Period. Buckets are ordered by start time, then sensor id.
func (e *Engine) Aggregate(ctx context.Context, q AggregateQuery) ([]AggregateBucket, error) {
	period, err := ParsePeriod(string(q.Period))
	if err != nil {
		return nil, err
	}

	start, end := q.Start, q.End
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return nil, newValidationError("start_date", "must not be after end_date")
	}
	if start.IsZero() && end.IsZero() {
		end = e.clock.Now()
		start = end.Add(-DefaultAggregateRange)
	}

	readings, err := e.store.FindReadings(ctx, ReadingFilter{SensorID: q.SensorID, From: start, To: end})
	if err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}

	type key struct {
		start    int64
		sensorID string
	}
	groups := make(map[key]*AggregateBucket)
	for _, r := range readings {
		bucketStart := e.floor(r.Timestamp, period)
		k := key{start: bucketStart.UnixNano(), sensorID: r.SensorID}
		b, ok := groups[k]
		if !ok {
			b = &AggregateBucket{
				PeriodStart: bucketStart,
				SensorID:    r.SensorID,
				Label:       e.label(bucketStart, period),
				MinCount:    r.Count,
				MaxCount:    r.Count,
			}
			groups[k] = b
		}
		b.TotalCount += r.Count
		b.DataPoints++
		b.MinCount = min(b.MinCount, r.Count)
		b.MaxCount = max(b.MaxCount, r.Count)
	}

	buckets := make([]AggregateBucket, 0, len(groups))
	for _, b := range groups {
		b.AvgCount = round2(float64(b.TotalCount) / float64(b.DataPoints))
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if !buckets[i].PeriodStart.Equal(buckets[j].PeriodStart) {
			return buckets[i].PeriodStart.Before(buckets[j].PeriodStart)
		}
		return buckets[i].SensorID < buckets[j].SensorID
	})
	return buckets, nil
}

// Realtime returns per-minute count sums over the trailing hour, keyed by
// sensor. Sensors without readings in the window are absent.
func (e *Engine) Realtime(ctx context.Context, sensorID string) (map[string]Series, error) {
	now := e.clock.Now()
	readings, err := e.store.FindReadings(ctx, ReadingFilter{
		SensorID: sensorID,
		From:     now.Add(-RealtimeWindow),
		To:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}

	perSensor := make(map[string]map[int64]int)
	for _, r := range readings {
		minute := r.Timestamp.In(e.location).Truncate(time.Minute).UnixNano()
		if perSensor[r.SensorID] == nil {
			perSensor[r.SensorID] = make(map[int64]int)
		}
		perSensor[r.SensorID][minute] += r.Count
	}

	result := make(map[string]Series, len(perSensor))
	for id, minutes := range perSensor {
		keys := make([]int64, 0, len(minutes))
		for m := range minutes {
			keys = append(keys, m)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		s := Series{Labels: make([]string, 0, len(keys)), Data: make([]int, 0, len(keys))}
		for _, m := range keys {
			s.Labels = append(s.Labels, time.Unix(0, m).In(e.location).Format(minuteLabelLayout))
			s.Data = append(s.Data, minutes[m])
		}
		result[id] = s
	}
	return result, nil
}

// Summary compares the current calendar day so far against the previous one.
func (e *Engine) Summary(ctx context.Context, sensorID string) (*Summary, error) {
	now := e.clock.Now()
	startOfToday := e.floor(now, PeriodDay)
	startOfYesterday := startOfToday.AddDate(0, 0, -1)

	today, err := e.store.FindReadings(ctx, ReadingFilter{SensorID: sensorID, From: startOfToday, To: now})
	if err != nil {
		return nil, fmt.Errorf("failed to load today's readings: %w", err)
	}
	yesterday, err := e.store.FindReadings(ctx, ReadingFilter{
		SensorID: sensorID,
		From:     startOfYesterday,
		To:       startOfToday.Add(-time.Nanosecond),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load yesterday's readings: %w", err)
	}

	details := sensorDetails(today)
	summary := &Summary{
		Today:         summarizePeriod(details),
		Yesterday:     summarizePeriod(sensorDetails(yesterday)),
		SensorDetails: details,
	}
	if summary.Yesterday.TotalCount > 0 {
		delta := float64(summary.Today.TotalCount - summary.Yesterday.TotalCount)
		summary.ChangePercent = round2(delta / float64(summary.Yesterday.TotalCount) * 100)
	}
	return summary, nil
}

// DeviceStatistics totals the readings of sensorID over the last hour and the
// last 24 hours.
func (e *Engine) DeviceStatistics(ctx context.Context, sensorID string) (*DeviceStatistics, error) {
	now := e.clock.Now()
	readings, err := e.store.FindReadings(ctx, ReadingFilter{
		SensorID: sensorID,
		From:     now.Add(-24 * time.Hour),
		To:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load readings: %w", err)
	}

	hourAgo := now.Add(-time.Hour)
	stats := &DeviceStatistics{}
	for _, r := range readings {
		stats.Last24Hours.TotalCount += r.Count
		stats.Last24Hours.DataPoints++
		if !r.Timestamp.Before(hourAgo) {
			stats.LastHour.TotalCount += r.Count
			stats.LastHour.DataPoints++
		}
	}
	return stats, nil
}

// floor truncates t to the start of its period in the engine's location.
// Day boundaries follow the calendar, so DST days are not 24h long.
func (e *Engine) floor(t time.Time, period Period) time.Time {
	local := t.In(e.location)
	switch period {
	case PeriodDay:
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.location)
	default:
		return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, e.location)
	}
}

func (e *Engine) label(start time.Time, period Period) string {
	if period == PeriodDay {
		return start.Format(dayLabelLayout)
	}
	return start.Format(hourLabelLayout)
}

func sensorDetails(readings []Reading) []SensorDetail {
	bySensor := make(map[string]*SensorDetail)
	for _, r := range readings {
		d, ok := bySensor[r.SensorID]
		if !ok {
			d = &SensorDetail{SensorID: r.SensorID}
			bySensor[r.SensorID] = d
		}
		d.TotalCount += r.Count
		d.DataPoints++
	}

	details := make([]SensorDetail, 0, len(bySensor))
	for _, d := range bySensor {
		d.AvgCount = round2(float64(d.TotalCount) / float64(d.DataPoints))
		details = append(details, *d)
	}
	sort.Slice(details, func(i, j int) bool { return details[i].SensorID < details[j].SensorID })
	return details
}

func summarizePeriod(details []SensorDetail) PeriodSummary {
	var p PeriodSummary
	for _, d := range details {
		p.TotalCount += d.TotalCount
	}
	p.SensorCount = len(details)
	if p.SensorCount > 0 {
		p.AvgPerSensor = int(math.Round(float64(p.TotalCount) / float64(p.SensorCount)))
	}
	return p
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
