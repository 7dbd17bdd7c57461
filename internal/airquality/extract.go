package airquality

import (
	"math"
	"time"
)

// TimestampLayout is the date-time format of the "Data" field in GIOŚ payloads.
const TimestampLayout = "2006-01-02 15:04:05"

// DefaultValueRange is the value axis used when no measurements were emitted.
var DefaultValueRange = AxisRange{Min: 0, Max: 72}

// axisPadding is the fraction of the value span added on each side of the axis.
const axisPadding = 0.1

// Window is a closed time interval [Start, End].
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// LastDays returns the window covering the given number of days up to now.
func LastDays(now time.Time, days int) Window {
	return Window{
		Start: now.Add(-time.Duration(days) * 24 * time.Hour),
		End:   now,
	}
}

// Contains reports whether t lies within the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Hours returns the window length in hours.
func (w Window) Hours() float64 {
	return w.End.Sub(w.Start).Hours()
}

// HoursBefore returns the signed number of hours between t and the window end.
func (w Window) HoursBefore(t time.Time) float64 {
	return w.End.Sub(t).Hours()
}

// Extraction is the result of filtering a sensor's readings.
type Extraction struct {
	Measurements []Measurement
	// Skipped counts readings dropped for a null value, a bad timestamp or
	// a timestamp outside the window.
	Skipped int
	Range   RangeTracker
}

// Extract keeps the readings that have a value and a parsable timestamp inside w.
// Timestamps are interpreted in loc; a nil loc means time.Local.
func Extract(readings []Reading, w Window, loc *time.Location) Extraction {
	if loc == nil {
		loc = time.Local
	}

	var ex Extraction
	for _, r := range readings {
		if r.Value == nil {
			ex.Skipped++
			continue
		}

		t, err := time.ParseInLocation(TimestampLayout, r.Date, loc)
		if err != nil || !w.Contains(t) {
			ex.Skipped++
			continue
		}

		ex.Measurements = append(ex.Measurements, Measurement{
			Time:  t,
			Date:  r.Date,
			Value: *r.Value,
			Code:  r.Code,
		})
		ex.Range.Observe(*r.Value)
	}
	return ex
}

// Points converts the extracted measurements to chart coordinates relative to the window end.
func (e Extraction) Points(w Window) []Point {
	points := make([]Point, 0, len(e.Measurements))
	for _, m := range e.Measurements {
		points = append(points, Point{
			HoursAgo: w.HoursBefore(m.Time),
			Value:    m.Value,
		})
	}
	return points
}

// RangeTracker keeps the running minimum and maximum of observed values.
// The zero value is ready to use.
type RangeTracker struct {
	min, max float64
	count    int
}

// Observe records a value.
func (r *RangeTracker) Observe(v float64) {
	if r.count == 0 {
		r.min, r.max = v, v
	} else {
		r.min = math.Min(r.min, v)
		r.max = math.Max(r.max, v)
	}
	r.count++
}

// Merge folds another tracker into r.
func (r *RangeTracker) Merge(other RangeTracker) {
	if other.count == 0 {
		return
	}
	r.Observe(other.min)
	r.Observe(other.max)
	r.count += other.count - 2
}

// Count returns the number of observed values.
func (r RangeTracker) Count() int {
	return r.count
}

// Bounds returns the raw minimum and maximum; ok is false when nothing was observed.
func (r RangeTracker) Bounds() (lo, hi float64, ok bool) {
	return r.min, r.max, r.count > 0
}

// AxisRange returns the value axis for a chart. Without values it is
// DefaultValueRange. Otherwise the range is widened to include zero and
// padded on both sides by a tenth of its span.
func (r RangeTracker) AxisRange() AxisRange {
	if r.count == 0 {
		return DefaultValueRange
	}

	lo := math.Min(r.min, 0)
	hi := math.Max(r.max, 0)
	margin := (hi - lo) * axisPadding
	return AxisRange{Min: lo - margin, Max: hi + margin}
}
