package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/gioswatch/gioswatch/internal/airquality"
)

const timeLayout = "2006-01-02 15:04"

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func renderStations(w io.Writer, stations []airquality.Station) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tSTATION\tPROVINCE")
	for _, s := range stations {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", s.ID, s.Name, s.Province)
	}
	_ = tw.Flush()
}

func renderSensors(w io.Writer, station airquality.Station) {
	fmt.Fprintf(w, "%s\n\n", station.DisplayName())
	tw := newTable(w)
	fmt.Fprintln(tw, "SENSOR\tCODE\tPARAMETER")
	for _, s := range station.Sensors {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", s.ID, s.ParamCode, s.ParamName)
	}
	_ = tw.Flush()
}

func renderReport(w io.Writer, r airquality.Report) {
	fmt.Fprintf(w, "%s: %s data, %s to %s\n",
		r.Station.DisplayName(), r.Kind,
		r.Window.Start.Format(timeLayout), r.Window.End.Format(timeLayout))

	for _, e := range r.Entries {
		fmt.Fprintf(w, "\n%s (sensor %d)\n", e.ParamName, e.SensorID)
		switch {
		case e.Error != "":
			fmt.Fprintf(w, "  %s\n", e.Error)
			continue
		case len(e.Measurements) == 0:
			fmt.Fprintln(w, "  no measurements")
			continue
		}

		tw := newTable(w)
		for _, m := range e.Measurements {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", m.Date, formatValue(m.Value), m.Code)
		}
		_ = tw.Flush()
	}
}

func renderChart(w io.Writer, c airquality.Chart) {
	fmt.Fprintf(w, "%s (%d): last %.0f hours\n", c.StationName, c.StationID, c.XRange.Max-c.XRange.Min)
	fmt.Fprintf(w, "x axis %s..%s h, y axis %s..%s\n\n",
		formatValue(c.XRange.Min), formatValue(c.XRange.Max),
		formatValue(c.YRange.Min), formatValue(c.YRange.Max))

	tw := newTable(w)
	fmt.Fprintln(tw, "SENSOR\tSERIES\tCOLOR\tPOINTS\tLATEST")
	for _, s := range c.Series {
		latest := "-"
		if n := len(s.Points); n > 0 {
			p := s.Points[0]
			for _, q := range s.Points[1:] {
				if q.HoursAgo < p.HoursAgo {
					p = q
				}
			}
			latest = fmt.Sprintf("%s (%.1fh ago)", formatValue(p.Value), p.HoursAgo)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", s.SensorID, s.Label, s.Color, len(s.Points), latest)
	}
	_ = tw.Flush()

	for _, f := range c.Failed {
		fmt.Fprintf(w, "sensor %d: %s\n", f.SensorID, f.Error)
	}
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
