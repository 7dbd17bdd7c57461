package airquality

import "strings"

// normalizeFilter lower-cases s and strips commas, so "Kraków, ul. Dietla"
// is found by "kraków ul".
func normalizeFilter(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), ",", "")
}

// MatchesFilter reports whether the station name or province contains the filter text.
// An empty filter matches every station.
func (s Station) MatchesFilter(filter string) bool {
	f := normalizeFilter(filter)
	if f == "" {
		return true
	}
	return strings.Contains(normalizeFilter(s.Name), f) ||
		strings.Contains(normalizeFilter(s.Province), f)
}

// FilterStations returns the stations matching filter, preserving order.
func FilterStations(stations []Station, filter string) []Station {
	result := make([]Station, 0, len(stations))
	for _, s := range stations {
		if s.MatchesFilter(filter) {
			result = append(result, s)
		}
	}
	return result
}
