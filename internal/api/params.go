package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/pulse-gateway/internal/gateway"
	"github.com/nerrad567/pulse-gateway/internal/point"
)

// badParam builds a validation error for a query parameter.
func badParam(name, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", gateway.ErrValidation, name, fmt.Sprintf(format, args...))
}

// listParam collects a list parameter given either repeated or comma
// separated. Blank items are ignored.
func listParam(q url.Values, name string) []string {
	var out []string
	for _, raw := range q[name] {
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// idListParam parses a list of positive ids.
func idListParam(q url.Values, name string) ([]int64, error) {
	items := listParam(q, name)
	if len(items) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		id, err := parseID(item)
		if err != nil {
			return nil, badParam(name, "%q is not a positive integer", item)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseID parses a positive id.
func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id %q is not a positive integer", gateway.ErrValidation, raw)
	}
	return id, nil
}

// limitParam parses limit, defaulting to def and rejecting values above max.
func limitParam(q url.Values, def, maxLimit int) (int, error) {
	raw := q.Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, badParam("limit", "%q is not a positive integer", raw)
	}
	if maxLimit > 0 && n > maxLimit {
		return 0, badParam("limit", "at most %d", maxLimit)
	}
	return n, nil
}

// boolParam parses an optional boolean flag.
func boolParam(q url.Values, name string) (bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badParam(name, "%q is not a boolean", raw)
	}
	return v, nil
}

// filtersParam reads the data_type and quality filters. quality_filter is
// the documented name; quality is accepted as an alias.
func filtersParam(q url.Values) (gateway.Filters, error) {
	var f gateway.Filters

	if raw := q.Get("data_type"); raw != "" {
		f.DataType = point.DataType(raw)
		if !f.DataType.Valid() {
			return f, badParam("data_type", "must be one of number, boolean, string")
		}
	}

	raw := q.Get("quality_filter")
	if raw == "" {
		raw = q.Get("quality")
	}
	if raw != "" {
		f.Quality = point.Quality(raw)
		if !f.Quality.Valid() {
			return f, badParam("quality_filter", "must be one of good, bad, uncertain")
		}
	}
	return f, nil
}

// selectorsParam reads the key, point, device and site selectors.
// maxKeys bounds the number of explicit keys.
func selectorsParam(q url.Values, maxKeys int) ([]gateway.Selector, error) {
	var selectors []gateway.Selector

	if keys := listParam(q, "keys"); len(keys) > 0 {
		if len(keys) > maxKeys {
			return nil, badParam("keys", "%d keys requested, at most %d per request", len(keys), maxKeys)
		}
		selectors = append(selectors, gateway.ByKeys(keys))
	}

	pointIDs, err := idListParam(q, "point_ids")
	if err != nil {
		return nil, err
	}
	if len(pointIDs) > 0 {
		selectors = append(selectors, gateway.ByPointIDs(pointIDs))
	}

	deviceIDs, err := idListParam(q, "device_ids")
	if err != nil {
		return nil, err
	}
	if len(deviceIDs) > 0 {
		selectors = append(selectors, gateway.ByDeviceIDs(deviceIDs))
	}

	if raw := q.Get("site_id"); raw != "" {
		siteID, err := parseID(raw)
		if err != nil {
			return nil, badParam("site_id", "%q is not a positive integer", raw)
		}
		selectors = append(selectors, gateway.BySite(siteID))
	}

	return selectors, nil
}

// sinceParam parses since as RFC 3339 or unix seconds. Empty means unset.
func sinceParam(q url.Values) (*time.Time, error) {
	raw := strings.TrimSpace(q.Get("since"))
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs >= 0 {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	return nil, badParam("since", "%q is neither an RFC 3339 timestamp nor unix seconds", raw)
}

// dataSource summarises where a set of values came from.
func dataSource(values []point.Value) string {
	if len(values) == 0 {
		return "none"
	}
	first := values[0].Source
	for _, v := range values[1:] {
		if v.Source != first {
			return "mixed"
		}
	}
	return string(first)
}
