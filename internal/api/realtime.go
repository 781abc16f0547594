package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pulse-gateway/internal/gateway"
	"github.com/nerrad567/pulse-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/pulse-gateway/internal/point"
)

// currentValuesResponse is the data of GET /current-values.
type currentValuesResponse struct {
	Values        []point.Value `json:"values"`
	Total         int           `json:"total"`
	RequestedKeys int           `json:"requested_keys"`
	Truncated     bool          `json:"truncated"`
	Source        gateway.Mode  `json:"source"`
	DataSource    string        `json:"data_source"`
}

// deviceValuesResponse is the data of GET /device/{id}/values.
type deviceValuesResponse struct {
	DeviceID        int64                             `json:"device_id"`
	Values          []point.Value                     `json:"values"`
	Total           int                               `json:"total"`
	DataSource      string                            `json:"data_source"`
	TrendsAvailable bool                              `json:"trends_available"`
	Trends          map[string][]influxdb.TrendSample `json:"trends,omitempty"`
}

// handleCurrentValues serves a batch fetch. Without any selector the
// tenant's directory points are returned, up to limit.
func (s *Server) handleCurrentValues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantFrom(ctx)
	q := r.URL.Query()

	mode, err := gateway.ParseMode(q.Get("source"))
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	filters, err := filtersParam(q)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	batchLimit := s.cascade.BatchLimit()
	limit, err := limitParam(q, batchLimit, batchLimit)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	selectors, err := selectorsParam(q, batchLimit)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	var set *gateway.KeySet
	if len(selectors) == 0 {
		set, err = s.expander.TenantKeys(ctx, tenantID, limit)
	} else {
		set, err = s.expander.Expand(ctx, tenantID, selectors...)
	}
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	keys := set.Keys()
	requested := len(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}

	values, err := s.cascade.Fetch(ctx, gateway.FetchRequest{
		TenantID: tenantID,
		Keys:     keys,
		Source:   mode,
		Filters:  filters,
	})
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, "current values retrieved", currentValuesResponse{
		Values:        values,
		Total:         len(values),
		RequestedKeys: requested,
		Truncated:     requested > len(keys),
		Source:        mode,
		DataSource:    dataSource(values),
	})
}

// handleDeviceValues serves the current values of one device, optionally
// with recent trends.
func (s *Server) handleDeviceValues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenantFrom(ctx)
	q := r.URL.Query()

	deviceID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	filters, err := filtersParam(q)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	batchLimit := s.cascade.BatchLimit()
	limit, err := limitParam(q, batchLimit, batchLimit)
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	includeTrends, err := boolParam(q, "include_trends")
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	set, err := s.expander.Expand(ctx, tenantID, gateway.ByDeviceIDs{deviceID})
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}
	if set.Len() == 0 && !s.deviceKnown(ctx, tenantID, deviceID) {
		writeNotFound(w, "device not found")
		return
	}

	keys := set.Sorted()
	if len(keys) > limit {
		keys = keys[:limit]
	}
	values, err := s.cascade.Fetch(ctx, gateway.FetchRequest{
		TenantID: tenantID,
		Keys:     keys,
		Source:   gateway.ModeAuto,
		Filters:  filters,
	})
	if err != nil {
		s.writeGatewayError(w, r, err)
		return
	}

	resp := deviceValuesResponse{
		DeviceID:   deviceID,
		Values:     values,
		Total:      len(values),
		DataSource: dataSource(values),
	}
	if includeTrends {
		resp.Trends, resp.TrendsAvailable = s.deviceTrends(ctx, tenantID, deviceID)
	}

	writeData(w, http.StatusOK, "device values retrieved", resp)
}

// deviceKnown reports whether the directory lists the device. Lookup
// failures count as unknown.
func (s *Server) deviceKnown(ctx context.Context, tenantID string, deviceID int64) bool {
	if s.devices == nil {
		return false
	}
	exists, err := s.devices.DeviceExists(ctx, tenantID, deviceID)
	if err != nil {
		s.logger.Warn("device lookup failed", "tenant_id", tenantID, "device_id", deviceID, "error", err)
		return false
	}
	return exists
}

// deviceTrends queries the trend database. A missing or failing trend
// source yields no trends rather than an error.
func (s *Server) deviceTrends(ctx context.Context, tenantID string, deviceID int64) (map[string][]influxdb.TrendSample, bool) {
	if s.trends == nil {
		return nil, false
	}
	trends, err := s.trends.QueryTrends(ctx, tenantID, deviceID, s.trends.TrendWindow())
	if err != nil {
		s.logger.Warn("trend query failed", "tenant_id", tenantID, "device_id", deviceID, "error", err)
		return nil, false
	}
	return trends, true
}
