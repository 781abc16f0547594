package gateway

import (
	"context"
	"sort"

	"github.com/nerrad567/pulse-gateway/internal/point"
)

// defaultScanLimit bounds how many cached keys one device prefix scan may return.
const defaultScanLimit = 1000

// Directory is the tenant-scoped point directory of the persistent store.
type Directory interface {
	PointsByIDs(ctx context.Context, tenantID string, ids []int64) ([]point.Point, error)
	PointsByDevices(ctx context.Context, tenantID string, deviceIDs []int64) ([]point.Point, error)
	DevicesBySite(ctx context.Context, tenantID string, siteID int64) ([]int64, error)
	TenantPoints(ctx context.Context, tenantID string, limit int) ([]point.Point, error)
}

// KeyScanner lists cached keys under a prefix.
type KeyScanner interface {
	ScanKeys(ctx context.Context, prefix string, limit int) ([]string, error)
}

// Expander resolves selectors into tenant-scoped key sets.
//
// Resolution is best effort: unknown ids and foreign or malformed keys are
// dropped with a warning, and a directory or scan failure only empties the
// affected selector group.
type Expander struct {
	dir       Directory
	scanner   KeyScanner
	scanLimit int
	logger    Logger
}

// NewExpander creates an expander. scanner may be nil, in which case device
// selectors rely on the directory alone.
func NewExpander(dir Directory, scanner KeyScanner) *Expander {
	return &Expander{
		dir:       dir,
		scanner:   scanner,
		scanLimit: defaultScanLimit,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the expander.
func (e *Expander) SetLogger(logger Logger) {
	e.logger = logger
}

// Expand resolves selectors for tenantID. Every returned key lies inside
// the tenant's namespace. An empty result is not an error here; callers
// decide whether it is acceptable.
func (e *Expander) Expand(ctx context.Context, tenantID string, selectors ...Selector) (*KeySet, error) {
	if !point.ValidTenant(tenantID) {
		return nil, invalid("tenant id %q is not valid", tenantID)
	}

	set := NewKeySet()
	for _, sel := range selectors {
		if sel == nil || sel.empty() {
			continue
		}
		switch s := sel.(type) {
		case ByKeys:
			e.expandKeys(tenantID, s, set)
		case ByPointIDs:
			e.expandPointIDs(ctx, tenantID, s, set)
		case ByDeviceIDs:
			e.expandDevices(ctx, tenantID, s, set)
		case BySite:
			e.expandSite(ctx, tenantID, s, set)
		}
	}
	return set, nil
}

// TenantKeys returns the keys of up to limit directory points of tenantID.
func (e *Expander) TenantKeys(ctx context.Context, tenantID string, limit int) (*KeySet, error) {
	if !point.ValidTenant(tenantID) {
		return nil, invalid("tenant id %q is not valid", tenantID)
	}
	points, err := e.dir.TenantPoints(ctx, tenantID, limit)
	if err != nil {
		e.logger.Warn("listing tenant points failed", "tenant_id", tenantID, "error", err)
		return NewKeySet(), nil
	}
	set := NewKeySet()
	for _, p := range points {
		e.addPoint(tenantID, p, set)
	}
	return set, nil
}

func (e *Expander) expandKeys(tenantID string, raw ByKeys, set *KeySet) {
	for _, r := range raw {
		k, err := point.Qualify(tenantID, r)
		if err != nil {
			e.logger.Warn("dropping key", "tenant_id", tenantID, "key", r, "error", err)
			continue
		}
		set.Add(k.String())
	}
}

func (e *Expander) expandPointIDs(ctx context.Context, tenantID string, ids ByPointIDs, set *KeySet) {
	points, err := e.dir.PointsByIDs(ctx, tenantID, ids)
	if err != nil {
		e.logger.Warn("resolving point ids failed", "tenant_id", tenantID, "count", len(ids), "error", err)
		return
	}

	found := make(map[int64]bool, len(points))
	for _, p := range points {
		if e.addPoint(tenantID, p, set) {
			found[p.ID] = true
		}
	}
	for _, id := range ids {
		if !found[id] {
			e.logger.Warn("point id not resolved", "tenant_id", tenantID, "point_id", id)
		}
	}
}

func (e *Expander) expandDevices(ctx context.Context, tenantID string, ids ByDeviceIDs, set *KeySet) {
	resolved := make(map[int64]bool, len(ids))

	points, err := e.dir.PointsByDevices(ctx, tenantID, ids)
	if err != nil {
		e.logger.Warn("resolving device points failed", "tenant_id", tenantID, "count", len(ids), "error", err)
	}
	for _, p := range points {
		if e.addPoint(tenantID, p, set) {
			resolved[p.DeviceID] = true
		}
	}

	if e.scanner != nil {
		for _, id := range ids {
			if id <= 0 {
				continue
			}
			if e.addScanned(ctx, tenantID, id, set) {
				resolved[id] = true
			}
		}
	}

	for _, id := range ids {
		if !resolved[id] {
			e.logger.Warn("device not resolved", "tenant_id", tenantID, "device_id", id)
		}
	}
}

// addScanned adds the cached keys of one device and reports whether any matched.
func (e *Expander) addScanned(ctx context.Context, tenantID string, deviceID int64, set *KeySet) bool {
	prefix := point.DevicePrefix(tenantID, deviceID)
	keys, err := e.scanner.ScanKeys(ctx, prefix, e.scanLimit)
	if err != nil {
		e.logger.Warn("cache prefix scan failed", "prefix", prefix, "error", err)
		return false
	}
	sort.Strings(keys)

	matched := false
	for _, key := range keys {
		if !point.HasTenant(key, tenantID) {
			continue
		}
		k, err := point.ParseKey(key)
		if err != nil || k.DeviceID != deviceID {
			continue
		}
		set.Add(key)
		matched = true
	}
	return matched
}

func (e *Expander) expandSite(ctx context.Context, tenantID string, siteID BySite, set *KeySet) {
	deviceIDs, err := e.dir.DevicesBySite(ctx, tenantID, int64(siteID))
	if err != nil {
		e.logger.Warn("resolving site devices failed", "tenant_id", tenantID, "site_id", int64(siteID), "error", err)
		return
	}
	if len(deviceIDs) == 0 {
		e.logger.Warn("site has no devices", "tenant_id", tenantID, "site_id", int64(siteID))
		return
	}
	e.expandDevices(ctx, tenantID, ByDeviceIDs(deviceIDs), set)
}

// addPoint adds p's key if p belongs to tenantID and reports whether it did.
func (e *Expander) addPoint(tenantID string, p point.Point, set *KeySet) bool {
	if p.TenantID != tenantID {
		e.logger.Warn("directory returned foreign point", "tenant_id", tenantID, "point_id", p.ID)
		return false
	}
	key, err := p.Key()
	if err != nil {
		e.logger.Warn("directory point has no valid key", "point_id", p.ID, "error", err)
		return false
	}
	set.Add(key)
	return true
}
