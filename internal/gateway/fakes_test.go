package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/pulse-gateway/internal/point"
)

var errTierDown = errors.New("tier down")

// fakeTier serves values from a map and counts calls.
type fakeTier struct {
	mu     sync.Mutex
	source point.Source
	values map[string]point.Value
	err    error
	delay  time.Duration
	calls  int
	asked  [][]string
}

func newFakeTier(src point.Source) *fakeTier {
	return &fakeTier{source: src, values: map[string]point.Value{}}
}

func (f *fakeTier) Source() point.Source { return f.source }

func (f *fakeTier) Lookup(ctx context.Context, tenantID string, keys []point.Key) (map[string]point.Value, error) {
	f.mu.Lock()
	f.calls++
	asked := make([]string, len(keys))
	for i, k := range keys {
		asked[i] = k.String()
	}
	f.asked = append(f.asked, asked)
	err, delay := f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]point.Value{}
	for _, k := range asked {
		if v, ok := f.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeTier) put(key string, value any, ts time.Time) {
	k, err := point.ParseKey(key)
	if err != nil {
		panic(err)
	}
	_, dt, err := point.NormalizeValue(value)
	if err != nil {
		panic(err)
	}
	rec := point.Record{Value: value, DataType: dt, Quality: point.QualityGood, Timestamp: ts}
	f.mu.Lock()
	f.values[key] = rec.ToValue(k, f.source)
	f.mu.Unlock()
}

func (f *fakeTier) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeTier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeDirectory is an in-memory point directory.
type fakeDirectory struct {
	points []point.Point
	sites  map[int64][]int64
	err    error
}

func (d *fakeDirectory) PointsByIDs(_ context.Context, tenantID string, ids []int64) ([]point.Point, error) {
	if d.err != nil {
		return nil, d.err
	}
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []point.Point
	for _, p := range d.points {
		if p.TenantID == tenantID && want[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (d *fakeDirectory) PointsByDevices(_ context.Context, tenantID string, deviceIDs []int64) ([]point.Point, error) {
	if d.err != nil {
		return nil, d.err
	}
	want := map[int64]bool{}
	for _, id := range deviceIDs {
		want[id] = true
	}
	var out []point.Point
	for _, p := range d.points {
		if p.TenantID == tenantID && want[p.DeviceID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (d *fakeDirectory) DevicesBySite(_ context.Context, _ string, siteID int64) ([]int64, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.sites[siteID], nil
}

func (d *fakeDirectory) TenantPoints(_ context.Context, tenantID string, limit int) ([]point.Point, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []point.Point
	for _, p := range d.points {
		if p.TenantID == tenantID && len(out) < limit {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeScanner returns keys with a prefix from a fixed list.
type fakeScanner struct {
	keys []string
	err  error
}

func (s *fakeScanner) ScanKeys(_ context.Context, prefix string, limit int) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []string
	for _, k := range s.keys {
		if strings.HasPrefix(k, prefix) && len(out) < limit {
			out = append(out, k)
		}
	}
	return out, nil
}

// memSubscriptionStore keeps subscriptions in memory with explicit expiry.
type memSubscriptionStore struct {
	mu      sync.Mutex
	records map[string]memRecord
	err     error
	now     func() time.Time
}

type memRecord struct {
	sub       Subscription
	expiresAt time.Time
}

func newMemSubscriptionStore(now func() time.Time) *memSubscriptionStore {
	return &memSubscriptionStore{records: map[string]memRecord{}, now: now}
}

func memKey(tenantID, id string) string { return tenantID + ":subscription:" + id }

func (m *memSubscriptionStore) live(key string) (memRecord, bool) {
	rec, ok := m.records[key]
	if !ok {
		return memRecord{}, false
	}
	if !m.now().Before(rec.expiresAt) {
		delete(m.records, key)
		return memRecord{}, false
	}
	return rec, true
}

func (m *memSubscriptionStore) Save(_ context.Context, sub *Subscription, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records[memKey(sub.TenantID, sub.ID)] = memRecord{sub: *sub, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *memSubscriptionStore) Load(_ context.Context, tenantID, id string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.live(memKey(tenantID, id))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sub := rec.sub
	return &sub, nil
}

func (m *memSubscriptionStore) Touch(_ context.Context, sub *Subscription, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	key := memKey(sub.TenantID, sub.ID)
	rec, ok := m.live(key)
	if !ok {
		return false, nil
	}
	rec.sub = *sub
	if ttl > 0 {
		rec.expiresAt = m.now().Add(ttl)
	}
	m.records[key] = rec
	return true, nil
}

func (m *memSubscriptionStore) Delete(_ context.Context, tenantID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	key := memKey(tenantID, id)
	_, ok := m.live(key)
	delete(m.records, key)
	return ok, nil
}

func (m *memSubscriptionStore) List(_ context.Context, tenantID string) ([]*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*Subscription
	for key := range m.records {
		rec, ok := m.live(key)
		if !ok || rec.sub.TenantID != tenantID {
			continue
		}
		sub := rec.sub
		out = append(out, &sub)
	}
	return out, nil
}

func (m *memSubscriptionStore) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// clock is a settable time source shared by components under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// acmeDirectory: device 7 has temp/humidity/status, device 8 has power,
// site 1 holds both; globex owns device 20.
func acmeDirectory() *fakeDirectory {
	return &fakeDirectory{
		points: []point.Point{
			{ID: 101, TenantID: "acme", DeviceID: 7, Name: "temp", DataType: point.TypeNumber},
			{ID: 102, TenantID: "acme", DeviceID: 7, Name: "humidity", DataType: point.TypeNumber},
			{ID: 103, TenantID: "acme", DeviceID: 7, Name: "status", DataType: point.TypeString},
			{ID: 111, TenantID: "acme", DeviceID: 8, Name: "power", DataType: point.TypeNumber},
			{ID: 201, TenantID: "globex", DeviceID: 20, Name: "temp", DataType: point.TypeNumber},
		},
		sites: map[int64][]int64{1: {7, 8}},
	}
}
