package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestRegistry(clk *clock, cfg RegistryConfig) (*Registry, *memSubscriptionStore) {
	store := newMemSubscriptionStore(clk.Now)
	r := NewRegistry(store, NewExpander(acmeDirectory(), &fakeScanner{}), cfg)
	r.now = clk.Now
	return r, store
}

// countingStore records how often the underlying store is consulted.
type countingStore struct {
	*memSubscriptionStore
	mu    sync.Mutex
	loads int
}

func (c *countingStore) Load(ctx context.Context, tenantID, id string) (*Subscription, error) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	return c.memSubscriptionStore.Load(ctx, tenantID, id)
}

func TestRegistry_Create(t *testing.T) {
	clk := newClock()
	r, _ := newTestRegistry(clk, RegistryConfig{TTL: time.Hour})
	ctx := context.Background()

	sub, err := r.Create(ctx, "acme", CreateRequest{
		Selectors: []Selector{ByDeviceIDs{7}, ByKeys{"device:8:power", "acme:device:7:temp"}},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	want := []string{"acme:device:7:humidity", "acme:device:7:status", "acme:device:7:temp", "acme:device:8:power"}
	if strings.Join(sub.Keys, ",") != strings.Join(want, ",") {
		t.Errorf("Keys = %v, want %v", sub.Keys, want)
	}
	if sub.TotalKeys != 4 {
		t.Errorf("TotalKeys = %d, want 4", sub.TotalKeys)
	}
	if sub.UpdateIntervalMs != DefaultUpdateIntervalMs {
		t.Errorf("UpdateIntervalMs = %d, want default", sub.UpdateIntervalMs)
	}
	if sub.Status != StatusActive {
		t.Errorf("Status = %s, want active", sub.Status)
	}
	if !sub.ExpiresAt.Equal(clk.Now().Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want created + 1h", sub.ExpiresAt)
	}
	if owner, _ := TenantOfSubscription(sub.ID); owner != "acme" {
		t.Errorf("subscription id %q does not embed the tenant", sub.ID)
	}

	got, err := r.Get(ctx, sub.ID, "acme")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if strings.Join(got.Keys, ",") != strings.Join(want, ",") || got.LastPolledAt != nil {
		t.Errorf("Get() = %+v", got)
	}
}

func TestRegistry_Create_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{name: "no selectors", req: CreateRequest{}},
		{name: "empty selectors", req: CreateRequest{Selectors: []Selector{ByKeys{}, BySite(0)}}},
		{name: "interval too small", req: CreateRequest{Selectors: []Selector{ByDeviceIDs{7}}, UpdateIntervalMs: 50}},
		{name: "interval too large", req: CreateRequest{Selectors: []Selector{ByDeviceIDs{7}}, UpdateIntervalMs: 300_001}},
		{name: "resolves to nothing", req: CreateRequest{Selectors: []Selector{ByDeviceIDs{20}}}},
		{name: "only foreign keys", req: CreateRequest{Selectors: []Selector{ByKeys{"globex:device:20:temp"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store := newTestRegistry(newClock(), RegistryConfig{})
			_, err := r.Create(context.Background(), "acme", tt.req)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Create() error = %v, want ErrValidation", err)
			}
			if len(store.records) != 0 {
				t.Errorf("store holds %d records after a rejected create", len(store.records))
			}
		})
	}
}

func TestRegistry_Create_TooManyKeys(t *testing.T) {
	r, _ := newTestRegistry(newClock(), RegistryConfig{MaxKeys: 2})
	_, err := r.Create(context.Background(), "acme", CreateRequest{Selectors: []Selector{ByDeviceIDs{7}}})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Create() error = %v, want ErrValidation", err)
	}
}

func TestRegistry_Create_StoreDown(t *testing.T) {
	r, store := newTestRegistry(newClock(), RegistryConfig{})
	store.setErr(errors.New("connection refused"))

	_, err := r.Create(context.Background(), "acme", CreateRequest{Selectors: []Selector{ByDeviceIDs{7}}})
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("Create() error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestRegistry_Get_ForeignIDNeverTouchesStore(t *testing.T) {
	clk := newClock()
	store := &countingStore{memSubscriptionStore: newMemSubscriptionStore(clk.Now)}
	r := NewRegistry(store, NewExpander(acmeDirectory(), nil), RegistryConfig{})
	r.now = clk.Now

	_, err := r.Get(context.Background(), NewSubscriptionID("globex"), "acme")
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Get() error = %v, want ErrAccessDenied", err)
	}
	if _, err := r.Delete(context.Background(), NewSubscriptionID("globex"), "acme"); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Delete() error = %v, want ErrAccessDenied", err)
	}
	if store.loads != 0 {
		t.Errorf("store consulted %d times for a foreign id", store.loads)
	}
}

func TestRegistry_Get_Errors(t *testing.T) {
	clk := newClock()
	r, store := newTestRegistry(clk, RegistryConfig{TTL: time.Minute})
	ctx := context.Background()

	if _, err := r.Get(ctx, "not-a-subscription", "acme"); !errors.Is(err, ErrValidation) {
		t.Errorf("malformed id error = %v, want ErrValidation", err)
	}
	if _, err := r.Get(ctx, NewSubscriptionID("acme"), "acme"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}

	sub, err := r.Create(ctx, "acme", CreateRequest{Selectors: []Selector{ByDeviceIDs{8}}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	store.setErr(errors.New("timeout"))
	if _, err := r.Get(ctx, sub.ID, "acme"); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("store down error = %v, want ErrUpstreamUnavailable", err)
	}
	store.setErr(nil)

	clk.Advance(time.Minute)
	if _, err := r.Get(ctx, sub.ID, "acme"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_Get_ExpiredStraggler(t *testing.T) {
	clk := newClock()
	r, store := newTestRegistry(clk, RegistryConfig{TTL: time.Minute})
	ctx := context.Background()

	sub, err := r.Create(ctx, "acme", CreateRequest{Selectors: []Selector{ByDeviceIDs{8}}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// The store still holds the record past its logical expiry.
	store.mu.Lock()
	rec := store.records[memKey("acme", sub.ID)]
	rec.expiresAt = clk.Now().Add(time.Hour)
	store.records[memKey("acme", sub.ID)] = rec
	store.mu.Unlock()

	clk.Advance(2 * time.Minute)
	if _, err := r.Get(ctx, sub.ID, "acme"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}

	res := r.List(ctx, "acme", ListOptions{Status: StatusExpired})
	if res.Total != 1 || res.Subscriptions[0].Status != StatusExpired {
		t.Errorf("List(expired) = %+v, want the straggler", res)
	}
}

func TestRegistry_Delete(t *testing.T) {
	r, _ := newTestRegistry(newClock(), RegistryConfig{})
	ctx := context.Background()

	sub, err := r.Create(ctx, "acme", CreateRequest{Selectors: []Selector{ByPointIDs{101}}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wasActive, err := r.Delete(ctx, sub.ID, "acme")
	if err != nil || !wasActive {
		t.Fatalf("first Delete() = %v, %v; want true, nil", wasActive, err)
	}

	wasActive, err = r.Delete(ctx, sub.ID, "acme")
	if err != nil || wasActive {
		t.Errorf("second Delete() = %v, %v; want false, nil", wasActive, err)
	}

	if _, err := r.Get(ctx, sub.ID, "acme"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if _, err := r.Delete(ctx, "sub_bad", "acme"); !errors.Is(err, ErrValidation) {
		t.Errorf("Delete(malformed) error = %v, want ErrValidation", err)
	}
}

func TestRegistry_List(t *testing.T) {
	clk := newClock()
	r, store := newTestRegistry(clk, RegistryConfig{})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		sub, err := r.Create(ctx, "acme", CreateRequest{Selectors: []Selector{ByPointIDs{101 + int64(i)}}})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, sub.ID)
		clk.Advance(time.Second)
	}
	// Another tenant's subscription must not show up.
	if _, err := NewRegistry(store, NewExpander(acmeDirectory(), nil), RegistryConfig{}).Create(ctx, "globex", CreateRequest{Selectors: []Selector{ByDeviceIDs{20}}}); err != nil {
		t.Fatalf("Create(globex) error = %v", err)
	}

	res := r.List(ctx, "acme", ListOptions{})
	if res.Degraded || res.DataSource != DataSourceCache {
		t.Errorf("List() degraded = %v, data_source = %s", res.Degraded, res.DataSource)
	}
	if res.Total != 3 || len(res.Subscriptions) != 3 {
		t.Fatalf("List() total = %d, len = %d, want 3", res.Total, len(res.Subscriptions))
	}
	for i, want := range []string{ids[2], ids[1], ids[0]} {
		if res.Subscriptions[i].ID != want {
			t.Errorf("Subscriptions[%d] = %s, want newest first", i, res.Subscriptions[i].ID)
		}
	}

	page := r.List(ctx, "acme", ListOptions{Limit: 2})
	if page.Total != 3 || len(page.Subscriptions) != 2 {
		t.Errorf("List(limit 2) total = %d, len = %d", page.Total, len(page.Subscriptions))
	}

	if active := r.List(ctx, "acme", ListOptions{Status: StatusActive}); active.Total != 3 {
		t.Errorf("List(active) total = %d, want 3", active.Total)
	}
}

func TestRegistry_List_Degraded(t *testing.T) {
	r, store := newTestRegistry(newClock(), RegistryConfig{})
	store.setErr(errors.New("connection refused"))

	res := r.List(context.Background(), "acme", ListOptions{})
	if !res.Degraded || res.DataSource != DataSourceUnavailable {
		t.Errorf("List() = %+v, want degraded", res)
	}
	if res.Subscriptions == nil || len(res.Subscriptions) != 0 {
		t.Errorf("Subscriptions = %v, want empty non-nil", res.Subscriptions)
	}
}

func TestRegistry_Touch(t *testing.T) {
	tests := []struct {
		name        string
		renew       bool
		wantExpires time.Duration
	}{
		{name: "keeps ttl", renew: false, wantExpires: time.Hour},
		{name: "renews ttl", renew: true, wantExpires: time.Hour + 30*time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newClock()
			created := clk.Now()
			r, store := newTestRegistry(clk, RegistryConfig{TTL: time.Hour, RenewOnPoll: tt.renew})
			ctx := context.Background()

			sub, err := r.Create(ctx, "acme", CreateRequest{Selectors: []Selector{ByDeviceIDs{7}}})
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			clk.Advance(30 * time.Minute)
			if err := r.Touch(ctx, sub, clk.Now()); err != nil {
				t.Fatalf("Touch() error = %v", err)
			}

			store.mu.Lock()
			rec := store.records[memKey("acme", sub.ID)]
			store.mu.Unlock()
			if want := created.Add(tt.wantExpires); !rec.expiresAt.Equal(want) {
				t.Errorf("store expiry = %v, want %v", rec.expiresAt, want)
			}
			if rec.sub.LastPolledAt == nil || !rec.sub.LastPolledAt.Equal(clk.Now()) {
				t.Errorf("LastPolledAt = %v, want %v", rec.sub.LastPolledAt, clk.Now())
			}
		})
	}
}

func TestRegistry_ActiveCounts(t *testing.T) {
	clk := newClock()
	r, store := newTestRegistry(clk, RegistryConfig{})
	ctx := context.Background()

	for _, sel := range []Selector{ByDeviceIDs{7}, ByPointIDs{101, 111}} {
		if _, err := r.Create(ctx, "acme", CreateRequest{Selectors: []Selector{sel}}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	subs, keys, err := r.ActiveCounts(ctx, "acme")
	if err != nil {
		t.Fatalf("ActiveCounts() error = %v", err)
	}
	if subs != 2 || keys != 4 {
		t.Errorf("ActiveCounts() = %d, %d; want 2, 4", subs, keys)
	}

	store.setErr(fmt.Errorf("down"))
	if _, _, err := r.ActiveCounts(ctx, "acme"); err == nil {
		t.Error("ActiveCounts() expected error when the store is down")
	}
}
