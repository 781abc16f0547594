package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"

	"github.com/nerrad567/pulse-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/pulse-gateway/internal/point"
	"github.com/nerrad567/pulse-gateway/internal/store"
)

type cacheWrite struct {
	key string
	rec point.Record
	ttl time.Duration
}

type fakeCache struct {
	writes      []cacheWrite
	invalidated []string
	err         error
}

func (f *fakeCache) Set(_ context.Context, key string, rec point.Record, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, cacheWrite{key: key, rec: rec, ttl: ttl})
	return nil
}

func (f *fakeCache) Invalidate(_ context.Context, key string) error {
	f.invalidated = append(f.invalidated, key)
	return nil
}

// fakeStore knows the points listed in ids, keyed by canonical key.
type fakeStore struct {
	ids     map[string]int64
	upserts map[string]point.Record
	err     error
}

func newFakeStore(ids map[string]int64) *fakeStore {
	return &fakeStore{ids: ids, upserts: map[string]point.Record{}}
}

func (f *fakeStore) UpsertCurrentValue(_ context.Context, k point.Key, rec point.Record) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	id, ok := f.ids[k.String()]
	if !ok {
		return 0, fmt.Errorf("%w: %s", store.ErrPointNotFound, k)
	}
	f.upserts[k.String()] = rec
	return id, nil
}

type trendWrite struct {
	tenantID  string
	deviceID  int64
	pointName string
	value     any
	quality   string
	ts        time.Time
}

type fakeTrends struct {
	writes []trendWrite
}

func (f *fakeTrends) WritePointValue(tenantID string, deviceID int64, pointName string, value any, quality string, ts time.Time) bool {
	f.writes = append(f.writes, trendWrite{tenantID, deviceID, pointName, value, quality, ts})
	return true
}

type fakeSubscriber struct {
	topic        string
	qos          byte
	handler      mqtt.MessageHandler
	unsubscribed []string
	err          error
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	if f.err != nil {
		return f.err
	}
	f.topic, f.qos, f.handler = topic, qos, handler
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topic string) error {
	f.unsubscribed = append(f.unsubscribed, topic)
	return nil
}

// counterValue extracts the value of a Prometheus counter.
type fakeStatus struct {
	published chan mqtt.GatewayStatus
	err       error
}

func (f *fakeStatus) PublishStatus(_ context.Context, status mqtt.GatewayStatus) error {
	select {
	case f.published <- status:
	default:
	}
	return f.err
}

func counterValue(c prometheus.Counter) float64 {
	var m io_prometheus_client.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type ingestFixture struct {
	ing    *Ingestor
	cache  *fakeCache
	store  *fakeStore
	trends *fakeTrends
	sub    *fakeSubscriber
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	f := &ingestFixture{
		cache: &fakeCache{},
		store: newFakeStore(map[string]int64{
			"acme:device:7:temperature": 70,
			"acme:device:7:running":     71,
		}),
		trends: &fakeTrends{},
		sub:    &fakeSubscriber{},
	}
	ing, err := New(Options{
		Subscriber: f.sub,
		QoS:        1,
		Cache:      f.cache,
		Store:      f.store,
		Trends:     f.trends,
		ValueTTL:   2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ing.now = func() time.Time { return testNow }
	t.Cleanup(ing.Stop)
	f.ing = ing
	return f
}

func TestNew_NoSinks(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrNoSinks) {
		t.Errorf("New() error = %v, want ErrNoSinks", err)
	}
}

func TestStartStop(t *testing.T) {
	f := newIngestFixture(t)

	if err := f.ing.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if f.sub.topic != "pulseone/+/values/+" {
		t.Errorf("subscribed topic = %q, want default value topic", f.sub.topic)
	}
	if f.sub.qos != 1 {
		t.Errorf("qos = %d, want 1", f.sub.qos)
	}
	if f.sub.handler == nil {
		t.Fatal("handler not registered")
	}

	f.ing.Stop()
	f.ing.Stop()
	if len(f.sub.unsubscribed) != 1 {
		t.Errorf("unsubscribed %d times, want 1", len(f.sub.unsubscribed))
	}
}

func TestStatusHeartbeat(t *testing.T) {
	status := &fakeStatus{published: make(chan mqtt.GatewayStatus, 8)}
	sub := &fakeSubscriber{}
	ing, err := New(Options{
		Subscriber:     sub,
		Cache:          &fakeCache{},
		Status:         status,
		StatusInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := ing.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := ing.HandleMessage("pulseone/acme/values/7", []byte(`{"points":[{"name":"temperature","value":20}]}`)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-status.published:
			if got.State != mqtt.StateOnline || got.Ingest == nil {
				t.Fatalf("status = %+v, want online with ingest counters", got)
			}
			if got.Ingest.Topic != "pulseone/+/values/+" {
				t.Errorf("Ingest.Topic = %q", got.Ingest.Topic)
			}
			// Earlier beats may predate the message.
			if got.Ingest.Messages != 1 || got.Ingest.Points != 1 {
				continue
			}
			ing.Stop()
			return
		case <-deadline:
			t.Fatal("no heartbeat with the applied message")
		}
	}
}

func TestStatusHeartbeat_Disabled(t *testing.T) {
	status := &fakeStatus{published: make(chan mqtt.GatewayStatus, 1)}
	ing, err := New(Options{Subscriber: &fakeSubscriber{}, Cache: &fakeCache{}, Status: status})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := ing.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ing.Stop()

	select {
	case got := <-status.published:
		t.Errorf("published %+v without an interval", got)
	default:
	}
}

func TestStart_Errors(t *testing.T) {
	ing, err := New(Options{Cache: &fakeCache{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := ing.Start(context.Background()); !errors.Is(err, ErrNoSubscriber) {
		t.Errorf("Start() error = %v, want ErrNoSubscriber", err)
	}

	sub := &fakeSubscriber{err: mqtt.ErrNotConnected}
	ing, _ = New(Options{Cache: &fakeCache{}, Subscriber: sub})
	if err := ing.Start(context.Background()); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Start() error = %v, want ErrNotConnected", err)
	}
}

func TestHandleMessage_AppliesToAllSinks(t *testing.T) {
	f := newIngestFixture(t)

	payload := []byte(`{
		"device_id": 7,
		"timestamp": "2026-03-01T11:59:00Z",
		"points": [
			{"name": "temperature", "value": 21.5, "unit": "C"},
			{"name": "running", "value": true, "quality": "uncertain", "timestamp": "2026-03-01T11:58:00Z"},
			{"name": "mode", "value": "auto", "data_type": "string"}
		]
	}`)
	if err := f.ing.HandleMessage("pulseone/acme/values/7", payload); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if len(f.cache.writes) != 3 {
		t.Fatalf("cache writes = %d, want 3", len(f.cache.writes))
	}
	temp := f.cache.writes[0]
	if temp.key != "acme:device:7:temperature" {
		t.Errorf("key = %q", temp.key)
	}
	if temp.ttl != 2*time.Hour {
		t.Errorf("ttl = %v, want 2h", temp.ttl)
	}
	if temp.rec.PointID == nil || *temp.rec.PointID != 70 {
		t.Errorf("point id = %v, want 70 from store", temp.rec.PointID)
	}
	if temp.rec.Value != 21.5 || temp.rec.DataType != point.TypeNumber {
		t.Errorf("value = %v (%s), want 21.5 number", temp.rec.Value, temp.rec.DataType)
	}
	if temp.rec.Quality != point.QualityGood {
		t.Errorf("quality = %q, want good default", temp.rec.Quality)
	}
	if want := time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC); !temp.rec.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want batch timestamp %v", temp.rec.Timestamp, want)
	}

	running := f.cache.writes[1]
	if want := time.Date(2026, 3, 1, 11, 58, 0, 0, time.UTC); !running.rec.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want point timestamp %v", running.rec.Timestamp, want)
	}
	if running.rec.Quality != point.QualityUncertain {
		t.Errorf("quality = %q, want uncertain", running.rec.Quality)
	}

	// "mode" is not in the directory; the store skips it but the cache keeps it.
	if f.cache.writes[2].rec.PointID != nil {
		t.Errorf("mode point id = %v, want nil", f.cache.writes[2].rec.PointID)
	}
	if len(f.store.upserts) != 2 {
		t.Errorf("store upserts = %d, want 2", len(f.store.upserts))
	}

	if len(f.trends.writes) != 2 {
		t.Fatalf("trend writes = %d, want 2 (strings skipped)", len(f.trends.writes))
	}
	if w := f.trends.writes[1]; w.pointName != "running" || w.value != true || w.quality != "uncertain" {
		t.Errorf("trend write = %+v", w)
	}

	got := f.ing.Counters()
	if got.Messages != 1 || got.Points != 3 || got.PointsDropped != 0 || got.MessagesDropped != 0 {
		t.Errorf("Counters() = %+v", got)
	}
}

func TestHandleMessage_DefaultTimestamp(t *testing.T) {
	f := newIngestFixture(t)

	if err := f.ing.HandleMessage("pulseone/acme/values/7", []byte(`{"points":[{"name":"temperature","value":3}]}`)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if len(f.cache.writes) != 1 {
		t.Fatalf("cache writes = %d, want 1", len(f.cache.writes))
	}
	if !f.cache.writes[0].rec.Timestamp.Equal(testNow) {
		t.Errorf("timestamp = %v, want receipt time %v", f.cache.writes[0].rec.Timestamp, testNow)
	}
}

func TestHandleMessage_DropsMessage(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr error
	}{
		{"bad topic", "pulseone/acme/status/7", `{"points":[{"name":"a","value":1}]}`, mqtt.ErrInvalidTopic},
		{"bad device in topic", "pulseone/acme/values/x", `{"points":[{"name":"a","value":1}]}`, mqtt.ErrInvalidTopic},
		{"not json", "pulseone/acme/values/7", `not json`, ErrMalformedMessage},
		{"no points", "pulseone/acme/values/7", `{"points":[]}`, ErrMalformedMessage},
		{"point without name", "pulseone/acme/values/7", `{"points":[{"value":1}]}`, ErrMalformedMessage},
		{"bad quality", "pulseone/acme/values/7", `{"points":[{"name":"a","value":1,"quality":"great"}]}`, ErrMalformedMessage},
		{"device mismatch", "pulseone/acme/values/7", `{"device_id":8,"points":[{"name":"a","value":1}]}`, ErrDeviceMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIngestFixture(t)

			err := f.ing.HandleMessage(tt.topic, []byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("HandleMessage() error = %v, want %v", err, tt.wantErr)
			}
			if len(f.cache.writes) != 0 || len(f.store.upserts) != 0 || len(f.trends.writes) != 0 {
				t.Error("dropped message reached a sink")
			}
			if got := f.ing.Counters().MessagesDropped; got != 1 {
				t.Errorf("MessagesDropped = %d, want 1", got)
			}
		})
	}
}

func TestHandleMessage_DropsInvalidPoints(t *testing.T) {
	f := newIngestFixture(t)

	payload := []byte(`{"points":[
		{"name":"temperature","value":20},
		{"name":"nothing","value":null},
		{"name":"nested","value":{"a":1}},
		{"name":"declared","value":"on","data_type":"boolean"}
	]}`)
	if err := f.ing.HandleMessage("pulseone/acme/values/7", payload); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if len(f.cache.writes) != 1 {
		t.Errorf("cache writes = %d, want 1", len(f.cache.writes))
	}
	got := f.ing.Counters()
	if got.Points != 4 || got.PointsDropped != 3 {
		t.Errorf("Counters() = %+v, want 4 points with 3 dropped", got)
	}
}

func TestHandleMessage_SinkFailuresAreIsolated(t *testing.T) {
	f := newIngestFixture(t)
	f.store.err = errors.New("database is locked")
	f.cache.err = errors.New("connection refused")

	if err := f.ing.HandleMessage("pulseone/acme/values/7", []byte(`{"points":[{"name":"temperature","value":20}]}`)); err != nil {
		t.Fatalf("HandleMessage() error = %v, want nil", err)
	}
	if len(f.trends.writes) != 1 {
		t.Errorf("trend writes = %d, want 1 despite other sink failures", len(f.trends.writes))
	}
}

func TestHandleMessage_CacheFailureInvalidatesKey(t *testing.T) {
	f := newIngestFixture(t)
	f.cache.err = errors.New("connection reset")

	if err := f.ing.HandleMessage("pulseone/acme/values/7", []byte(`{"points":[{"name":"temperature","value":20}]}`)); err != nil {
		t.Fatalf("HandleMessage() error = %v, want nil", err)
	}
	if _, ok := f.store.upserts["acme:device:7:temperature"]; !ok {
		t.Fatal("store was not written")
	}
	if len(f.cache.invalidated) != 1 || f.cache.invalidated[0] != "acme:device:7:temperature" {
		t.Errorf("invalidated = %v, want [acme:device:7:temperature]", f.cache.invalidated)
	}
}

func TestHandleMessage_ViaSubscriber(t *testing.T) {
	f := newIngestFixture(t)
	if err := f.ing.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := f.sub.handler("pulseone/acme/values/7", []byte(`{"points":[{"name":"running","value":false}]}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if rec, ok := f.store.upserts["acme:device:7:running"]; !ok || rec.Value != false {
		t.Errorf("store upsert = %+v, %v", rec, ok)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	ing, err := New(Options{Cache: &fakeCache{}, Metrics: m})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ing.Stop()

	_ = ing.HandleMessage("pulseone/acme/values/7", []byte(`{"points":[{"name":"a","value":1},{"name":"b","value":null}]}`))
	_ = ing.HandleMessage("pulseone/acme/values/7", []byte(`{`))

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"messages applied", counterValue(m.messages.WithLabelValues(outcomeApplied)), 1},
		{"messages dropped", counterValue(m.messages.WithLabelValues(outcomeDropped)), 1},
		{"points applied", counterValue(m.points.WithLabelValues(outcomeApplied)), 1},
		{"points dropped", counterValue(m.points.WithLabelValues(outcomeDropped)), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	var nilMetrics *Metrics
	nilMetrics.message(outcomeApplied)
	nilMetrics.point(outcomeDropped)
}
