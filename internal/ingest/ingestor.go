package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/pulse-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/pulse-gateway/internal/point"
	"github.com/nerrad567/pulse-gateway/internal/store"
)

// defaultWriteTimeout bounds the sink writes for one message.
const defaultWriteTimeout = 5 * time.Second

// CacheWriter writes a point record to the cache tier.
type CacheWriter interface {
	Set(ctx context.Context, key string, rec point.Record, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// StoreWriter upserts a point's current value in the persistent store.
type StoreWriter interface {
	UpsertCurrentValue(ctx context.Context, k point.Key, rec point.Record) (int64, error)
}

// TrendWriter queues a sample for the trend database.
type TrendWriter interface {
	WritePointValue(tenantID string, deviceID int64, pointName string, value any, quality string, ts time.Time) bool
}

// Subscriber is the subset of the MQTT client used by the ingestor.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// StatusPublisher announces the gateway's state on the broker.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status mqtt.GatewayStatus) error
}

// Options configures an Ingestor. Any sink may be nil, but not all of them.
type Options struct {
	Subscriber Subscriber
	Topic      string
	QoS        byte
	Cache      CacheWriter
	Store      StoreWriter
	Trends     TrendWriter
	ValueTTL   time.Duration
	Metrics    *Metrics
	Logger     Logger

	// Status receives a heartbeat with the ingest counters every
	// StatusInterval. Either being zero disables the heartbeat.
	Status         StatusPublisher
	StatusInterval time.Duration
}

// Counters is a snapshot of ingest activity since start.
type Counters struct {
	Messages        uint64
	MessagesDropped uint64
	Points          uint64
	PointsDropped   uint64
}

// Ingestor applies value batches from MQTT to the gateway's tiers.
//
// Thread Safety: HandleMessage may be called concurrently.
type Ingestor struct {
	opts   Options
	logger Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	messages        atomic.Uint64
	messagesDropped atomic.Uint64
	points          atomic.Uint64
	pointsDropped   atomic.Uint64

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an ingestor.
func New(opts Options) (*Ingestor, error) {
	if opts.Cache == nil && opts.Store == nil && opts.Trends == nil {
		return nil, ErrNoSinks
	}
	if opts.Topic == "" {
		opts.Topic = mqtt.Topics{}.AllDeviceValues()
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Ingestor{
		opts:   opts,
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start subscribes to the value topic.
func (i *Ingestor) Start(ctx context.Context) error {
	if i.opts.Subscriber == nil {
		return ErrNoSubscriber
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := i.opts.Subscriber.Subscribe(i.opts.Topic, i.opts.QoS, i.HandleMessage); err != nil {
		return fmt.Errorf("subscribe to values: %w", err)
	}
	i.logger.Info("value ingest started", "topic", i.opts.Topic, "qos", i.opts.QoS)

	if i.opts.Status != nil && i.opts.StatusInterval > 0 {
		i.wg.Add(1)
		go i.heartbeat(i.opts.StatusInterval)
	}
	return nil
}

// Stop unsubscribes and aborts in-flight sink writes.
func (i *Ingestor) Stop() {
	i.stopOnce.Do(func() {
		i.cancel()
		i.wg.Wait()
		if i.opts.Subscriber != nil {
			if err := i.opts.Subscriber.Unsubscribe(i.opts.Topic); err != nil {
				i.logger.Warn("unsubscribe from values failed", "topic", i.opts.Topic, "error", err)
			}
		}
		i.logger.Info("value ingest stopped")
	})
}

// heartbeat publishes the status once straight away, then every interval
// until Stop.
func (i *Ingestor) heartbeat(interval time.Duration) {
	defer i.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		i.publishStatus()
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (i *Ingestor) publishStatus() {
	ctx, cancel := context.WithTimeout(i.ctx, defaultWriteTimeout)
	defer cancel()

	c := i.Counters()
	err := i.opts.Status.PublishStatus(ctx, mqtt.GatewayStatus{
		State: mqtt.StateOnline,
		Ingest: &mqtt.IngestStatus{
			Topic:           i.opts.Topic,
			Messages:        c.Messages,
			MessagesDropped: c.MessagesDropped,
			Points:          c.Points,
			PointsDropped:   c.PointsDropped,
		},
	})
	switch {
	case err == nil, i.ctx.Err() != nil:
	case errors.Is(err, mqtt.ErrNotConnected):
		i.logger.Debug("skipping status heartbeat while disconnected")
	default:
		i.logger.Warn("status heartbeat failed", "error", err)
	}
}

// Counters returns a snapshot of ingest activity.
func (i *Ingestor) Counters() Counters {
	return Counters{
		Messages:        i.messages.Load(),
		MessagesDropped: i.messagesDropped.Load(),
		Points:          i.points.Load(),
		PointsDropped:   i.pointsDropped.Load(),
	}
}

// HandleMessage applies one value batch. The returned error describes a
// dropped message; per-point and per-sink failures are only logged.
func (i *Ingestor) HandleMessage(topic string, payload []byte) error {
	i.messages.Add(1)

	tenantID, deviceID, err := mqtt.ParseValueTopic(topic)
	if err != nil {
		return i.dropMessage(err)
	}

	batch, err := decodeBatch(payload)
	if err != nil {
		return i.dropMessage(err)
	}
	if batch.DeviceID != nil && *batch.DeviceID != deviceID {
		return i.dropMessage(fmt.Errorf("%w: topic %d, payload %d", ErrDeviceMismatch, deviceID, *batch.DeviceID))
	}

	batchTime := batch.Timestamp
	if batchTime.IsZero() {
		batchTime = i.now()
	}

	ctx, cancel := context.WithTimeout(i.ctx, defaultWriteTimeout)
	defer cancel()

	applied := 0
	for _, pv := range batch.Points {
		if i.applyPoint(ctx, tenantID, deviceID, pv, batchTime) {
			applied++
		}
	}
	i.opts.Metrics.message(outcomeApplied)

	i.logger.Debug("value batch applied",
		"tenant_id", tenantID,
		"device_id", deviceID,
		"points", len(batch.Points),
		"applied", applied,
	)
	return nil
}

func (i *Ingestor) dropMessage(err error) error {
	i.messagesDropped.Add(1)
	i.opts.Metrics.message(outcomeDropped)
	return err
}

// applyPoint writes one reading to every sink and reports whether it was
// accepted. A point is accepted once it is valid, even if a sink fails.
func (i *Ingestor) applyPoint(ctx context.Context, tenantID string, deviceID int64, pv PointValue, batchTime time.Time) bool {
	i.points.Add(1)

	key, rec, err := buildRecord(tenantID, deviceID, pv, batchTime)
	if err != nil {
		i.pointsDropped.Add(1)
		i.opts.Metrics.point(outcomeDropped)
		i.logger.Warn("dropping point value",
			"tenant_id", tenantID,
			"device_id", deviceID,
			"point", pv.Name,
			"error", err,
		)
		return false
	}

	if i.opts.Store != nil {
		id, err := i.opts.Store.UpsertCurrentValue(ctx, key, rec)
		switch {
		case errors.Is(err, store.ErrPointNotFound):
			i.logger.Debug("point not in directory", "key", key.String())
		case err != nil:
			i.logger.Warn("store write failed", "key", key.String(), "error", err)
		case rec.PointID == nil:
			rec.PointID = &id
		}
	}

	if i.opts.Cache != nil {
		if err := i.opts.Cache.Set(ctx, key.String(), rec, i.opts.ValueTTL); err != nil {
			i.logger.Warn("cache write failed", "key", key.String(), "error", err)
			// A surviving older entry would shadow the store.
			if err := i.opts.Cache.Invalidate(ctx, key.String()); err != nil {
				i.logger.Warn("cache invalidation failed", "key", key.String(), "error", err)
			}
		}
	}

	if i.opts.Trends != nil && rec.DataType != point.TypeString {
		i.opts.Trends.WritePointValue(tenantID, deviceID, key.PointName, rec.Value, string(rec.Quality), rec.Timestamp)
	}

	i.opts.Metrics.point(outcomeApplied)
	return true
}

// buildRecord validates a reading and converts it to a point record.
func buildRecord(tenantID string, deviceID int64, pv PointValue, batchTime time.Time) (point.Key, point.Record, error) {
	raw, err := point.ToKey(tenantID, deviceID, strings.TrimSpace(pv.Name))
	if err != nil {
		return point.Key{}, point.Record{}, err
	}
	key, err := point.ParseKey(raw)
	if err != nil {
		return point.Key{}, point.Record{}, err
	}

	value, dataType, err := point.NormalizeValue(pv.Value)
	if err != nil {
		return point.Key{}, point.Record{}, err
	}
	if pv.DataType != "" && point.DataType(pv.DataType) != dataType {
		return point.Key{}, point.Record{}, fmt.Errorf("%w: declared %s, got %s", point.ErrInvalidValue, pv.DataType, dataType)
	}

	quality := point.Quality(pv.Quality)
	if quality == "" {
		quality = point.QualityGood
	}

	ts := batchTime
	if pv.Timestamp != nil && !pv.Timestamp.IsZero() {
		ts = *pv.Timestamp
	}

	return key, point.Record{
		PointID:   pv.PointID,
		Value:     value,
		DataType:  dataType,
		Unit:      pv.Unit,
		Quality:   quality,
		Timestamp: ts.UTC(),
	}, nil
}
