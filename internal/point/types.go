package point

import (
	"fmt"
	"math"
	"time"
)

// DataType tags the payload of a value.
type DataType string

const (
	TypeNumber  DataType = "number"
	TypeBoolean DataType = "boolean"
	TypeString  DataType = "string"
)

// Valid reports whether t is a known data type.
func (t DataType) Valid() bool {
	switch t {
	case TypeNumber, TypeBoolean, TypeString:
		return true
	}
	return false
}

// Quality is the collector's confidence in a value.
type Quality string

const (
	QualityGood      Quality = "good"
	QualityBad       Quality = "bad"
	QualityUncertain Quality = "uncertain"
)

// Valid reports whether q is a known quality.
func (q Quality) Valid() bool {
	switch q {
	case QualityGood, QualityBad, QualityUncertain:
		return true
	}
	return false
}

// Source names the tier a value was served from. It is reported to
// clients and never persisted.
type Source string

const (
	SourceCache     Source = "cache"
	SourceStore     Source = "store"
	SourceSynthetic Source = "synthetic"
)

// Value is one point value as returned by the retrieval cascade.
type Value struct {
	Key       string    `json:"key"`
	PointID   *int64    `json:"point_id,omitempty"`
	DeviceID  int64     `json:"device_id"`
	PointName string    `json:"point_name"`
	Value     any       `json:"value"`
	DataType  DataType  `json:"data_type"`
	Unit      string    `json:"unit,omitempty"`
	Quality   Quality   `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
}

// Record is the persisted form of a value, as written to the cache by the
// ingest. The key is carried by the storage location.
type Record struct {
	PointID   *int64    `json:"point_id,omitempty"`
	Value     any       `json:"value"`
	DataType  DataType  `json:"data_type"`
	Unit      string    `json:"unit,omitempty"`
	Quality   Quality   `json:"quality"`
	Timestamp time.Time `json:"timestamp"`
}

// ToValue attaches key identity and provenance to a record.
func (r Record) ToValue(k Key, src Source) Value {
	return Value{
		Key:       k.String(),
		PointID:   r.PointID,
		DeviceID:  k.DeviceID,
		PointName: k.PointName,
		Value:     r.Value,
		DataType:  r.DataType,
		Unit:      r.Unit,
		Quality:   r.Quality,
		Timestamp: r.Timestamp,
		Source:    src,
	}
}

// Point is a data point from the directory.
type Point struct {
	ID       int64
	TenantID string
	DeviceID int64
	Name     string
	DataType DataType
	Unit     string
}

// Key returns the canonical key of p.
func (p Point) Key() (string, error) {
	return ToKey(p.TenantID, p.DeviceID, p.Name)
}

// NormalizeValue coerces a decoded JSON or driver value into one of the
// three payload kinds and reports its data type. Integers become float64.
func NormalizeValue(v any) (any, DataType, error) {
	switch x := v.(type) {
	case bool:
		return x, TypeBoolean, nil
	case string:
		return x, TypeString, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidValue, x)
		}
		return x, TypeNumber, nil
	case float32:
		return NormalizeValue(float64(x))
	case int:
		return float64(x), TypeNumber, nil
	case int32:
		return float64(x), TypeNumber, nil
	case int64:
		return float64(x), TypeNumber, nil
	case uint32:
		return float64(x), TypeNumber, nil
	case uint64:
		return float64(x), TypeNumber, nil
	default:
		return nil, "", fmt.Errorf("%w: %T", ErrInvalidValue, v)
	}
}
