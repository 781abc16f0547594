package ingest

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// ValueBatch is the payload published by the collector for one device.
//
// DeviceID is optional; when present it must match the topic. A point
// without its own timestamp inherits the batch timestamp, and a batch
// without one is stamped on receipt.
type ValueBatch struct {
	DeviceID  *int64       `json:"device_id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Points    []PointValue `json:"points" validate:"required,min=1,dive"`
}

// PointValue is one reading inside a ValueBatch.
type PointValue struct {
	PointID   *int64     `json:"point_id,omitempty"`
	Name      string     `json:"name" validate:"required,max=128"`
	Value     any        `json:"value"`
	DataType  string     `json:"data_type,omitempty" validate:"omitempty,oneof=number boolean string"`
	Unit      string     `json:"unit,omitempty" validate:"max=32"`
	Quality   string     `json:"quality,omitempty" validate:"omitempty,oneof=good bad uncertain"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeBatch parses and validates a raw payload.
func decodeBatch(payload []byte) (ValueBatch, error) {
	var batch ValueBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return ValueBatch{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if err := validate.Struct(batch); err != nil {
		return ValueBatch{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return batch, nil
}
