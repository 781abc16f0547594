package point

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		want     any
		wantType DataType
		wantErr  bool
	}{
		{"float", 21.5, 21.5, TypeNumber, false},
		{"int", 3, float64(3), TypeNumber, false},
		{"int64", int64(-4), float64(-4), TypeNumber, false},
		{"float32", float32(0.5), float64(0.5), TypeNumber, false},
		{"bool", true, true, TypeBoolean, false},
		{"string", "RUN", "RUN", TypeString, false},
		{"nan", math.NaN(), nil, "", true},
		{"inf", math.Inf(1), nil, "", true},
		{"nil", nil, nil, "", true},
		{"map", map[string]any{"a": 1}, nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dt, err := NormalizeValue(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidValue) {
					t.Fatalf("NormalizeValue() error = %v, want ErrInvalidValue", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeValue() error = %v", err)
			}
			if got != tt.want || dt != tt.wantType {
				t.Errorf("NormalizeValue() = (%v, %s), want (%v, %s)", got, dt, tt.want, tt.wantType)
			}
		})
	}
}

func TestRecord_ToValue(t *testing.T) {
	id := int64(42)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := Record{PointID: &id, Value: 21.5, DataType: TypeNumber, Unit: "°C", Quality: QualityGood, Timestamp: ts}

	v := rec.ToValue(Key{TenantID: "acme", DeviceID: 7, PointName: "temp"}, SourceCache)

	if v.Key != "acme:device:7:temp" {
		t.Errorf("Key = %q", v.Key)
	}
	if v.DeviceID != 7 || v.PointName != "temp" || *v.PointID != 42 {
		t.Errorf("identity = %+v", v)
	}
	if v.Source != SourceCache || !v.Timestamp.Equal(ts) {
		t.Errorf("provenance = %s at %v", v.Source, v.Timestamp)
	}
}

func TestEnumsValid(t *testing.T) {
	if !TypeString.Valid() || DataType("float").Valid() {
		t.Error("DataType.Valid() mismatch")
	}
	if !QualityUncertain.Valid() || Quality("GOOD").Valid() {
		t.Error("Quality.Valid() mismatch")
	}
}
