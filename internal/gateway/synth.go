package gateway

import (
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/nerrad567/pulse-gateway/internal/point"
)

// Synthesizer produces a placeholder value for a key no tier could serve.
// It always succeeds. Values it returns must carry source "synthetic".
type Synthesizer interface {
	Synthesize(k point.Key, now time.Time) point.Value
}

// synthRange is a plausible band for points whose name contains one of the hints.
type synthRange struct {
	hints    []string
	min, max float64
	unit     string
}

var synthRanges = []synthRange{
	{hints: []string{"temp"}, min: 18, max: 26, unit: "°C"},
	{hints: []string{"humid"}, min: 35, max: 65, unit: "%"},
	{hints: []string{"press"}, min: 1.0, max: 1.6, unit: "bar"},
	{hints: []string{"volt"}, min: 220, max: 240, unit: "V"},
	{hints: []string{"current", "amp"}, min: 0, max: 16, unit: "A"},
	{hints: []string{"power", "kw"}, min: 0, max: 50, unit: "kW"},
	{hints: []string{"flow"}, min: 0, max: 120, unit: "m3/h"},
	{hints: []string{"level"}, min: 0, max: 100, unit: "%"},
	{hints: []string{"speed", "rpm"}, min: 0, max: 3000, unit: "rpm"},
}

var synthBoolHints = []string{"status", "state", "alarm", "running", "enabled", "fault", "switch", "on_off"}

// HeuristicSynthesizer derives a value from the point name: booleans for
// status-like names, a bounded number for known measurands, otherwise a
// number in [0, 100). The value is stable for a key within one minute.
type HeuristicSynthesizer struct{}

// NewHeuristicSynthesizer returns the default synthesizer.
func NewHeuristicSynthesizer() *HeuristicSynthesizer {
	return &HeuristicSynthesizer{}
}

// Synthesize implements Synthesizer.
func (HeuristicSynthesizer) Synthesize(k point.Key, now time.Time) point.Value {
	name := strings.ToLower(k.PointName)
	seed := synthSeed(k, now)

	v := point.Value{
		Key:       k.String(),
		DeviceID:  k.DeviceID,
		PointName: k.PointName,
		Quality:   point.QualityUncertain,
		Timestamp: now.UTC(),
		Source:    point.SourceSynthetic,
	}

	for _, hint := range synthBoolHints {
		if strings.Contains(name, hint) {
			v.Value = seed < 0.5
			v.DataType = point.TypeBoolean
			return v
		}
	}

	v.DataType = point.TypeNumber
	v.Value = round2(seed * 100)
	for _, r := range synthRanges {
		for _, hint := range r.hints {
			if strings.Contains(name, hint) {
				v.Value = round2(r.min + seed*(r.max-r.min))
				v.Unit = r.unit
				return v
			}
		}
	}
	return v
}

// synthSeed maps (key, minute) to [0, 1).
func synthSeed(k point.Key, now time.Time) float64 {
	h := fnv.New64a()
	h.Write([]byte(k.String()))                                          //nolint:errcheck // hash.Hash never fails
	h.Write([]byte(now.UTC().Truncate(time.Minute).Format(time.RFC3339))) //nolint:errcheck // hash.Hash never fails
	return float64(h.Sum64()%1_000_000) / 1_000_000
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
