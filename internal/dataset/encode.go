package dataset

import (
	"fmt"
	"io"
	"math"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/jengzang/hexmap-backend-go/internal/models"
)

type encodedMeta struct {
	WeatherDatetime string `json:"weather_datetime,omitempty"`
}

type encodedPayload struct {
	Data [][2]any     `json:"data"`
	Meta *encodedMeta `json:"meta,omitempty"`
}

// ClipProbability bounds v to [0, 1]. ok is false for NaN and infinities.
func ClipProbability(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return math.Min(1, math.Max(0, v)), true
}

// Encode writes records as a gzipped {"data":[[h3,p]],"meta":{...}} payload.
// Values are clipped to [0, 1]; non-finite values and empty ids are dropped.
// It returns the number of rows written.
func Encode(w io.Writer, records []models.RawRecord, updatedAt string) (int, error) {
	p := encodedPayload{Data: make([][2]any, 0, len(records))}
	for _, rec := range records {
		v, ok := ClipProbability(rec.Value)
		if !ok || rec.CellID == "" {
			continue
		}
		p.Data = append(p.Data, [2]any{rec.CellID, v})
	}
	if updatedAt != "" {
		p.Meta = &encodedMeta{WeatherDatetime: updatedAt}
	}

	zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return 0, err
	}
	if err := json.NewEncoder(zw).Encode(p); err != nil {
		zw.Close()
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush payload: %w", err)
	}
	return len(p.Data), nil
}
