package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/jengzang/hexmap-backend-go/internal/models"
)

// Schema describes how rows of one dataset kind map onto models.RawRecord.
// Keys are tried in order; the first present key wins.
type Schema struct {
	IDKeys    []string
	ValueKeys []string
	YearKeys  []string
	TimeKeys  []string
	// DefaultValue is used when a row carries no value. NaN makes the
	// value mandatory.
	DefaultValue float64
	RequireYear  bool
}

var (
	idKeys   = []string{"h3", "h", "cell", "id"}
	yearKeys = []string{"year", "y", "time_year", "date_year"}
	timeKeys = []string{"timestamp", "ts", "date", "datetime"}
)

// RiskSchema reads probability-like rows: [id, p] arrays or objects.
var RiskSchema = Schema{
	IDKeys:       idKeys,
	ValueKeys:    []string{"value", "p", "probability", "risk"},
	YearKeys:     yearKeys,
	TimeKeys:     timeKeys,
	DefaultValue: math.NaN(),
}

// CountSchema reads event rows with a year; a row without count counts once.
var CountSchema = Schema{
	IDKeys:       idKeys,
	ValueKeys:    []string{"count", "value"},
	YearKeys:     yearKeys,
	TimeKeys:     timeKeys,
	DefaultValue: 1,
	RequireYear:  true,
}

// SchemaFor returns the schema for a layer kind ("risk" or "counts").
func SchemaFor(kind string) (Schema, error) {
	switch kind {
	case "risk":
		return RiskSchema, nil
	case "counts":
		return CountSchema, nil
	default:
		return Schema{}, fmt.Errorf("unknown layer kind %q", kind)
	}
}

// Meta is the payload's optional freshness information.
type Meta struct {
	UpdatedAt string    `json:"updated_at,omitempty"`
	Updated   time.Time `json:"-"`
}

// Payload is a decoded and normalized input document.
type Payload struct {
	Rows    []models.RawRecord
	Meta    Meta
	Skipped int // rows dropped during normalization
}

var gzipMagic = []byte{0x1f, 0x8b}

// Unpack gunzips raw when it starts with the gzip magic and strips a UTF-8
// byte order mark. Bytes that look gzipped but fail to inflate are used as is.
func Unpack(raw []byte) []byte {
	data := raw
	if bytes.HasPrefix(raw, gzipMagic) {
		if out, err := gunzip(raw); err == nil {
			data = out
		}
	}
	return bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
}

func gunzip(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// Decode unpacks, parses and normalizes a payload.
func Decode(raw []byte, schema Schema) (*Payload, error) {
	doc, err := ParseDocument(Unpack(raw))
	if err != nil {
		return nil, err
	}
	rows, err := extractRows(doc)
	if err != nil {
		return nil, err
	}
	records, skipped := Normalize(rows, schema)
	p := &Payload{Rows: records, Skipped: skipped, Meta: extractMeta(doc)}
	if len(records) == 0 {
		return p, fmt.Errorf("%w: %d rows skipped", ErrNoRows, skipped)
	}
	return p, nil
}

// ParseDocument parses text as strict JSON, then as a comma separated list
// wrapped in brackets, then as newline-delimited JSON.
func ParseDocument(text []byte) (any, error) {
	var doc any
	strictErr := json.Unmarshal(text, &doc)
	if strictErr == nil {
		return doc, nil
	}

	trimmed := bytes.TrimSpace(text)
	trimmed = bytes.TrimPrefix(trimmed, []byte(","))
	trimmed = bytes.TrimSuffix(trimmed, []byte(","))
	wrapped := make([]byte, 0, len(trimmed)+2)
	wrapped = append(wrapped, '[')
	wrapped = append(wrapped, trimmed...)
	wrapped = append(wrapped, ']')
	if err := json.Unmarshal(wrapped, &doc); err == nil {
		return doc, nil
	}

	var lines []any
	sc := bufio.NewScanner(bytes.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v (strict: %v)", ErrParse, n, err, strictErr)
		}
		lines = append(lines, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrParse, strictErr)
	}
	return lines, nil
}

func extractRows(doc any) ([]any, error) {
	switch v := doc.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, k := range []string{"data", "records", "rows"} {
			if rows, ok := v[k].([]any); ok {
				return rows, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: expected array or {data|records|rows:[...]}", ErrParse)
}

func extractMeta(doc any) Meta {
	obj, ok := doc.(map[string]any)
	if !ok {
		return Meta{}
	}
	meta, _ := obj["meta"].(map[string]any)
	for _, c := range []struct {
		m   map[string]any
		key string
	}{
		{meta, "weather_datetime"},
		{obj, "weather_datetime"},
		{meta, "updated_at"},
		{obj, "updated_at"},
	} {
		if c.m == nil {
			continue
		}
		if s, ok := c.m[c.key].(string); ok && s != "" {
			return NewMeta(s)
		}
	}
	return Meta{}
}

// NewMeta wraps a freshness timestamp, parsing it when possible.
func NewMeta(updatedAt string) Meta {
	m := Meta{UpdatedAt: updatedAt}
	if ts, ok := parseTime(updatedAt); ok {
		m.Updated = time.Unix(ts, 0).UTC()
	}
	return m
}

// Normalize converts raw JSON rows into records, dropping rows without an
// id, without a finite value, with an unparsable timestamp, or (when the
// schema requires it) without a year.
func Normalize(rows []any, schema Schema) ([]models.RawRecord, int) {
	out := make([]models.RawRecord, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		rec, ok := normalizeRow(row, schema)
		if !ok {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	return out, skipped
}

func normalizeRow(row any, schema Schema) (models.RawRecord, bool) {
	var (
		id          string
		value       = schema.DefaultValue
		year        int
		ts          int64
		rawVal      any
		rawY, rawTS any
	)
	switch v := row.(type) {
	case []any:
		if len(v) == 0 {
			return models.RawRecord{}, false
		}
		id = cellID(v[0])
		if len(v) > 1 {
			rawVal = v[1]
		}
		if len(v) > 2 {
			rawTS = v[2]
		}
	case map[string]any:
		id = cellID(first(v, schema.IDKeys))
		rawVal = first(v, schema.ValueKeys)
		rawY = first(v, schema.YearKeys)
		rawTS = first(v, schema.TimeKeys)
	default:
		return models.RawRecord{}, false
	}

	if id == "" {
		return models.RawRecord{}, false
	}
	if rawVal != nil {
		f, ok := asFloat(rawVal)
		if !ok {
			return models.RawRecord{}, false
		}
		value = f
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return models.RawRecord{}, false
	}
	if rawTS != nil {
		t, ok := asTime(rawTS)
		if !ok {
			return models.RawRecord{}, false
		}
		ts = t
	}
	if rawY != nil {
		f, ok := asFloat(rawY)
		if !ok {
			return models.RawRecord{}, false
		}
		year = int(f)
	} else if ts != 0 {
		year = time.Unix(ts, 0).UTC().Year()
	}
	if schema.RequireYear && year == 0 {
		return models.RawRecord{}, false
	}
	return models.RawRecord{CellID: id, Value: value, Year: year, Time: ts}, true
}

func first(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// cellID reads a cell id in its canonical lower-case form.
func cellID(v any) string {
	switch s := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(s))
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func asFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case bool:
		if n {
			f = 1
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// asTime returns Unix seconds. Numbers above 1e12 are taken as milliseconds.
func asTime(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		if math.Abs(t) > 1e12 {
			t /= 1000
		}
		return int64(t), true
	case string:
		return parseTime(t)
	default:
		return 0, false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTime(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return asTime(f)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}
