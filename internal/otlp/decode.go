package otlp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DecodeError reports a malformed telemetry payload. Callers log it and
// move on to the next payload; it is never fatal.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s payload: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AttrKind is the declared type of an attribute value.
type AttrKind int

const (
	KindString AttrKind = iota
	KindInt
	KindDouble
	KindBool
)

// AttrValue is a single typed attribute value.
type AttrValue struct {
	Kind   AttrKind
	Str    string
	Int    int64
	Double float64
	Bool   bool
}

// AttrMap is a string-keyed typed attribute map. Lookup methods take an
// ordered list of candidate key names; the first present key wins. Source
// versions disagree on key spellings, so every caller probes aliases.
type AttrMap map[string]AttrValue

// Str returns the first present key as a string. Int and double values
// are formatted; bools are not converted.
func (m AttrMap) Str(keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch v.Kind {
		case KindString:
			return v.Str, true
		case KindInt:
			return strconv.FormatInt(v.Int, 10), true
		case KindDouble:
			return strconv.FormatFloat(v.Double, 'f', -1, 64), true
		}
	}
	return "", false
}

// Int returns the first present key as an int64. String values that parse
// as integers are accepted; doubles are truncated.
func (m AttrMap) Int(keys ...string) (int64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch v.Kind {
		case KindInt:
			return v.Int, true
		case KindDouble:
			return int64(v.Double), true
		case KindString:
			if n, err := strconv.ParseInt(v.Str, 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// Float returns the first present key as a float64.
func (m AttrMap) Float(keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch v.Kind {
		case KindDouble:
			return v.Double, true
		case KindInt:
			return float64(v.Int), true
		case KindString:
			if f, err := strconv.ParseFloat(v.Str, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// Bool returns the first present key as a bool. String "true"/"false"
// values are accepted.
func (m AttrMap) Bool(keys ...string) (bool, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch v.Kind {
		case KindBool:
			return v.Bool, true
		case KindString:
			if b, err := strconv.ParseBool(v.Str); err == nil {
				return b, true
			}
		}
	}
	return false, false
}

// LogRecord is one decoded telemetry log event.
type LogRecord struct {
	Body  string
	Time  time.Time
	Attrs AttrMap
}

// MetricPoint is one decoded metric data point.
type MetricPoint struct {
	Name  string
	Value float64
	Time  time.Time
	Attrs AttrMap
}

// OTLP/JSON wire shapes. Only the fields the normalizer consumes are
// declared; everything else is ignored.

type anyValue struct {
	StringValue *string  `json:"stringValue,omitempty"`
	IntValue    *string  `json:"intValue,omitempty"` // int64 as string per OTLP/JSON
	DoubleValue *float64 `json:"doubleValue,omitempty"`
	BoolValue   *bool    `json:"boolValue,omitempty"`
}

type keyValue struct {
	Key   string   `json:"key"`
	Value anyValue `json:"value"`
}

type logRecordJSON struct {
	TimeUnixNano         string     `json:"timeUnixNano"`
	ObservedTimeUnixNano string     `json:"observedTimeUnixNano"`
	Body                 *anyValue  `json:"body,omitempty"`
	Attributes           []keyValue `json:"attributes"`
}

type scopeLogsJSON struct {
	LogRecords []logRecordJSON `json:"logRecords"`
}

type resourceLogsJSON struct {
	ScopeLogs []scopeLogsJSON `json:"scopeLogs"`
}

type logsPayload struct {
	ResourceLogs []resourceLogsJSON `json:"resourceLogs"`
}

type dataPointJSON struct {
	TimeUnixNano string     `json:"timeUnixNano"`
	AsDouble     *float64   `json:"asDouble,omitempty"`
	AsInt        *string    `json:"asInt,omitempty"`
	Attributes   []keyValue `json:"attributes"`
}

type sumJSON struct {
	DataPoints []dataPointJSON `json:"dataPoints"`
}

type metricJSON struct {
	Name  string   `json:"name"`
	Sum   *sumJSON `json:"sum,omitempty"`
	Gauge *sumJSON `json:"gauge,omitempty"`
}

type scopeMetricsJSON struct {
	Metrics []metricJSON `json:"metrics"`
}

type resourceMetricsJSON struct {
	ScopeMetrics []scopeMetricsJSON `json:"scopeMetrics"`
}

type metricsPayload struct {
	ResourceMetrics []resourceMetricsJSON `json:"resourceMetrics"`
}

// DecodeLogs parses an OTLP/JSON logs payload into a flat record list.
func DecodeLogs(data []byte) ([]LogRecord, error) {
	var payload logsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &DecodeError{What: "logs", Err: err}
	}

	var records []LogRecord
	for _, rl := range payload.ResourceLogs {
		for _, sl := range rl.ScopeLogs {
			for _, lr := range sl.LogRecords {
				rec := LogRecord{
					Attrs: attrsToMap(lr.Attributes),
					Time:  parseUnixNano(lr.TimeUnixNano, lr.ObservedTimeUnixNano),
				}
				if lr.Body != nil && lr.Body.StringValue != nil {
					rec.Body = *lr.Body.StringValue
				}
				records = append(records, rec)
			}
		}
	}
	return records, nil
}

// DecodeMetrics parses an OTLP/JSON metrics payload into a flat point list.
// Sum and gauge data points are both flattened; other metric kinds are
// ignored.
func DecodeMetrics(data []byte) ([]MetricPoint, error) {
	var payload metricsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &DecodeError{What: "metrics", Err: err}
	}

	var points []MetricPoint
	for _, rm := range payload.ResourceMetrics {
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				for _, src := range []*sumJSON{m.Sum, m.Gauge} {
					if src == nil {
						continue
					}
					for _, dp := range src.DataPoints {
						p := MetricPoint{
							Name:  m.Name,
							Attrs: attrsToMap(dp.Attributes),
							Time:  parseUnixNano(dp.TimeUnixNano, ""),
						}
						if dp.AsDouble != nil {
							p.Value = *dp.AsDouble
						} else if dp.AsInt != nil {
							if n, err := strconv.ParseInt(*dp.AsInt, 10, 64); err == nil {
								p.Value = float64(n)
							}
						}
						points = append(points, p)
					}
				}
			}
		}
	}
	return points, nil
}

func attrsToMap(kvs []keyValue) AttrMap {
	m := make(AttrMap, len(kvs))
	for _, kv := range kvs {
		switch {
		case kv.Value.StringValue != nil:
			m[kv.Key] = AttrValue{Kind: KindString, Str: *kv.Value.StringValue}
		case kv.Value.IntValue != nil:
			n, err := strconv.ParseInt(*kv.Value.IntValue, 10, 64)
			if err != nil {
				continue
			}
			m[kv.Key] = AttrValue{Kind: KindInt, Int: n}
		case kv.Value.DoubleValue != nil:
			m[kv.Key] = AttrValue{Kind: KindDouble, Double: *kv.Value.DoubleValue}
		case kv.Value.BoolValue != nil:
			m[kv.Key] = AttrValue{Kind: KindBool, Bool: *kv.Value.BoolValue}
		}
	}
	return m
}

func parseUnixNano(primary, fallback string) time.Time {
	for _, s := range []string{primary, fallback} {
		if s == "" {
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			return time.Unix(0, n)
		}
	}
	return time.Time{}
}
