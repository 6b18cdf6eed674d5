package metrics

import (
	"context"
	"sort"
	"strconv"

	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mjasion/balena-home/bthome/pkg/types"
)

// Metric names written to remote_write.
const (
	MetricTemperature    = "bthome_temperature_celsius"
	MetricHumidity       = "bthome_humidity_percent"
	MetricBatteryLevel   = "bthome_battery_percent"
	MetricBatteryVoltage = "bthome_battery_volts"
	MetricRSSI           = "bthome_rssi_dbm"
)

type sensorKey struct {
	name string
	id   int
	mac  string
}

// field extracts one value of a reading; ok is false when it's absent.
type field struct {
	metric string
	value  func(r types.Reading) (float64, bool)
}

func optional(get func(r types.Reading) *float64) func(r types.Reading) (float64, bool) {
	return func(r types.Reading) (float64, bool) {
		v := get(r)
		if v == nil {
			return 0, false
		}
		return *v, true
	}
}

var measurementFields = []field{
	{metric: MetricTemperature, value: optional(func(r types.Reading) *float64 { return r.Temperature })},
	{metric: MetricHumidity, value: optional(func(r types.Reading) *float64 { return r.Humidity })},
	{metric: MetricBatteryLevel, value: optional(func(r types.Reading) *float64 { return r.BatteryLevel })},
	{metric: MetricBatteryVoltage, value: optional(func(r types.Reading) *float64 { return r.BatteryVoltage })},
}

var signalFields = []field{
	{metric: MetricRSSI, value: func(r types.Reading) (float64, bool) { return float64(r.RSSI), r.RSSI != 0 }},
}

// BuildMeasurementTimeSeries builds one series per sensor and measurement.
// Measurements a frame does not carry produce no sample.
func BuildMeasurementTimeSeries(ctx context.Context, readings []types.Reading) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildMeasurementTimeSeries")
	defer span.End()

	ts := buildSeries(readings, measurementFields)

	span.SetAttributes(attribute.Int("metrics.measurement_time_series_count", len(ts)))
	span.SetStatus(codes.Ok, "measurement time series built")
	return ts, nil
}

// BuildSignalTimeSeries builds the per-sensor RSSI series.
func BuildSignalTimeSeries(ctx context.Context, readings []types.Reading) ([]prompb.TimeSeries, error) {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildSignalTimeSeries")
	defer span.End()

	ts := buildSeries(readings, signalFields)

	span.SetAttributes(attribute.Int("metrics.signal_time_series_count", len(ts)))
	span.SetStatus(codes.Ok, "signal time series built")
	return ts, nil
}

// CombineBuilders combines multiple time series builders into one
func CombineBuilders(builders ...TimeSeriesBuilder) TimeSeriesBuilder {
	return func(ctx context.Context, readings []types.Reading) ([]prompb.TimeSeries, error) {
		var all []prompb.TimeSeries
		for _, builder := range builders {
			if builder == nil {
				continue
			}
			ts, err := builder(ctx, readings)
			if err != nil {
				return nil, err
			}
			all = append(all, ts...)
		}
		return all, nil
	}
}

func buildSeries(readings []types.Reading, fields []field) []prompb.TimeSeries {
	grouped := make(map[sensorKey][]types.Reading)
	var keys []sensorKey
	for _, r := range readings {
		key := sensorKey{name: r.SensorName, id: r.SensorID, mac: r.MAC}
		if _, ok := grouped[key]; !ok {
			keys = append(keys, key)
		}
		grouped[key] = append(grouped[key], r)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].id != keys[j].id {
			return keys[i].id < keys[j].id
		}
		return keys[i].mac < keys[j].mac
	})

	var timeSeries []prompb.TimeSeries
	for _, key := range keys {
		for _, f := range fields {
			samples := collectSamples(grouped[key], f)
			if len(samples) == 0 {
				continue
			}
			timeSeries = append(timeSeries, prompb.TimeSeries{
				Labels: []prompb.Label{
					{Name: "__name__", Value: f.metric},
					{Name: "mac", Value: key.mac},
					{Name: "sensor_id", Value: strconv.Itoa(key.id)},
					{Name: "sensor_name", Value: key.name},
				},
				Samples: samples,
			})
		}
	}

	return timeSeries
}

// collectSamples returns samples ordered by timestamp, keeping only the
// latest reading for equal timestamps.
func collectSamples(readings []types.Reading, f field) []prompb.Sample {
	var samples []prompb.Sample
	for _, r := range readings {
		v, ok := f.value(r)
		if !ok {
			continue
		}
		samples = append(samples, prompb.Sample{Value: v, Timestamp: r.Timestamp.UnixMilli()})
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp < samples[j].Timestamp
	})

	out := samples[:0]
	for _, s := range samples {
		if n := len(out); n > 0 && out[n-1].Timestamp == s.Timestamp {
			out[n-1] = s
			continue
		}
		out = append(out, s)
	}
	return out
}
