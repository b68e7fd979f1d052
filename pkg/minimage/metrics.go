package minimage

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts store activity locally and mirrors it to OpenTelemetry
// counters on the global meter provider.
type Metrics struct {
	uploads      atomic.Int64
	uploadBytes  atomic.Int64
	downloads    atomic.Int64
	notFound     atomic.Int64
	deletes      atomic.Int64
	reaped       atomic.Int64
	reapFailures atomic.Int64

	otelUploads      metric.Int64Counter
	otelUploadBytes  metric.Int64Counter
	otelDownloads    metric.Int64Counter
	otelNotFound     metric.Int64Counter
	otelDeletes      metric.Int64Counter
	otelReaped       metric.Int64Counter
	otelReapFailures metric.Int64Counter
}

// MetricsSnapshot is a point-in-time copy of the counters
type MetricsSnapshot struct {
	Uploads      int64 `json:"uploads"`
	UploadBytes  int64 `json:"upload_bytes"`
	Downloads    int64 `json:"downloads"`
	NotFound     int64 `json:"not_found"`
	Deletes      int64 `json:"deletes"`
	Reaped       int64 `json:"reaped"`
	ReapFailures int64 `json:"reap_failures"`
}

func NewMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter("minimage")
	m := &Metrics{}
	m.otelUploads = counter(meter, "minimage.uploads", "Images stored")
	m.otelUploadBytes = counter(meter, "minimage.upload.bytes", "Bytes stored")
	m.otelDownloads = counter(meter, "minimage.downloads", "Images served")
	m.otelNotFound = counter(meter, "minimage.not_found", "Reads of missing or expired images")
	m.otelDeletes = counter(meter, "minimage.deletes", "Explicit deletes")
	m.otelReaped = counter(meter, "minimage.reaped", "Expired images reclaimed")
	m.otelReapFailures = counter(meter, "minimage.reap.failures", "Expired images that failed to reclaim")
	return m
}

// counter returns nil when the provider refuses the instrument; add skips nil.
func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return nil
	}
	return c
}

func add(ctx context.Context, local *atomic.Int64, c metric.Int64Counter, n int64) {
	local.Add(n)
	if c != nil {
		c.Add(ctx, n)
	}
}

func (m *Metrics) recordUpload(ctx context.Context, size int64) {
	add(ctx, &m.uploads, m.otelUploads, 1)
	add(ctx, &m.uploadBytes, m.otelUploadBytes, size)
}

func (m *Metrics) recordDownload(ctx context.Context) {
	add(ctx, &m.downloads, m.otelDownloads, 1)
}

func (m *Metrics) recordNotFound(ctx context.Context) {
	add(ctx, &m.notFound, m.otelNotFound, 1)
}

func (m *Metrics) recordDelete(ctx context.Context) {
	add(ctx, &m.deletes, m.otelDeletes, 1)
}

func (m *Metrics) recordReap(ctx context.Context, res *ReapResult) {
	add(ctx, &m.reaped, m.otelReaped, int64(res.Deleted))
	add(ctx, &m.reapFailures, m.otelReapFailures, int64(res.Failed))
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Uploads:      m.uploads.Load(),
		UploadBytes:  m.uploadBytes.Load(),
		Downloads:    m.downloads.Load(),
		NotFound:     m.notFound.Load(),
		Deletes:      m.deletes.Load(),
		Reaped:       m.reaped.Load(),
		ReapFailures: m.reapFailures.Load(),
	}
}
