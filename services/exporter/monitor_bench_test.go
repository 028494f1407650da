package exporter

import (
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/ramiqadoumi/celery-exporter/internal/tasks"
	"github.com/ramiqadoumi/celery-exporter/pkg/telemetry"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// BenchmarkMonitor_Process measures classification, registry update and
// metric projection for a received/started/succeeded lifecycle, excluding I/O.
func BenchmarkMonitor_Process(b *testing.B) {
	m := telemetry.NewMetrics("")
	projector := NewProjector(m)
	mon := NewMonitor(&fakeSource{}, tasks.NewRegistry(tasks.DefaultCapacity), projector,
		NewBaseline(&fakeInspector{}, projector, m, time.Second, discardLogger),
		WithMonitorLogger(discardLogger),
	)
	at := float64(time.Now().Unix())

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := "bench-" + strconv.Itoa(i)
		mon.Process(rawEvent("task-received", id, at, map[string]any{"name": "app.add"}))
		mon.Process(rawEvent("task-started", id, at+0.01, nil))
		mon.Process(rawEvent("task-succeeded", id, at+0.02, map[string]any{"runtime": 0.01}))
	}
}
