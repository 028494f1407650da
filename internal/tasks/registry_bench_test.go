package tasks

import (
	"strconv"
	"testing"
	"time"

	"github.com/ramiqadoumi/celery-exporter/internal/domain"
)

// BenchmarkRegistry_ApplyFull measures one upsert plus both aggregations on
// a registry at its default capacity, the cost paid for every event.
func BenchmarkRegistry_ApplyFull(b *testing.B) {
	r := NewRegistry(DefaultCapacity)
	names := []string{"app.add", "app.mul", "app.send_email", "app.resize"}
	for i := 0; i < DefaultCapacity; i++ {
		r.Apply(domain.Event{
			UUID:  "seed-" + strconv.Itoa(i),
			State: domain.StateReceived,
			Name:  names[i%len(names)],
		})
	}
	now := time.Now()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Apply(domain.Event{
			UUID:          "bench-" + strconv.Itoa(i),
			State:         domain.StateStarted,
			Name:          names[i%len(names)],
			LocalReceived: now,
		})
	}
}

// BenchmarkRegistry_Upsert measures the lookup-and-mutate path alone.
func BenchmarkRegistry_Upsert(b *testing.B) {
	r := NewRegistry(DefaultCapacity)
	evt := domain.Event{UUID: "bench-task", State: domain.StateReceived, Name: "app.add"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Upsert(evt)
	}
}
