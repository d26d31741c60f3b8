package permit_test

import (
	"context"
	"testing"

	"github.com/oarkflow/permit"
)

func BenchmarkHasPermissionCached(b *testing.B) {
	ctx := context.Background()
	engine, _ := newEventEngine(b)
	engine.HasPermission(ctx, 5, "events.read")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.HasPermission(ctx, 5, "events.read")
	}
}

func BenchmarkHasPermissionUncached(b *testing.B) {
	ctx := context.Background()
	engine, _ := newEventEngine(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = engine.InvalidateLocal(ctx, 5)
		engine.HasPermission(ctx, 5, "events.read")
	}
}

func BenchmarkCompositePolicy(b *testing.B) {
	ctx := context.Background()
	engine, _ := newEventEngine(b)
	p := permit.MustParsePolicyExpr("role:any:designer,organizer; menu:all:3; resource:events:read; ?permission:any:events.update")
	engine.Evaluate(ctx, 12, p)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Evaluate(ctx, 12, p)
	}
}

func BenchmarkExplain(b *testing.B) {
	ctx := context.Background()
	engine, _ := newEventEngine(b)
	p := permit.MustParsePolicyExpr("role:any:designer; permission:all:events.read,events.create")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = engine.Explain(ctx, 5, p)
	}
}

func BenchmarkHasPermissionParallel(b *testing.B) {
	ctx := context.Background()
	engine, _ := newEventEngine(b)
	principals := []int64{5, 9, 11, 12}
	for _, id := range principals {
		_ = engine.Prime(ctx, id, 0)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			engine.HasPermission(ctx, principals[i%len(principals)], "events.update")
			i++
		}
	})
}
