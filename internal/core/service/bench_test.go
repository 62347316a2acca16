package service_test

import (
	"context"
	"testing"

	"github.com/yndnr/captoken-go/internal/core/service"
)

func BenchmarkIssue(b *testing.B) {
	h := newHarness(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.svc.Issue(ctx, learnerAccess()); err != nil {
			b.Fatalf("Issue: %v", err)
		}
	}
}

func BenchmarkValidate(b *testing.B) {
	h := newHarness(b)
	ctx := context.Background()
	res, err := h.svc.Issue(ctx, learnerAccess())
	if err != nil {
		b.Fatalf("Issue: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.svc.Validate(ctx, res.Value, ""); err != nil {
			b.Fatalf("Validate: %v", err)
		}
	}
}

func BenchmarkConsume_Unlimited(b *testing.B) {
	h := newHarness(b)
	ctx := context.Background()
	res, err := h.svc.Issue(ctx, learnerAccess())
	if err != nil {
		b.Fatalf("Issue: %v", err)
	}
	req := &service.ConsumeRequest{Value: res.Value}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := h.svc.Consume(ctx, req); err != nil {
			b.Fatalf("Consume: %v", err)
		}
	}
}

// Contended consumption of one token exercises the store's
// compare-and-swap path.
func BenchmarkConsume_Parallel(b *testing.B) {
	h := newHarness(b)
	ctx := context.Background()
	res, err := h.svc.Issue(ctx, learnerAccess())
	if err != nil {
		b.Fatalf("Issue: %v", err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		req := &service.ConsumeRequest{Value: res.Value}
		for pb.Next() {
			if _, err := h.svc.Consume(ctx, req); err != nil {
				b.Errorf("Consume: %v", err)
				return
			}
		}
	})
}
