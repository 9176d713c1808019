package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func BenchmarkAdmit(b *testing.B) {
	for _, identities := range []int{1, 100, 10000} {
		b.Run(fmt.Sprintf("identities_%d", identities), func(b *testing.B) {
			r := NewRegistry(time.Minute)
			keys := make([]string, identities)
			for i := range keys {
				keys[i] = fmt.Sprintf("token-%d", i)
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				r.Admit(keys[i%identities], 1_000_000)
			}
		})
	}
}

func BenchmarkAdmitParallel(b *testing.B) {
	r := NewRegistry(time.Minute)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			r.Admit("default", 1_000_000)
		}
	})
}
