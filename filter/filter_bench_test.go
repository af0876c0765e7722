package filter

import (
	"fmt"
	"testing"
	"time"

	"github.com/dhcgn/dsar-redact/model"
)

// BenchmarkFilter_Allows benchmarks regex filtering of a typical message
func BenchmarkFilter_Allows(b *testing.B) {
	f, err := New(Options{ExcludeBody: []string{"unsubscribe", "(?i)newsletter", "automated message"}})
	if err != nil {
		b.Fatal(err)
	}
	msg := model.Message{
		Subject: "Load confirmation for Monday",
		Body:    "Confirmed for Monday, six pallets. POD to follow after delivery.",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows(msg)
	}
}

// BenchmarkDeduper_Seen benchmarks hashing and lookup across a growing set
func BenchmarkDeduper_Seen(b *testing.B) {
	d := NewDeduper()
	date := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Seen(model.Message{
			ID:      fmt.Sprintf("%d", i),
			Sender:  model.Party{Email: "a@example.com"},
			Subject: fmt.Sprintf("message %d", i),
			Date:    date,
		})
	}
}
