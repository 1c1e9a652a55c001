package logbuffer

import (
	"bytes"
	"testing"
	"time"
)

func TestRingWrapsInOrder(t *testing.T) {
	b := New(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.Add(LogEntry{Message: msg})
	}
	all := b.GetAll()
	if len(all) != 3 || all[0].Message != "b" || all[2].Message != "d" {
		t.Fatalf("entries = %+v", all)
	}
	b.Clear()
	if len(b.GetAll()) != 0 {
		t.Fatal("clear left entries")
	}
}

func TestQueryFilters(t *testing.T) {
	b := New(10)
	b.Record("warn", "renderer", "action failed", map[string]interface{}{"location": "http://r1/avt.xml", "action": "Play"})
	b.Record("warn", "dispatch", "unknown action", map[string]interface{}{"service": "AVTransport", "action": "Record"})
	b.Record("info", "discovery", "service added", nil)

	tests := []struct {
		name   string
		params QueryParams
		want   int
	}{
		{"all", QueryParams{}, 3},
		{"level", QueryParams{Level: "warn"}, 2},
		{"component", QueryParams{Component: "dispatch"}, 1},
		{"location", QueryParams{Location: "http://r1/avt.xml"}, 1},
		{"search field", QueryParams{Search: "RECORD"}, 1},
		{"search message", QueryParams{Search: "added"}, 1},
		{"limit", QueryParams{Limit: 2}, 2},
		{"since", QueryParams{Since: time.Now().Add(time.Hour)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(b.Query(tt.params)); got != tt.want {
				t.Fatalf("got %d entries, want %d", got, tt.want)
			}
		})
	}

	desc := b.Query(QueryParams{Descending: true})
	if desc[0].Component != "discovery" {
		t.Fatalf("descending first = %+v", desc[0])
	}

	stats := b.Stats(QueryParams{Level: "warn"})
	if stats.Count != 2 || len(stats.Components) != 2 || stats.Components[0] != "dispatch" {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWriterParsesZerologLines(t *testing.T) {
	b := New(10)
	var out bytes.Buffer
	w := NewWriter(b, &out)
	line := []byte(`{"level":"warn","component":"renderer","location":"http://r1","time":"2026-01-02T03:04:05Z","message":"poll failed"}` + "\n")
	if _, err := w.Write(line); err != nil {
		t.Fatal(err)
	}
	if out.Len() != len(line) {
		t.Fatal("fallback not written")
	}
	e := b.GetAll()[0]
	if e.Level != "warn" || e.Component != "renderer" || e.Message != "poll failed" || e.Fields["location"] != "http://r1" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Timestamp.Year() != 2026 {
		t.Fatalf("timestamp = %v", e.Timestamp)
	}
}
