package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestParseHeaders(t *testing.T) {
	cases := []struct {
		raw  string
		want map[string]string
	}{
		{"", nil},
		{"  ", nil},
		{"authorization=Bearer abc", map[string]string{"authorization": "Bearer abc"}},
		{"a=1, b = 2 ,broken,=x,c=", map[string]string{"a": "1", "b": "2"}},
		{"k=v=w", map[string]string{"k": "v=w"}},
	}
	for _, tc := range cases {
		if diff := cmp.Diff(tc.want, ParseHeaders(tc.raw)); diff != "" {
			t.Fatalf("ParseHeaders(%q) (-want +got):\n%s", tc.raw, diff)
		}
	}
}

func TestSampleRatio(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0.1, 0: 0.1, 0.25: 0.25, 1: 1, 7: 1} {
		if got := clampRatio(in); got != want {
			t.Fatalf("clampRatio(%v): want=%v got=%v", in, want, got)
		}
	}
	t.Setenv("OTEL_SAMPLER_RATIO", "0.5")
	if got := SampleRatioFromEnv(); got != 0.5 {
		t.Fatalf("env ratio: want=0.5 got=%v", got)
	}
	t.Setenv("OTEL_SAMPLER_RATIO", "lots")
	if got := SampleRatioFromEnv(); got != 0.1 {
		t.Fatalf("bad env ratio: want=0.1 got=%v", got)
	}
}

func TestEnabled(t *testing.T) {
	for v, want := range map[string]bool{"": false, "true": true, "YES": true, "1": true, "0": false} {
		t.Setenv("METRICS_ENABLED", v)
		if got := Enabled(); got != want {
			t.Fatalf("METRICS_ENABLED=%q: want=%v got=%v", v, want, got)
		}
	}
}

func TestRecorders(t *testing.T) {
	before := promtest.ToFloat64(commits.WithLabelValues("conflict"))
	RecordCommit("conflict", time.Millisecond)
	if got := promtest.ToFloat64(commits.WithLabelValues("conflict")); got != before+1 {
		t.Fatalf("commits: want=%v got=%v", before+1, got)
	}

	before = promtest.ToFloat64(cacheLookups.WithLabelValues("memory", "hit"))
	RecordCacheLookup("memory", "hit")
	if got := promtest.ToFloat64(cacheLookups.WithLabelValues("memory", "hit")); got != before+1 {
		t.Fatalf("cache lookups: want=%v got=%v", before+1, got)
	}

	APIInflightInc()
	if got := promtest.ToFloat64(apiInflight); got != 1 {
		t.Fatalf("inflight: want=1 got=%v", got)
	}
	APIInflightDec()

	failing := func() (err error) {
		defer ObserveOperation("get_item", time.Now(), &err)
		return errors.New("boom")
	}
	if err := failing(); err == nil {
		t.Fatalf("ObserveOperation must not swallow the error")
	}
	if n := promtest.CollectAndCount(operations, "splitstore_store_operation_seconds"); n == 0 {
		t.Fatalf("operation histogram: want samples")
	}
}
