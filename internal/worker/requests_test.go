package worker

import (
	"testing"
	"time"
)

func TestRequestRoundTrip(t *testing.T) {
	dir := t.TempDir()

	if err := WriteRequest(dir, RequestCancel, "abc123"); err != nil {
		t.Fatalf("WriteRequest failed: %v", err)
	}
	if err := WriteRequest(dir, RequestCancel, "def456"); err != nil {
		t.Fatal(err)
	}
	if err := WriteRequest(dir, RequestReset, "abc123"); err != nil {
		t.Fatal(err)
	}

	cancels := consumeRequests(dir, RequestCancel)
	if len(cancels) != 2 {
		t.Fatalf("consumed %v cancel requests, want 2", cancels)
	}

	resets := consumeRequests(dir, RequestReset)
	if len(resets) != 1 || resets[0] != "abc123" {
		t.Fatalf("consumed %v reset requests, want [abc123]", resets)
	}

	// Consuming removes the markers.
	if again := consumeRequests(dir, RequestCancel); len(again) != 0 {
		t.Errorf("cancel requests consumed twice: %v", again)
	}
}

func TestRequestsAreIdempotentPerTask(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		if err := WriteRequest(dir, RequestCancel, "abc123"); err != nil {
			t.Fatal(err)
		}
	}
	got := consumeRequests(dir, RequestCancel)
	if len(got) != 1 || got[0] != "abc123" {
		t.Fatalf("consumed %v, want single abc123", got)
	}
}

func TestStopRequestRoundTrip(t *testing.T) {
	dir := t.TempDir()

	if req := loadStopRequest(dir); req != nil {
		t.Fatalf("stop request present before any was written: %+v", req)
	}

	if err := RequestStop(dir, 45*time.Second); err != nil {
		t.Fatalf("RequestStop failed: %v", err)
	}
	req := loadStopRequest(dir)
	if req == nil {
		t.Fatal("stop request not found")
	}
	if grace, err := time.ParseDuration(req.Grace); err != nil || grace != 45*time.Second {
		t.Errorf("grace = %q (%v)", req.Grace, err)
	}

	clearStopRequest(dir)
	if req := loadStopRequest(dir); req != nil {
		t.Errorf("stop request survived clear: %+v", req)
	}
}

func TestStopReportRoundTrip(t *testing.T) {
	dir := t.TempDir()

	report, err := LoadStopReport(dir)
	if err != nil || report != nil {
		t.Fatalf("LoadStopReport on empty dir = %+v, %v", report, err)
	}

	want := StopReport{
		StoppedAt:   time.Now().UTC().Truncate(time.Second),
		Graceful:    []string{"exec-aaa111"},
		ForceKilled: []string{"exec-bbb222", "exec-ccc333"},
	}
	if err := writeStopReport(dir, want); err != nil {
		t.Fatalf("writeStopReport failed: %v", err)
	}

	got, err := LoadStopReport(dir)
	if err != nil {
		t.Fatalf("LoadStopReport failed: %v", err)
	}
	if len(got.Graceful) != 1 || len(got.ForceKilled) != 2 {
		t.Errorf("report = %+v, want %+v", got, want)
	}
}
