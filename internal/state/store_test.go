package state

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/five82/infinario/requests"
)

func TestStore_ObserveSuccess(t *testing.T) {
	var s Store

	before := time.Now()
	s.Observe(requests.Outcome{Status: requests.Success, BodyBytes: 16, Pending: 2, Elapsed: time.Millisecond})

	snap := s.Snapshot()
	if snap.Completed != 1 || snap.Succeeded != 1 {
		t.Fatalf("counts = %+v, want one success", snap)
	}
	if snap.Pending != 2 {
		t.Fatalf("Pending = %d, want 2", snap.Pending)
	}
	if snap.BytesReceived != 16 {
		t.Fatalf("BytesReceived = %d, want 16", snap.BytesReceived)
	}
	if snap.LastUpdated.Before(before) {
		t.Fatalf("LastUpdated = %v, want >= %v", snap.LastUpdated, before)
	}
	if snap.LastError != nil {
		t.Fatalf("LastError = %v, want nil", snap.LastError)
	}
}

func TestStore_FailureRecordsErrorAndSnapshotClones(t *testing.T) {
	var s Store

	origErr := errors.New("boom")
	s.Observe(requests.Outcome{Status: requests.ReceiveHeaderError, Err: origErr})

	snap := s.Snapshot()
	if snap.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", snap.Failed)
	}
	if snap.LastStatus != requests.ReceiveHeaderError {
		t.Fatalf("LastStatus = %v, want ReceiveHeaderError", snap.LastStatus)
	}
	if snap.LastError == nil || snap.LastError.Error() != "boom" {
		t.Fatalf("LastError = %v, want boom", snap.LastError)
	}
	if !errors.Is(snap.LastError, origErr) {
		t.Fatalf("LastError should wrap the original error")
	}
	if reflect.ValueOf(snap.LastError).Pointer() == reflect.ValueOf(origErr).Pointer() {
		t.Fatalf("Snapshot should clone error instance")
	}
}

func TestStore_FailureWithoutErrorNamesStatus(t *testing.T) {
	var s Store
	s.Observe(requests.Outcome{Status: requests.SendRequestError})

	snap := s.Snapshot()
	if snap.LastError == nil || !strings.Contains(snap.LastError.Error(), "SendRequestError") {
		t.Fatalf("LastError = %v, want status name", snap.LastError)
	}
}

func TestStore_ConsecutiveFailures(t *testing.T) {
	var s Store

	if s.Snapshot().IsOffline() {
		t.Fatal("IsOffline() = true, want false with 0 failures")
	}

	s.Observe(requests.Outcome{Status: requests.SendRequestError})
	if s.Snapshot().IsOffline() {
		t.Fatal("IsOffline() = true, want false after 1 failure")
	}

	s.Observe(requests.Outcome{Status: requests.ReceiveBodyError})
	if got := s.Snapshot().ConsecutiveFailures; got != 2 {
		t.Fatalf("ConsecutiveFailures = %d, want 2", got)
	}
	if !s.Snapshot().IsOffline() {
		t.Fatal("IsOffline() = false, want true after 2 failures")
	}

	s.Observe(requests.Outcome{Status: requests.KilledError})
	if got := s.Snapshot().ConsecutiveFailures; got != 2 {
		t.Fatalf("killed request changed ConsecutiveFailures to %d", got)
	}

	s.Observe(requests.Outcome{Status: requests.Success})
	snap := s.Snapshot()
	if snap.ConsecutiveFailures != 0 || snap.IsOffline() {
		t.Fatalf("success should reset failures, got %d", snap.ConsecutiveFailures)
	}
	if snap.Completed != 4 || snap.Failed != 2 || snap.Killed != 1 || snap.Succeeded != 1 {
		t.Fatalf("unexpected counts: %+v", snap)
	}
}

func TestStore_RegisterExportsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewStore()
	if err := s.Register(reg); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	s.Observe(requests.Outcome{Status: requests.Success, BodyBytes: 10, Pending: 1})
	s.Observe(requests.Outcome{Status: requests.Success, BodyBytes: 5})
	s.Observe(requests.Outcome{Status: requests.KilledError})

	if got := testutil.ToFloat64(s.metrics.requests.WithLabelValues("Success")); got != 2 {
		t.Fatalf("requests_total{Success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.metrics.requests.WithLabelValues("KilledError")); got != 1 {
		t.Fatalf("requests_total{KilledError} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.metrics.bytes); got != 15 {
		t.Fatalf("response_bytes_total = %v, want 15", got)
	}
	if got := testutil.ToFloat64(s.metrics.pending); got != 0 {
		t.Fatalf("requests_pending = %v, want 0", got)
	}
	if got := testutil.CollectAndCount(s.metrics.duration); got != 1 {
		t.Fatalf("duration collectors = %d, want 1", got)
	}

	if err := NewStore().Register(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
