package verify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jirascope/jirascope/internal/types"
)

// fakeLive serves canned field maps and records call concurrency.
type fakeLive struct {
	mu      sync.Mutex
	fields  map[string]map[string]string
	fail    map[string]bool
	delay   time.Duration
	active  atomic.Int64
	maxSeen atomic.Int64
}

func (f *fakeLive) GetFields(ctx context.Context, key string) (map[string]string, error) {
	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if cur <= prev || f.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[key] {
		return nil, errors.New("issue not found")
	}
	fields, ok := f.fields[key]
	if !ok {
		return nil, errors.New("issue not found")
	}
	return fields, nil
}

func TestVerifyAll(t *testing.T) {
	live := &fakeLive{
		fields: map[string]map[string]string{
			"SCRUM-12": {types.FieldStatus: "Done", types.FieldAssignee: "dana"},
			"SCRUM-7":  {types.FieldStatus: "In Progress"},
		},
		fail: map[string]bool{"SCRUM-99": true},
	}
	v := &Verifier{Live: live, Timeout: time.Second, Concurrency: 4}

	records := v.VerifyAll(context.Background(), []string{"SCRUM-12", "SCRUM-7", "SCRUM-99"})
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	ok := records["SCRUM-12"]
	if !ok.Verified() {
		t.Fatalf("SCRUM-12 should verify, got %+v", ok)
	}
	if ok.Fields[types.FieldStatus] != "Done" {
		t.Errorf("status = %q", ok.Fields[types.FieldStatus])
	}
	if ok.FetchedAt.IsZero() {
		t.Error("FetchedAt must be set")
	}

	failed := records["SCRUM-99"]
	if failed.Verified() {
		t.Fatal("SCRUM-99 must not verify")
	}
	if failed.Outcome != types.VerifyFailed || failed.Error == "" {
		t.Errorf("failure record incomplete: %+v", failed)
	}
	if records["SCRUM-7"].Verified() != true {
		t.Error("one key's failure must not degrade the others")
	}
}

func TestVerifyAllRespectsConcurrencyLimit(t *testing.T) {
	live := &fakeLive{
		fields: map[string]map[string]string{},
		delay:  20 * time.Millisecond,
	}
	keys := make([]string, 10)
	for i := range keys {
		key := "SCRUM-" + string(rune('0'+i))
		keys[i] = key
		live.fields[key] = map[string]string{types.FieldStatus: "Done"}
	}

	v := &Verifier{Live: live, Timeout: time.Second, Concurrency: 2}
	v.VerifyAll(context.Background(), keys)

	if got := live.maxSeen.Load(); got > 2 {
		t.Errorf("observed %d concurrent fetches, limit is 2", got)
	}
}

func TestVerifyOneTimeout(t *testing.T) {
	live := &fakeLive{
		fields: map[string]map[string]string{"SCRUM-1": {types.FieldStatus: "Done"}},
		delay:  200 * time.Millisecond,
	}
	v := &Verifier{Live: live, Timeout: 10 * time.Millisecond}

	rec := v.VerifyOne(context.Background(), "SCRUM-1")
	if rec.Verified() {
		t.Fatal("timed-out fetch must yield a failure record")
	}
	if rec.Error == "" {
		t.Error("failure record must carry the error")
	}
}

func TestVerifyAllEmptyKeys(t *testing.T) {
	v := &Verifier{Live: &fakeLive{}}
	records := v.VerifyAll(context.Background(), nil)
	if len(records) != 0 {
		t.Errorf("got %d records for no keys", len(records))
	}
}
