// Package storagetest provides the conformance suite every storage.Store
// implementation must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/robotbattle/internal/services/game/storage"
)

// Factory opens an empty store whose TTL decisions use now.
type Factory func(t *testing.T, now func() time.Time) storage.Store

// Epoch is the start time of every suite clock.
var Epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// Run executes the conformance suite against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s storage.Store, clock *Clock)
	}{
		{"RecordRoundTrip", testRecordRoundTrip},
		{"CreateRecordOnce", testCreateRecordOnce},
		{"IncrementField", testIncrementField},
		{"CompareAndSwap", testCompareAndSwap},
		{"CompareAndSwapConcurrent", testCompareAndSwapConcurrent},
		{"MemberMap", testMemberMap},
		{"AddMemberConcurrentSameMember", testAddMemberConcurrentSameMember},
		{"AddMemberConcurrentCardinality", testAddMemberConcurrentCardinality},
		{"Blobs", testBlobs},
		{"TTLExpiry", testTTLExpiry},
		{"ExpireAndCASPreserveTTL", testExpireAndCASPreserveTTL},
		{"KeysAndDelete", testKeysAndDelete},
		{"PurgeExpired", testPurgeExpired},
		{"Ping", testPing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := NewClock(Epoch)
			s := open(t, clock.Now)
			tc.fn(t, s, clock)
		})
	}
}

func testRecordRoundTrip(t *testing.T, s storage.Store, _ *Clock) {
	ctx := context.Background()
	if _, err := s.GetRecord(ctx, "rec"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing err = %v, want ErrNotFound", err)
	}
	if err := s.PutRecord(ctx, "rec", storage.Fields{"a": "1", "b": "two"}, 0); err != nil {
		t.Fatalf("put record: %v", err)
	}
	got, err := s.GetRecord(ctx, "rec")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if want := (storage.Fields{"a": "1", "b": "two"}); !reflect.DeepEqual(got, want) {
		t.Fatalf("record = %v, want %v", got, want)
	}

	got["a"] = "mutated"
	again, _ := s.GetRecord(ctx, "rec")
	if again["a"] != "1" {
		t.Fatalf("store shares record memory with caller: %v", again)
	}

	if err := s.PutRecord(ctx, "rec", storage.Fields{"c": "3"}, 0); err != nil {
		t.Fatalf("replace record: %v", err)
	}
	replaced, _ := s.GetRecord(ctx, "rec")
	if want := (storage.Fields{"c": "3"}); !reflect.DeepEqual(replaced, want) {
		t.Fatalf("replaced record = %v, want %v", replaced, want)
	}
}

func testCreateRecordOnce(t *testing.T, s storage.Store, _ *Clock) {
	ctx := context.Background()
	created, err := s.CreateRecord(ctx, "rec", storage.Fields{"v": "first"}, 0)
	if err != nil || !created {
		t.Fatalf("first create = %v, %v; want true, nil", created, err)
	}
	created, err = s.CreateRecord(ctx, "rec", storage.Fields{"v": "second"}, 0)
	if err != nil || created {
		t.Fatalf("second create = %v, %v; want false, nil", created, err)
	}
	got, _ := s.GetRecord(ctx, "rec")
	if got["v"] != "first" {
		t.Fatalf("v = %q, want %q", got["v"], "first")
	}
}

func testIncrementField(t *testing.T, s storage.Store, _ *Clock) {
	ctx := context.Background()
	for i, want := range []int64{1, 2, 5} {
		delta := int64(1)
		if i == 2 {
			delta = 3
		}
		got, err := s.IncrementField(ctx, "counter", "n", delta)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Fatalf("increment #%d = %d, want %d", i, got, want)
		}
	}
	rec, _ := s.GetRecord(ctx, "counter")
	if rec["n"] != "5" {
		t.Fatalf("n = %q, want %q", rec["n"], "5")
	}
}

func testCompareAndSwap(t *testing.T, s storage.Store, _ *Clock) {
	ctx := context.Background()
	if _, err := s.CompareAndSwap(ctx, "missing", nil, storage.Fields{"a": "1"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("cas missing err = %v, want ErrNotFound", err)
	}
	if err := s.PutRecord(ctx, "rec", storage.Fields{"state": "waiting", "n": "0", "keep": "x"}, 0); err != nil {
		t.Fatalf("put: %v", err)
	}

	swapped, err := s.CompareAndSwap(ctx, "rec", storage.Fields{"state": "playing"}, storage.Fields{"n": "1"})
	if err != nil || swapped {
		t.Fatalf("mismatched cas = %v, %v; want false, nil", swapped, err)
	}
	swapped, err = s.CompareAndSwap(ctx, "rec",
		storage.Fields{"state": "waiting", "n": "0"},
		storage.Fields{"state": "playing", "n": "1"})
	if err != nil || !swapped {
		t.Fatalf("matching cas = %v, %v; want true, nil", swapped, err)
	}
	got, _ := s.GetRecord(ctx, "rec")
	if want := (storage.Fields{"state": "playing", "n": "1", "keep": "x"}); !reflect.DeepEqual(got, want) {
		t.Fatalf("record = %v, want %v", got, want)
	}
}

func testCompareAndSwapConcurrent(t *testing.T, s storage.Store, _ *Clock) {
	ctx := context.Background()
	if err := s.PutRecord(ctx, "rec", storage.Fields{"state": "open"}, 0); err != nil {
		t.Fatalf("put: %v", err)
	}

	const workers = 12
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		mu    sync.Mutex
		wins  []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			owner := fmt.Sprintf("w%d", i)
			swapped, err := s.CompareAndSwap(ctx, "rec",
				storage.Fields{"state": "open"},
				storage.Fields{"state": "closed", "owner": owner})
			if err != nil {
				t.Errorf("cas: %v", err)
				return
			}
			if swapped {
				mu.Lock()
				wins = append(wins, owner)
				mu.Unlock()
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("winners = %v, want exactly one", wins)
	}
	got, _ := s.GetRecord(ctx, "rec")
	if got["owner"] != wins[0] {
		t.Fatalf("owner = %q, want %q", got["owner"], wins[0])
	}
}

func testMemberMap(t *testing.T, s storage.Store, _ *Clock) {
	ctx := context.Background()
	if n, err := s.Cardinality(ctx, "set"); err != nil || n != 0 {
		t.Fatalf("empty cardinality = %d, %v", n, err)
	}
	members, err := s.Members(ctx, "set")
	if err != nil || len(members) != 0 {
		t.Fatalf("empty members = %v, %v", members, err)
	}

	added, n, err := s.AddMember(ctx, "set", "alice", []byte(`{"x":1}`), 0)
	if err != nil || !added || n != 1 {
		t.Fatalf("add alice = %v, %d, %v", added, n, err)
	}
	added, n, err = s.AddMember(ctx, "set", "alice", []byte(`{"x":2}`), 0)
	if err != nil || added || n != 1 {
		t.Fatalf("re-add alice = %v, %d, %v; want false, 1, nil", added, n, err)
	}
	added, n, err = s.AddMember(ctx, "set", "bob", []byte(`{"y":1}`), 0)
	if err != nil || !added || n != 2 {
		t.Fatalf("add bob = %v, %d, %v", added, n, err)
	}

	members, err = s.Members(ctx, "set")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if string(members["alice"]) != `{"x":1}` {
		t.Fatalf("alice payload = %s, want first write", members["alice"])
	}
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}

	removed, err := s.RemoveMember(ctx, "set", "alice")
	if err != nil || !removed {
		t.Fatalf("remove alice = %v, %v", removed, err)
	}
	removed, err = s.RemoveMember(ctx, "set", "alice")
	if err != nil || removed {
		t.Fatalf("remove alice again = %v, %v", removed, err)
	}
	if n, _ := s.Cardinality(ctx, "set"); n != 1 {
		t.Fatalf("cardinality after remove = %d, want 1", n)
	}
}

func testAddMemberConcurrentSameMember(t *testing.T, s storage.Store, _ *Clock) {
	ctx := context.Background()
	const workers = 16
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			added, _, err := s.AddMember(ctx, "set", "alice", []byte(fmt.Sprintf("%d", i)), time.Hour)
			if err != nil {
				t.Errorf("add member: %v", err)
				return
			}
			if added {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("accepted = %d, want 1", accepted)
	}
	if n, _ := s.Cardinality(ctx, "set"); n != 1 {
		t.Fatalf("cardinality = %d, want 1", n)
	}
}

func testAddMemberConcurrentCardinality(t *testing.T, s storage.Store, _ *Clock) {
	ctx := context.Background()
	const workers = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		mu    sync.Mutex
		seen  = map[int]int{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, n, err := s.AddMember(ctx, "set", fmt.Sprintf("p%d", i), nil, 0)
			if err != nil {
				t.Errorf("add member: %v", err)
				return
			}
			mu.Lock()
			seen[n]++
			mu.Unlock()
		}(i)
	}
	close(start)
	wg.Wait()

	// Each add observes its own cardinality, so exactly one caller sees the full count.
	for n := 1; n <= workers; n++ {
		if seen[n] != 1 {
			t.Fatalf("cardinality %d observed %d times, want once (all: %v)", n, seen[n], seen)
		}
	}
}

func testBlobs(t *testing.T, s storage.Store, _ *Clock) {
	ctx := context.Background()
	if _, err := s.GetBlob(ctx, "blob"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing blob err = %v", err)
	}
	created, err := s.CreateBlob(ctx, "blob", []byte("first"), 0)
	if err != nil || !created {
		t.Fatalf("create blob = %v, %v", created, err)
	}
	created, err = s.CreateBlob(ctx, "blob", []byte("second"), 0)
	if err != nil || created {
		t.Fatalf("second create = %v, %v; want false, nil", created, err)
	}
	got, _ := s.GetBlob(ctx, "blob")
	if string(got) != "first" {
		t.Fatalf("blob = %q, want %q", got, "first")
	}
	if err := s.PutBlob(ctx, "blob", []byte("third"), 0); err != nil {
		t.Fatalf("put blob: %v", err)
	}
	got, _ = s.GetBlob(ctx, "blob")
	if string(got) != "third" {
		t.Fatalf("blob = %q, want %q", got, "third")
	}
}

func testTTLExpiry(t *testing.T, s storage.Store, clock *Clock) {
	ctx := context.Background()
	if err := s.PutRecord(ctx, "rec", storage.Fields{"a": "1"}, time.Minute); err != nil {
		t.Fatalf("put record: %v", err)
	}
	if _, _, err := s.AddMember(ctx, "set", "m", []byte("x"), time.Minute); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := s.PutBlob(ctx, "blob", []byte("x"), time.Minute); err != nil {
		t.Fatalf("put blob: %v", err)
	}

	clock.Advance(59 * time.Second)
	if _, err := s.GetRecord(ctx, "rec"); err != nil {
		t.Fatalf("record expired early: %v", err)
	}

	clock.Advance(time.Second)
	if _, err := s.GetRecord(ctx, "rec"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired record err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetBlob(ctx, "blob"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired blob err = %v, want ErrNotFound", err)
	}
	if n, _ := s.Cardinality(ctx, "set"); n != 0 {
		t.Fatalf("expired set cardinality = %d, want 0", n)
	}

	created, err := s.CreateRecord(ctx, "rec", storage.Fields{"a": "2"}, 0)
	if err != nil || !created {
		t.Fatalf("create over expired = %v, %v; want true, nil", created, err)
	}
	added, n, err := s.AddMember(ctx, "set", "m", []byte("y"), 0)
	if err != nil || !added || n != 1 {
		t.Fatalf("add over expired = %v, %d, %v", added, n, err)
	}
}

func testExpireAndCASPreserveTTL(t *testing.T, s storage.Store, clock *Clock) {
	ctx := context.Background()
	if ok, err := s.Expire(ctx, "missing", time.Minute); err != nil || ok {
		t.Fatalf("expire missing = %v, %v; want false, nil", ok, err)
	}
	if err := s.PutRecord(ctx, "rec", storage.Fields{"n": "0"}, 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, err := s.Expire(ctx, "rec", time.Minute); err != nil || !ok {
		t.Fatalf("expire = %v, %v", ok, err)
	}
	if _, err := s.CompareAndSwap(ctx, "rec", storage.Fields{"n": "0"}, storage.Fields{"n": "1"}); err != nil {
		t.Fatalf("cas: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := s.GetRecord(ctx, "rec"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("record survived its ttl: %v", err)
	}
	if _, err := s.CompareAndSwap(ctx, "rec", nil, storage.Fields{"n": "2"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("cas on expired err = %v, want ErrNotFound", err)
	}
}

func testKeysAndDelete(t *testing.T, s storage.Store, clock *Clock) {
	ctx := context.Background()
	_ = s.PutRecord(ctx, "game:g1:meta", storage.Fields{"a": "1"}, 0)
	_ = s.PutBlob(ctx, "game:g1:map", []byte("m"), 0)
	_, _, _ = s.AddMember(ctx, "game:g1:turn:0:attempt:0:moves", "p", nil, 0)
	_ = s.PutRecord(ctx, "game:g10:meta", storage.Fields{"a": "1"}, 0)
	_ = s.PutRecord(ctx, "game:g1:stale", storage.Fields{"a": "1"}, time.Second)
	clock.Advance(time.Second)

	keys, err := s.Keys(ctx, "game:g1:")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	want := []string{"game:g1:map", "game:g1:meta", "game:g1:turn:0:attempt:0:moves"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}

	if err := s.Delete(ctx, append(keys, "never-existed")...); err != nil {
		t.Fatalf("delete: %v", err)
	}
	keys, _ = s.Keys(ctx, "game:g1:")
	if len(keys) != 0 {
		t.Fatalf("keys after delete = %v", keys)
	}
	if _, err := s.GetRecord(ctx, "game:g10:meta"); err != nil {
		t.Fatalf("unrelated key deleted: %v", err)
	}
}

func testPurgeExpired(t *testing.T, s storage.Store, clock *Clock) {
	purger, ok := s.(storage.Purger)
	if !ok {
		t.Skip("store does not purge")
	}
	ctx := context.Background()
	_ = s.PutRecord(ctx, "short", storage.Fields{"a": "1"}, time.Second)
	_ = s.PutRecord(ctx, "long", storage.Fields{"a": "1"}, time.Hour)
	_ = s.PutRecord(ctx, "forever", storage.Fields{"a": "1"}, 0)

	clock.Advance(time.Minute)
	purged, err := purger.PurgeExpired(ctx, clock.Now())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	keys, _ := s.Keys(ctx, "")
	if want := []string{"forever", "long"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
}

func testPing(t *testing.T, s storage.Store, _ *Clock) {
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
