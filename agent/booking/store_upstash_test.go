package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRecordKey(t *testing.T) {
	t.Parallel()

	got, err := recordKey(defaultStoreKeyPrefix, "abc")
	if err != nil {
		t.Fatalf("recordKey() error = %v", err)
	}
	if got != "buyer:booking:abc" {
		t.Fatalf("recordKey() = %q, want %q", got, "buyer:booking:abc")
	}
}

func TestRecordKeyEmptySession(t *testing.T) {
	t.Parallel()

	_, err := recordKey(defaultStoreKeyPrefix, "   ")
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("recordKey() error = %v, want ErrInvalidSession", err)
	}
}

func TestUpstashRedisStoreSaveSetsRecordWithTTL(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		fmt.Fprint(w, `{"result":"OK"}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
		WithTTL(90*time.Minute),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	rec := NewRecord("session-1", time.Now())
	rec.Steps[StepAccount] = "acc-1"
	rec.State = StateAccountReady
	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if len(gotCommand) != 5 {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if gotCommand[0] != "SET" || gotCommand[1] != "buyer:booking:session-1" {
		t.Fatalf("command = %v %v, want SET buyer:booking:session-1", gotCommand[0], gotCommand[1])
	}
	if gotCommand[3] != "EX" || gotCommand[4] != float64(5400) {
		t.Fatalf("expiry = %v %v, want EX 5400", gotCommand[3], gotCommand[4])
	}
}

func TestUpstashRedisStoreLoadDecodesRecord(t *testing.T) {
	t.Parallel()

	seed := NewRecord("session-2", time.Now())
	seed.State = StateOrderCreated
	seed.Steps[StepAccount] = "acc-1"
	seed.Steps[StepOrder] = "ord-1"
	payload, err := json.Marshal(seed)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	encoded, err := json.Marshal(string(payload))
	if err != nil {
		t.Fatalf("marshal encoded seed: %v", err)
	}

	var gotCommand []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		fmt.Fprintf(w, `{"result":%s}`, encoded)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	rec, err := store.Load(context.Background(), "session-2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.State != StateOrderCreated || rec.Steps[StepOrder] != "ord-1" {
		t.Fatalf("Load() = %+v", rec)
	}
	if gotCommand[0] != "GET" || gotCommand[1] != "buyer:booking:session-2" {
		t.Fatalf("command = %v", gotCommand)
	}
}

func TestUpstashRedisStoreLoadMissing(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":null}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	if _, err := store.Load(context.Background(), "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("Load() error = %v, want ErrRecordNotFound", err)
	}
}

func TestUpstashRedisStoreDeleteAndErrors(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		if gotCommand[0] == "GET" {
			fmt.Fprint(w, `{"error":"WRONGTYPE Operation against a key"}`)
			return
		}
		fmt.Fprint(w, `{"result":1}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	if err := store.Delete(context.Background(), "session-3"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if gotCommand[0] != "DEL" || gotCommand[1] != "buyer:booking:session-3" {
		t.Fatalf("command = %v", gotCommand)
	}
	if _, err := store.Load(context.Background(), "session-3"); err == nil {
		t.Fatal("Load() error = nil, want redis error")
	}
}

func TestNewUpstashRedisStoreValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewUpstashRedisStore(UpstashRedisConfig{Token: "t"}); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "https://example.upstash.io"}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "https://example.upstash.io", Token: "t"}, WithTTL(-time.Second)); err == nil {
		t.Fatal("expected error for negative ttl")
	}
}
