package state

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

func newTestUpstash(t *testing.T, handler func(cmd []any, w http.ResponseWriter)) *UpstashRedisStore {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("Authorization = %q", got)
		}
		var cmd []any
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			t.Errorf("decode command: %v", err)
			return
		}
		handler(cmd, w)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	return store
}

func TestUpstashRedisStoreKeys(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	if got := store.sessionKey(Key{SessionID: "s1", VendorID: "v1"}); got != "vneg:negotiation:s1:v1" {
		t.Fatalf("sessionKey() = %q", got)
	}
	got, err := store.pipelineKey("s1")
	if err != nil {
		t.Fatalf("pipelineKey() error = %v", err)
	}
	if got != "vneg:pipeline:s1" {
		t.Fatalf("pipelineKey() = %q", got)
	}
	if _, err := store.pipelineKey("  "); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("pipelineKey() error = %v, want ErrInvalidSession", err)
	}
}

func TestUpstashRedisStoreSaveSetsTTL(t *testing.T) {
	t.Parallel()

	var got []any
	store := newTestUpstash(t, func(cmd []any, w http.ResponseWriter) {
		got = cmd
		fmt.Fprint(w, `{"result":"OK"}`)
	})

	sess := NewNegotiationSession(Key{SessionID: "s1", VendorID: "v1"}, NegotiationContext{}, time.Now())
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(got) != 5 || got[0] != "SET" || got[1] != "vneg:negotiation:s1:v1" || got[3] != "EX" {
		t.Fatalf("unexpected command: %#v", got)
	}
	if ttl, _ := got[4].(float64); ttl != float64(24*60*60) {
		t.Fatalf("ttl = %v", got[4])
	}
}

func TestUpstashRedisStoreLoadRoundTrip(t *testing.T) {
	t.Parallel()

	seed := NewNegotiationSession(Key{SessionID: "s2", VendorID: "v9"}, NegotiationContext{VendorName: "Shiv Travels"}, time.Now())
	seed.QuotedPrice = Float(3200)
	payload, _ := json.Marshal(seed)
	encoded, _ := json.Marshal(string(payload))

	var got []any
	store := newTestUpstash(t, func(cmd []any, w http.ResponseWriter) {
		got = cmd
		fmt.Fprintf(w, `{"result":%s}`, encoded)
	})

	sess, err := store.Load(context.Background(), Key{SessionID: "s2", VendorID: "v9"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got[0] != "GET" || got[1] != "vneg:negotiation:s2:v9" {
		t.Fatalf("unexpected command: %#v", got)
	}
	if sess.Context.VendorName != "Shiv Travels" || sess.QuotedPrice == nil || *sess.QuotedPrice != 3200 {
		t.Fatalf("Load() = %+v", sess)
	}
}

func TestUpstashRedisStoreLoadMissing(t *testing.T) {
	t.Parallel()

	store := newTestUpstash(t, func(_ []any, w http.ResponseWriter) {
		fmt.Fprint(w, `{"result":null}`)
	})

	if _, err := store.LoadPipeline(context.Background(), "nope"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("LoadPipeline() error = %v, want ErrStateNotFound", err)
	}
}

func TestUpstashRedisStoreRedisError(t *testing.T) {
	t.Parallel()

	store := newTestUpstash(t, func(_ []any, w http.ResponseWriter) {
		fmt.Fprint(w, `{"error":"WRONGTYPE"}`)
	})

	err := store.DeletePipeline(context.Background(), "s1")
	if err == nil || err.Error() != "WRONGTYPE" {
		t.Fatalf("DeletePipeline() error = %v", err)
	}
}

func TestNewUpstashRedisStoreValidates(t *testing.T) {
	t.Parallel()

	if _, err := NewUpstashRedisStore(UpstashRedisConfig{Token: "t"}); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "http://localhost"}); err == nil {
		t.Fatal("expected error for missing token")
	}
	if _, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "http://localhost", Token: "t"}, WithTTL(-time.Second)); err == nil {
		t.Fatal("expected error for negative ttl")
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	key := Key{SessionID: "s", VendorID: "v"}
	sess := NewNegotiationSession(key, NegotiationContext{}, time.Now())
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	sess.ProposePrice(1500)

	loaded, err := store.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.AgentProposedPrices) != 0 {
		t.Fatal("stored session aliased caller value")
	}

	if _, err := store.Load(ctx, Key{SessionID: "s", VendorID: "other"}); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}

	p := NewPipelineState("s", Requirements{Service: "cab"}, time.Now())
	if err := store.SavePipeline(ctx, p); err != nil {
		t.Fatalf("SavePipeline() error = %v", err)
	}
	got, err := store.LoadPipeline(ctx, "s")
	if err != nil || got.Requirements.Service != "cab" || got.CurrentStep != StepIntake {
		t.Fatalf("LoadPipeline() = %+v, %v", got, err)
	}
}
