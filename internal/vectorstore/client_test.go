package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/aimemory/aimemory/internal/config"
)

func clientFor(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	return New(config.VectorStoreConfig{
		Host:    u.Hostname(),
		Port:    port,
		Timeout: 2 * time.Second,
	})
}

func TestUpsertSendsPoint(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/code-patterns/points" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"result":{"status":"acknowledged"}}`))
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	err := c.Upsert(context.Background(), "code-patterns", "abc", []float32{0.1, 0.2}, map[string]any{"group_id": "p"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	points := got["points"].([]any)
	point := points[0].(map[string]any)
	if point["id"] != "abc" {
		t.Errorf("id = %v", point["id"])
	}
	payload := point["payload"].(map[string]any)
	if payload["group_id"] != "p" {
		t.Errorf("payload = %v", payload)
	}
}

func TestQueryVanillaAndPoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, isFormula := body["query"].(map[string]any); isFormula {
			t.Error("vanilla query serialized as formula")
		}
		_, _ = w.Write([]byte(`{"result":{"points":[
			{"id":"p1","score":0.93,"payload":{"content":"x"}},
			{"id":"p2","score":0.55,"payload":{"content":"y"}}
		]}}`))
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	points, err := c.Query(context.Background(), "discussions", QueryRequest{
		Vector: []float32{1, 0},
		Limit:  5,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(points) != 2 || points[0].ID != "p1" || points[0].Score != 0.93 {
		t.Errorf("points = %+v", points)
	}
}

func TestQueryFormulaShape(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"result":{"points":[]}}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	formula := Sum{
		Mult{Const(0.7), Score{}},
		Mult{Const(0.3), ExpDecay{Key: "stored_at", Target: now, ScaleSeconds: 86400, Midpoint: 0.5}},
	}

	c := clientFor(t, srv)
	_, err := c.Query(context.Background(), "code-patterns", QueryRequest{
		Formula: formula,
		Prefetch: &Prefetch{
			Vector: []float32{1},
			Limit:  50,
			Filter: &Filter{Must: []Condition{MatchValue("group_id", "proj")}},
		},
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	query := body["query"].(map[string]any)
	f := query["formula"].(map[string]any)
	sum := f["sum"].([]any)
	if len(sum) != 2 {
		t.Fatalf("sum arity = %d", len(sum))
	}
	semantic := sum[0].(map[string]any)["mult"].([]any)
	if semantic[1] != "$score" {
		t.Errorf("score ref = %v", semantic[1])
	}
	temporal := sum[1].(map[string]any)["mult"].([]any)
	decay := temporal[1].(map[string]any)["exp_decay"].(map[string]any)
	if decay["midpoint"] != 0.5 {
		t.Errorf("midpoint = %v", decay["midpoint"])
	}

	prefetch := body["prefetch"].(map[string]any)
	if prefetch["limit"] != float64(50) {
		t.Errorf("prefetch limit = %v", prefetch["limit"])
	}
}

func TestScrollPagination(t *testing.T) {
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call++
		if call == 1 {
			_, _ = w.Write([]byte(`{"result":{"points":[{"id":"a","payload":{}}],"next_page_offset":"b"}}`))
		} else {
			_, _ = w.Write([]byte(`{"result":{"points":[{"id":"b","payload":{}}],"next_page_offset":null}}`))
		}
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	points, next, err := c.Scroll(context.Background(), "discussions", nil, 1, nil)
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(points) != 1 || points[0].ID != "a" || next != "b" {
		t.Fatalf("first page: %+v next=%v", points, next)
	}

	points, next, err = c.Scroll(context.Background(), "discussions", nil, 1, next)
	if err != nil {
		t.Fatalf("Scroll page 2: %v", err)
	}
	if len(points) != 1 || points[0].ID != "b" || next != nil {
		t.Fatalf("second page: %+v next=%v", points, next)
	}
}

func TestUnavailable(t *testing.T) {
	c := New(config.VectorStoreConfig{Host: "127.0.0.1", Port: 1, Timeout: 200 * time.Millisecond})
	err := c.Upsert(context.Background(), "code-patterns", "x", []float32{1}, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if c.CheckHealth(context.Background()) {
		t.Error("unreachable store reported healthy")
	}
}

func TestCreatePayloadIndexTenant(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"result":{}}`))
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	err := c.CreatePayloadIndex(context.Background(), "code-patterns", "group_id", IndexSchema{Type: "keyword", IsTenant: true})
	if err != nil {
		t.Fatalf("CreatePayloadIndex: %v", err)
	}
	schema := body["field_schema"].(map[string]any)
	if schema["type"] != "keyword" || schema["is_tenant"] != true {
		t.Errorf("schema = %v", schema)
	}
}
