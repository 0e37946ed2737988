package nexus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clearnexus/nexdash/cache"
)

func TestStateResultsParsesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/analyses/a1/results/states" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"states":[{"state_code":"TX","nexus_status":"has_nexus","estimated_liability":60031.25}]}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	states, err := c.StateResults(context.Background(), "a1")
	if err != nil {
		t.Fatalf("state results: %v", err)
	}
	if len(states) != 1 || states[0].StateCode != "TX" || states[0].EstimatedLiability != 60031.25 {
		t.Errorf("states = %+v", states)
	}
}

func TestTransactionsQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("per_page") != "50" || q.Get("state_code") != "TX" {
			t.Errorf("query = %v", q)
		}
		_, _ = w.Write([]byte(`{"transactions":[{"id":"T1"}],"total":120}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	txs, total, err := c.Transactions(context.Background(), "a1", "TX", 2, 50)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 1 || total != 120 {
		t.Errorf("txs = %v total = %d", txs, total)
	}
}

func TestGetJSONFreshCacheSkipsNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"id":"a1","status":"complete"}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithCache(cache.NewMemoryCache(), time.Minute))

	for i := 0; i < 3; i++ {
		if _, err := c.GetAnalysis(context.Background(), "a1"); err != nil {
			t.Fatalf("get analysis: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("server calls = %d, want 1 with a fresh cache", calls)
	}
}

func TestGetJSONRevalidatesWith304(t *testing.T) {
	var sawIfNoneMatch string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inm := r.Header.Get("If-None-Match"); inm != "" {
			sawIfNoneMatch = inm
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"id":"a1","status":"complete"}`))
	}))
	defer srv.Close()

	mc := cache.NewMemoryCache()
	// Zero TTL means every entry is stale, forcing revalidation.
	c := New(WithBaseURL(srv.URL), WithCache(mc, time.Nanosecond))

	if _, err := c.GetAnalysis(context.Background(), "a1"); err != nil {
		t.Fatalf("first get: %v", err)
	}
	time.Sleep(time.Millisecond)

	a, err := c.GetAnalysis(context.Background(), "a1")
	if err != nil {
		t.Fatalf("revalidated get: %v", err)
	}
	if sawIfNoneMatch != `"v1"` {
		t.Errorf("If-None-Match = %q, want the stored etag", sawIfNoneMatch)
	}
	if a.Status != StatusComplete {
		t.Errorf("304 should serve the cached body, got %+v", a)
	}
}

func TestErrorStatusBecomesTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no such analysis"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	_, err := c.GetAnalysis(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}

	var ae *Error
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusNotFound {
		t.Errorf("err = %v", err)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound should match a 404")
	}
}

func TestSaveExemptionsRequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/exemptions/save-and-recalculate") {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Changes              []ExemptionChange `json:"changes"`
			TriggerRecalculation bool              `json:"trigger_recalculation"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if !body.TriggerRecalculation {
			t.Error("trigger_recalculation must be set")
		}
		_, _ = w.Write([]byte(`{"saved_count":1,"recalculation_status":"complete"}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	res, err := c.SaveExemptions(context.Background(), "a1", []ExemptionChange{
		{TransactionID: "T1", Action: "created", ExemptAmount: 50, ExemptionReason: "resale"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.SavedCount != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestSetRegistrationsInvalidatesCachedAnalysis(t *testing.T) {
	var mu sync.Mutex
	registered := []string{"CA"}
	gets := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodGet:
			gets++
			_ = json.NewEncoder(w).Encode(Analysis{ID: "a1", RegisteredStates: registered})
		case r.Method == http.MethodPatch:
			var body struct {
				RegisteredStates []string `json:"registered_states"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			registered = body.RegisteredStates
		}
	}))
	defer srv.Close()

	// A realistic TTL: without invalidation the pre-write body stays fresh.
	c := New(WithBaseURL(srv.URL), WithCache(cache.NewMemoryCache(), 5*time.Minute))

	a, err := c.GetAnalysis(context.Background(), "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(a.RegisteredStates) != 1 {
		t.Fatalf("registered = %v", a.RegisteredStates)
	}

	if err := c.SetAnalysisRegistrations(context.Background(), "a1", []string{"CA", "TX"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	a, err = c.GetAnalysis(context.Background(), "a1")
	if err != nil {
		t.Fatalf("get after write: %v", err)
	}
	if len(a.RegisteredStates) != 2 {
		t.Errorf("read after confirmed write served the pre-write set %v", a.RegisteredStates)
	}
	if gets != 2 {
		t.Errorf("server GETs = %d, want a refetch after the write", gets)
	}
}

func TestRecalculateInvalidatesCachedStateResults(t *testing.T) {
	var mu sync.Mutex
	liability := 100.0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/results/states"):
			fmt.Fprintf(w, `{"states":[{"state_code":"TX","estimated_liability":%g}]}`, liability)
		case strings.HasSuffix(r.URL.Path, "/recalculate"):
			liability = 250
			fmt.Fprint(w, `{"status":"complete"}`)
		}
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithCache(cache.NewMemoryCache(), 5*time.Minute))

	states, err := c.StateResults(context.Background(), "a1")
	if err != nil {
		t.Fatalf("states: %v", err)
	}
	if states[0].EstimatedLiability != 100 {
		t.Fatalf("liability = %v", states[0].EstimatedLiability)
	}

	if _, err := c.Recalculate(context.Background(), "a1"); err != nil {
		t.Fatalf("recalculate: %v", err)
	}

	states, err = c.StateResults(context.Background(), "a1")
	if err != nil {
		t.Fatalf("states after recalc: %v", err)
	}
	if states[0].EstimatedLiability != 250 {
		t.Errorf("liability = %v, recalculated figures must not be shadowed by the cache", states[0].EstimatedLiability)
	}
}

func TestSaveExemptionsInvalidatesCachedTransactions(t *testing.T) {
	var mu sync.Mutex
	exempt := 0.0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/transactions"):
			fmt.Fprintf(w, `{"transactions":[{"id":"T1","sales_amount":100,"exempt_amount":%g}],"total":1}`, exempt)
		case strings.HasSuffix(r.URL.Path, "/save-and-recalculate"):
			exempt = 50
			fmt.Fprint(w, `{"saved_count":1,"recalculation_status":"complete"}`)
		}
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithCache(cache.NewMemoryCache(), 5*time.Minute))

	// Prime a paged transactions entry; the page params are part of the key
	// and the save cannot know which pages were read.
	txs, _, err := c.Transactions(context.Background(), "a1", "", 1, 50)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if txs[0].ExemptAmount != 0 {
		t.Fatalf("exempt = %v", txs[0].ExemptAmount)
	}

	if _, err := c.SaveExemptions(context.Background(), "a1", []ExemptionChange{
		{TransactionID: "T1", Action: "created", ExemptAmount: 50, ExemptionReason: "resale"},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	txs, _, err = c.Transactions(context.Background(), "a1", "", 1, 50)
	if err != nil {
		t.Fatalf("transactions after save: %v", err)
	}
	if txs[0].ExemptAmount != 50 {
		t.Errorf("exempt = %v, saved batch must not be shadowed by a cached page", txs[0].ExemptAmount)
	}
}

func TestWritesBypassCache(t *testing.T) {
	gets := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets++
		}
		_, _ = w.Write([]byte(`{"status":"complete"}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL), WithCache(cache.NewMemoryCache(), time.Minute))
	for i := 0; i < 2; i++ {
		if _, err := c.Recalculate(context.Background(), "a1"); err != nil {
			t.Fatalf("recalculate: %v", err)
		}
	}
	if gets != 0 {
		t.Errorf("writes must never be served from or stored in the cache")
	}
}

func TestUploadAnalysisMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("name"); got != "Q1 imports" {
			t.Errorf("name = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "q1.csv" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		_, _ = w.Write([]byte(`{"id":"a2","status":"processing"}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	a, err := c.UploadAnalysis(context.Background(), "Q1 imports", "q1.csv", strings.NewReader("date,amount\n"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if a.ID != "a2" || a.Status != StatusProcessing {
		t.Errorf("analysis = %+v", a)
	}
}
