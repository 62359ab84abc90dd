package planner

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type failingPlanner struct{}

func (failingPlanner) Name() string { return "llm" }
func (failingPlanner) Generate(context.Context, string, Request) (Result, error) {
	return Result{}, fmt.Errorf("down: %w", ErrGeneration)
}

func TestServiceFallsBackToStub(t *testing.T) {
	svc := NewService(failingPlanner{}, false, nil)

	res, err := svc.Call(context.Background(), MethodHourlyPlan, Request{
		Messages: []Message{{Role: "user", Content: "plan the hour"}},
		Context:  "hourly_plan:alice:t1",
	})
	if err != nil {
		t.Fatalf("fallback should absorb the primary failure: %v", err)
	}
	if res.Content == "" {
		t.Fatal("expected stub content")
	}

	metrics := svc.Metrics()
	if len(metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(metrics))
	}
	m := metrics[0]
	if !m.Fallback || m.ResultPlanner != "stub" || m.Error == "" {
		t.Errorf("metric should record the fallback: %+v", m)
	}
}

func TestServiceStrictPropagatesError(t *testing.T) {
	svc := NewService(failingPlanner{}, true, nil)
	_, err := svc.Call(context.Background(), MethodHourlyPlan, Request{})
	if err == nil {
		t.Fatal("strict mode should surface the primary error")
	}
	metrics := svc.Metrics()
	if len(metrics) != 1 || metrics[0].Fallback {
		t.Errorf("strict failure must not record a fallback: %+v", metrics)
	}
}

func TestStubDeterministic(t *testing.T) {
	stub := StubPlanner{}
	req := Request{Context: "hourly_plan:alice:t7"}

	a, _ := stub.Generate(context.Background(), MethodHourlyPlan, req)
	b, _ := stub.Generate(context.Background(), MethodHourlyPlan, req)
	if a.Content != b.Content {
		t.Error("same method+context should reproduce identical output")
	}

	other, _ := stub.Generate(context.Background(), MethodDailyReport, req)
	if !strings.Contains(other.Content, "Completed") {
		t.Errorf("report shape expected, got %q", other.Content)
	}
}

func TestMetricsRingEvictsOldest(t *testing.T) {
	svc := NewService(StubPlanner{}, false, nil)
	for i := 0; i < metricsCap+5; i++ {
		svc.Call(context.Background(), MethodHourlyPlan, Request{Context: fmt.Sprintf("c%d", i)})
	}
	metrics := svc.Metrics()
	if len(metrics) != metricsCap {
		t.Fatalf("ring should cap at %d, got %d", metricsCap, len(metrics))
	}
	if metrics[0].Context != "c5" {
		t.Errorf("oldest surviving metric should be c5, got %s", metrics[0].Context)
	}
	if metrics[len(metrics)-1].Context != fmt.Sprintf("c%d", metricsCap+4) {
		t.Errorf("newest metric mismatch: %s", metrics[len(metrics)-1].Context)
	}
}

func TestHTTPPlannerGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/generate" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":"generated plan","tokens_used":42}`)
	}))
	defer srv.Close()

	p := NewHTTPPlanner(srv.Client(), srv.URL)
	res, err := p.Generate(context.Background(), MethodHourlyPlan, Request{
		Messages: []Message{{Role: "user", Content: "go"}},
		Model:    "m1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "generated plan" || res.TokensUsed != 42 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestHTTPPlannerRejectsEmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":""}`)
	}))
	defer srv.Close()

	p := NewHTTPPlanner(srv.Client(), srv.URL)
	if _, err := p.Generate(context.Background(), MethodHourlyPlan, Request{}); err == nil {
		t.Fatal("empty completion should be an error")
	}
}
