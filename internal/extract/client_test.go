package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/waybill/waybill/internal/intake"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(ClientOpts{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(ClientOpts{})
	if err == nil {
		t.Fatal("expected error for missing base URL")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c, err := New(ClientOpts{BaseURL: "http://extractor:8090/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.baseURL != "http://extractor:8090" {
		t.Errorf("base url = %q", c.baseURL)
	}
}

func TestExtractFields(t *testing.T) {
	var gotPath string
	var gotReq extractRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(intake.ExtractResult{
			Fields:         intake.Fields{"summary": {"a landing page"}},
			Confidence:     0.9,
			Acknowledgment: "Got it.",
		})
	})

	known := intake.Fields{"audience": {"customers"}}
	result, err := c.ExtractFields(context.Background(), "I need a landing page", known, "summary")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/v1/extract" {
		t.Errorf("path = %q, want /v1/extract", gotPath)
	}
	if gotReq.Text != "I need a landing page" {
		t.Errorf("request text = %q", gotReq.Text)
	}
	if gotReq.CurrentStep != "summary" {
		t.Errorf("request current step = %q", gotReq.CurrentStep)
	}
	if gotReq.Known.Get("audience") != "customers" {
		t.Errorf("request known = %v", gotReq.Known)
	}
	if result.Fields.Get("summary") != "a landing page" {
		t.Errorf("result fields = %v", result.Fields)
	}
	if result.Acknowledgment != "Got it." {
		t.Errorf("acknowledgment = %q", result.Acknowledgment)
	}
}

func TestClassifyRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/classify" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(classifyResponse{Tags: []string{"quick", "design"}})
	})

	tags, err := c.ClassifyRequest(context.Background(), intake.Fields{"summary": {"banner swap"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tags) != 2 || tags[0] != "quick" {
		t.Errorf("tags = %v", tags)
	}
}

func TestGenerateFollowUps(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/followups" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req followUpsRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Tags) != 1 || req.Tags[0] != "full" {
			t.Errorf("request tags = %v", req.Tags)
		}
		json.NewEncoder(w).Encode(followUpsResponse{
			FollowUps: []intake.FollowUp{
				{FieldKey: "design_ready", Question: "Is the design finalized?"},
			},
		})
	})

	fus, err := c.GenerateFollowUps(context.Background(), intake.Fields{}, []string{"full"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fus) != 1 || fus[0].FieldKey != "design_ready" {
		t.Errorf("follow-ups = %v", fus)
	}
}

func TestInterpretAnswer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/interpret" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req interpretRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Question.FieldKey != "design_ready" {
			t.Errorf("question = %v", req.Question)
		}
		json.NewEncoder(w).Encode(intake.AnswerResult{
			Value:            "yes",
			AdditionalFields: intake.Fields{"launch_date": {"March 3"}},
		})
	})

	result, err := c.InterpretAnswer(context.Background(), "yes, and we launch March 3",
		intake.FollowUp{FieldKey: "design_ready", Question: "Is the design finalized?"},
		intake.Fields{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Value != "yes" {
		t.Errorf("value = %q", result.Value)
	}
	if result.AdditionalFields.Get("launch_date") != "March 3" {
		t.Errorf("additional fields = %v", result.AdditionalFields)
	}
}

func TestPost_HTTPErrorIncludesBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})

	_, err := c.ClassifyRequest(context.Background(), intake.Fields{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "HTTP 503") {
		t.Errorf("error = %q, want HTTP 503", err.Error())
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("error = %q, want body echoed", err.Error())
	}
}

func TestPost_BadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	_, err := c.ExtractFields(context.Background(), "text", nil, "")
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPost_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(classifyResponse{})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ClassifyRequest(ctx, intake.Fields{})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
