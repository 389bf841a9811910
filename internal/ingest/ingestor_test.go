package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/meridianhq/telemetry-backend/internal/event"
	"github.com/meridianhq/telemetry-backend/internal/metrics"
)

type fakePublisher struct {
	published []*event.MetricsEvent
	err       error
}

func (f *fakePublisher) PublishEvent(ctx context.Context, ev *event.MetricsEvent) (int, string, error) {
	if f.err != nil {
		return 0, "", f.err
	}
	f.published = append(f.published, ev)
	return 1, "1-0", nil
}

func newTestIngestor(publisher Publisher, cfg RateLimitConfig) *Ingestor {
	return NewIngestor(NewRateLimiter(cfg), publisher, nil, metrics.NewPipeline())
}

func commandEvent(tenant string) *event.MetricsEvent {
	return &event.MetricsEvent{
		Kind:      event.KindCommandExecution,
		TenantID:  tenant,
		UserID:    "user-1",
		Timestamp: time.Now(),
		Payload:   json.RawMessage(`{"command":"build","status":"success","duration_ms":120}`),
	}
}

func TestSubmitEvent_Accepted(t *testing.T) {
	pub := &fakePublisher{}
	ing := newTestIngestor(pub, RateLimitConfig{Window: time.Minute, MaxRequests: 10})

	res, err := ing.SubmitEvent(context.Background(), commandEvent("tenant-a"))
	if err != nil {
		t.Fatalf("SubmitEvent() error = %v", err)
	}
	if !res.Accepted {
		t.Fatalf("expected accepted, got %+v", res)
	}
	if res.EventID == "" {
		t.Error("accepted event should be assigned an id")
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.published))
	}
}

func TestSubmitEvent_Invalid(t *testing.T) {
	pub := &fakePublisher{}
	ing := newTestIngestor(pub, RateLimitConfig{Window: time.Minute, MaxRequests: 10})

	ev := commandEvent("tenant-a")
	ev.TenantID = ""

	res, err := ing.SubmitEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("SubmitEvent() error = %v", err)
	}
	if res.Accepted || res.Rejected != RejectedInvalid {
		t.Fatalf("expected invalid rejection, got %+v", res)
	}
	if len(pub.published) != 0 {
		t.Error("invalid events must never be published")
	}
}

func TestSubmitEvent_RateLimited(t *testing.T) {
	pub := &fakePublisher{}
	ing := newTestIngestor(pub, RateLimitConfig{Window: time.Minute, MaxRequests: 1})

	if res, _ := ing.SubmitEvent(context.Background(), commandEvent("tenant-a")); !res.Accepted {
		t.Fatal("first event should be accepted")
	}

	res, err := ing.SubmitEvent(context.Background(), commandEvent("tenant-a"))
	if err != nil {
		t.Fatalf("SubmitEvent() error = %v", err)
	}
	if res.Rejected != RejectedRateLimited {
		t.Fatalf("expected rate_limited rejection, got %+v", res)
	}
	if res.RetryAfterSeconds < 1 {
		t.Errorf("retry_after_seconds = %d, want >= 1", res.RetryAfterSeconds)
	}
}

func TestSubmitEvent_PublishErrorPropagates(t *testing.T) {
	wantErr := errors.New("log down")
	ing := newTestIngestor(&fakePublisher{err: wantErr}, RateLimitConfig{Window: time.Minute, MaxRequests: 10})

	_, err := ing.SubmitEvent(context.Background(), commandEvent("tenant-a"))
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected publish error to propagate, got %v", err)
	}
}

func TestSubmitEvent_SanitizesBeforePublish(t *testing.T) {
	pub := &fakePublisher{}
	ing := newTestIngestor(pub, RateLimitConfig{Window: time.Minute, MaxRequests: 10})

	ev := commandEvent("tenant-a")
	ev.Payload = json.RawMessage(`{"command":"login","status":"success","duration_ms":5,"api_token":"sk-secret"}`)

	if _, err := ing.SubmitEvent(context.Background(), ev); err != nil {
		t.Fatalf("SubmitEvent() error = %v", err)
	}

	published := string(pub.published[0].Payload)
	if strings.Contains(published, "sk-secret") {
		t.Error("published payload should not contain the raw secret")
	}
	if !strings.Contains(published, event.Redacted) {
		t.Error("published payload should carry the redaction marker")
	}
}

func TestSubmitBatch_PerItemResults(t *testing.T) {
	pub := &fakePublisher{}
	ing := newTestIngestor(pub, RateLimitConfig{Window: time.Minute, MaxRequests: 2, BatchMultiplier: 2})

	events := []*event.MetricsEvent{
		commandEvent("tenant-a"),
		commandEvent("tenant-a"),
		{Kind: "bogus", TenantID: "tenant-a", UserID: "u", Timestamp: time.Now(), Payload: json.RawMessage(`{}`)},
		commandEvent("tenant-a"),
		commandEvent("tenant-a"),
		commandEvent("tenant-a"),
	}

	res, err := ing.SubmitBatch(context.Background(), events)
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}

	// ceiling = 2*2 = 4: four valid events admitted, one invalid, one over quota
	if res.Accepted != 4 {
		t.Errorf("accepted = %d, want 4", res.Accepted)
	}
	if res.Rejected != 2 {
		t.Errorf("rejected = %d, want 2", res.Rejected)
	}
	if res.Results[2].Rejected != RejectedInvalid {
		t.Errorf("item 2 = %+v, want invalid", res.Results[2])
	}
	if res.Results[5].Rejected != RejectedRateLimited {
		t.Errorf("item 5 = %+v, want rate_limited", res.Results[5])
	}
}
