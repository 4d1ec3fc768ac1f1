package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oriys/burstq/internal/intake"
	"github.com/oriys/burstq/internal/metrics"
	"github.com/oriys/burstq/internal/store"
)

type stubSlots struct{ slotID string }

func (s *stubSlots) ClaimOne(ctx context.Context, poolID, userID string) (string, error) {
	return s.slotID, nil
}

type stubSender struct{}

func (s *stubSender) Send(ctx context.Context, payload []byte) (int64, error) { return 1, nil }

type stubConfigs struct{}

func (s *stubConfigs) GetPoolConfig(ctx context.Context, poolID string) (*store.PoolConfig, error) {
	return nil, store.ErrPoolConfigNotFound
}

type stubQueue struct{ batch []store.Envelope }

func (q *stubQueue) Read(ctx context.Context, vt time.Duration, max int) ([]store.Envelope, error) {
	return q.batch, nil
}
func (q *stubQueue) Delete(ctx context.Context, msgIDs []int64) error         { return nil }
func (q *stubQueue) SetPayload(ctx context.Context, id int64, p []byte) error { return nil }
func (q *stubQueue) MoveToDLQ(ctx context.Context, id int64, p []byte, ct int, r string) error {
	return nil
}

type stubMarker struct{}

func (m *stubMarker) MarkConsumed(ctx context.Context, slotID string) (bool, error) {
	return true, nil
}

func testMux(t *testing.T, slotID string) *http.ServeMux {
	t.Helper()
	h := &Handler{
		Claimer: intake.NewClaimer(&stubSlots{slotID: slotID}, &stubSender{}, &stubConfigs{}, nil),
		Worker: intake.NewWorker(intake.WorkerDeps{
			Queue:   &stubQueue{},
			Slots:   &stubMarker{},
			Configs: &stubConfigs{},
			Commits: intake.NewCommitRegistry(),
		}, intake.WorkerConfig{}),
		Metrics:     metrics.New("test"),
		WorkerToken: "worker-secret",
		AdminToken:  "admin-secret",
	}
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func TestClaimEndpoint_Success(t *testing.T) {
	mux := testMux(t, "slot-9")

	req := httptest.NewRequest(http.MethodPost, "/pools/drop-1/claims",
		strings.NewReader(`{"user_id":"u1"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		ResourceID *string `json:"resource_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ResourceID == nil || *resp.ResourceID != "slot-9" {
		t.Fatalf("expected slot-9, got %v", resp.ResourceID)
	}
}

func TestClaimEndpoint_SoldOutReturnsNull(t *testing.T) {
	mux := testMux(t, "")

	req := httptest.NewRequest(http.MethodPost, "/pools/drop-1/claims",
		strings.NewReader(`{"user_id":"u1"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("sold out must be 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["resource_id"] != nil {
		t.Fatalf("expected null resource_id, got %v", resp["resource_id"])
	}
}

func TestClaimEndpoint_BadRequest(t *testing.T) {
	mux := testMux(t, "slot-9")

	for _, body := range []string{`{{{`, `{"user_id":""}`} {
		req := httptest.NewRequest(http.MethodPost, "/pools/drop-1/claims", strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestDrainEndpoint_RequiresToken(t *testing.T) {
	mux := testMux(t, "slot-9")

	req := httptest.NewRequest(http.MethodPost, "/worker/drain", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestDrainEndpoint_IdleQueue(t *testing.T) {
	mux := testMux(t, "slot-9")

	req := httptest.NewRequest(http.MethodPost, "/worker/drain", nil)
	req.Header.Set("Authorization", "Bearer worker-secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Status string `json:"status"`
		Total  int    `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "idle" || resp.Total != 0 {
		t.Fatalf("expected idle drain, got %+v", resp)
	}
}

func TestDrainEndpoint_AdminTokenAlsoAccepted(t *testing.T) {
	mux := testMux(t, "slot-9")

	req := httptest.NewRequest(http.MethodPost, "/worker/drain", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin token must authorize the drain trigger, got %d", rec.Code)
	}
}

func TestDLQEndpoints_RequireAdminToken(t *testing.T) {
	mux := testMux(t, "slot-9")

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/dlq"},
		{http.MethodPost, "/dlq/replay"},
		{http.MethodPost, "/dlq/discard"},
		{http.MethodPost, "/admin/pools/drop-1/slots"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		req.Header.Set("Authorization", "Bearer worker-secret")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: worker token must not reach admin surface, got %d",
				tc.method, tc.path, rec.Code)
		}
	}
}

func TestHealthLive(t *testing.T) {
	mux := testMux(t, "slot-9")

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
