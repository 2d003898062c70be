package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"donor-dialer/internal/app"
	"donor-dialer/internal/auth"
	"donor-dialer/internal/conversations"
	"donor-dialer/internal/dispatch"
	"donor-dialer/internal/rbac"
	"donor-dialer/internal/reporting"

	"github.com/gin-gonic/gin"
)

type fakeRuns struct {
	actors  []app.Actor
	syncErr error
}

func (f *fakeRuns) RunDispatch(_ context.Context, a app.Actor) dispatch.Summary {
	f.actors = append(f.actors, a)
	return dispatch.Summary{RunID: "run-1", Dispatched: 2}
}

func (f *fakeRuns) RunSync(_ context.Context, a app.Actor) (app.SyncResult, error) {
	f.actors = append(f.actors, a)
	if f.syncErr != nil {
		return app.SyncResult{}, f.syncErr
	}
	return app.SyncResult{RunID: "run-2", SyncSummary: conversations.SyncSummary{Scanned: 3}}, nil
}

func newRouter(h Handlers, userID, businessID, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), auth.Identity{
			UserID:     userID,
			BusinessID: businessID,
			Role:       role,
			Platform:   businessID == "" && rbac.IsPlatformRole(role),
		}))
		c.Next()
	})
	v1 := r.Group("/v1")
	v1.POST("/dispatch/run", append(RequireBusinessAndAnyRole(rbac.RoleService), h.RunDispatch)...)
	v1.POST("/sync/run", append(RequireBusinessAndAnyRole(rbac.RoleService), h.RunSync)...)
	v1.GET("/campaigns/:campaign_id/summary",
		append(RequireBusinessAndAnyRole(rbac.RoleOwner, rbac.RoleAnalyst), h.CampaignSummary)...)
	return r
}

func do(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestRunDispatch_RecordsActor(t *testing.T) {
	runs := &fakeRuns{}
	r := newRouter(Handlers{Runs: runs}, "op-1", "", rbac.RoleAdmin)

	w := do(r, http.MethodPost, "/v1/dispatch/run")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sum dispatch.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.RunID != "run-1" || sum.Dispatched != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if len(runs.actors) != 1 || runs.actors[0] != (app.Actor{UserID: "op-1", Role: rbac.RoleAdmin}) {
		t.Fatalf("unexpected actors %+v", runs.actors)
	}
}

func TestRunDispatch_OwnerForbidden(t *testing.T) {
	r := newRouter(Handlers{Runs: &fakeRuns{}}, "u", "biz-1", rbac.RoleOwner)
	if w := do(r, http.MethodPost, "/v1/dispatch/run"); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestRunSync_ServiceRoleAndFailure(t *testing.T) {
	runs := &fakeRuns{}
	r := newRouter(Handlers{Runs: runs}, "scheduler", "", rbac.RoleService)
	if w := do(r, http.MethodPost, "/v1/sync/run"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	runs.syncErr = errors.New("upstream not configured")
	w := do(r, http.MethodPost, "/v1/sync/run")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if w.Body.String() != `{"error":"internal error"}` {
		t.Fatalf("internal errors must not leak, got %s", w.Body.String())
	}
}

func seededReports() *reporting.Service {
	repo := reporting.NewMemoryRepo()
	started := time.Date(2023, 11, 14, 15, 0, 0, 0, time.UTC)
	repo.Conversations = []conversations.Conversation{
		{ID: "c1", BusinessID: "biz-1", CampaignID: "camp-1", Status: conversations.StatusInitiated, StartedAt: started},
		{ID: "c2", BusinessID: "biz-1", CampaignID: "camp-1", Status: conversations.StatusInitiated, StartedAt: started.Add(48 * time.Hour)},
		{ID: "c3", BusinessID: "biz-2", CampaignID: "camp-1", Status: conversations.StatusInitiated, StartedAt: started},
	}
	return reporting.NewService(repo)
}

func TestCampaignSummary_ScopedToCallerBusiness(t *testing.T) {
	r := newRouter(Handlers{Reports: seededReports()}, "u", "biz-1", rbac.RoleAnalyst)

	w := do(r, http.MethodGet, "/v1/campaigns/camp-1/summary")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sum reporting.CampaignSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.BusinessID != "biz-1" || sum.Conversations != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	w = do(r, http.MethodGet, "/v1/campaigns/camp-1/summary?to=2023-11-15T00:00:00Z")
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil || sum.Conversations != 1 {
		t.Fatalf("expected range to keep one conversation, got %d (%v)", sum.Conversations, err)
	}

	if w := do(r, http.MethodGet, "/v1/campaigns/camp-1/summary?business_id=biz-2"); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign business, got %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/v1/campaigns/camp-1/summary?from=yesterday"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", w.Code)
	}
}

func TestCampaignSummary_PlatformCallerNamesBusiness(t *testing.T) {
	r := newRouter(Handlers{Reports: seededReports()}, "op", "", rbac.RoleAdmin)

	if w := do(r, http.MethodGet, "/v1/campaigns/camp-1/summary"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without business_id, got %d", w.Code)
	}
	w := do(r, http.MethodGet, "/v1/campaigns/camp-1/summary?business_id=biz-2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sum reporting.CampaignSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil || sum.Conversations != 1 {
		t.Fatalf("expected one biz-2 conversation, got %+v (%v)", sum, err)
	}

	// from after to is a validation error from the service.
	w = do(r, http.MethodGet, "/v1/campaigns/camp-1/summary?business_id=biz-1&from=2023-11-16T00:00:00Z&to=2023-11-15T00:00:00Z")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
