package httpapi

import (
	"context"
	"net/http"
	"time"

	"donor-dialer/internal/app"
	"donor-dialer/internal/apperr"
	"donor-dialer/internal/auth"
	"donor-dialer/internal/dispatch"
	"donor-dialer/internal/rbac"
	"donor-dialer/internal/reporting"
	"donor-dialer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Runs triggers dispatch and sync passes on demand.
type Runs interface {
	RunDispatch(ctx context.Context, actor app.Actor) dispatch.Summary
	RunSync(ctx context.Context, actor app.Actor) (app.SyncResult, error)
}

type Reports interface {
	CampaignSummary(ctx context.Context, req reporting.CampaignSummaryRequest) (reporting.CampaignSummary, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Runs    Runs
	Reports Reports
}

func actorFrom(ctx context.Context) app.Actor {
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	return app.Actor{UserID: uid, Role: role}
}

func abortErr(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// --- Identity ---

func (h Handlers) Me(c *gin.Context) {
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	bid, _ := auth.BusinessID(ctx)
	role, _ := auth.Role(ctx)
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "business_id": bid, "role": role, "platform": auth.IsPlatform(ctx)})
}

// --- Runs ---

// RunDispatch runs one dispatch tick now. It always answers 200 with the
// summary; per-lead failures are counted in it, not surfaced as errors.
func (h Handlers) RunDispatch(c *gin.Context) {
	if h.Runs == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "runner not configured"})
		return
	}
	sum := h.Runs.RunDispatch(c.Request.Context(), actorFrom(c.Request.Context()))
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) RunSync(c *gin.Context) {
	if h.Runs == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "runner not configured"})
		return
	}
	res, err := h.Runs.RunSync(c.Request.Context(), actorFrom(c.Request.Context()))
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Reporting ---

// CampaignSummary reports one campaign's conversation breakdown.
// Business-bound callers read their own business; platform callers pass
// ?business_id=. Optional ?from=&to= are RFC 3339.
func (h Handlers) CampaignSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	ctx := c.Request.Context()

	businessID, err := auth.BusinessID(ctx)
	if err != nil || businessID == "" {
		role, _ := auth.Role(ctx)
		if !auth.IsPlatform(ctx) || !rbac.IsPlatformRole(role) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "business_id required"})
			return
		}
		businessID = c.Query("business_id")
		if businessID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "business_id query parameter required"})
			return
		}
	} else if q := c.Query("business_id"); q != "" && q != businessID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var rng reporting.TimeRange
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &rng.From}, {"to", &rng.To}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": p.name + " must be RFC 3339"})
			return
		}
		*p.dst = t.UTC()
	}

	sum, err := h.Reports.CampaignSummary(ctx, reporting.CampaignSummaryRequest{
		BusinessID: businessID,
		CampaignID: c.Param("campaign_id"),
		Range:      rng,
	})
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Convenience middleware bundles.

func RequireBusinessAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireBusiness(), rbac.RequireAnyRole(roles...)}
}
