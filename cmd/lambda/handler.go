package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"donor-dialer/internal/app"
	"donor-dialer/internal/dispatch"
	"donor-dialer/pkg/logger"

	"github.com/aws/aws-lambda-go/events"
)

type runner interface {
	RunDispatch(ctx context.Context, actor app.Actor) dispatch.Summary
	RunSync(ctx context.Context, actor app.Actor) (app.SyncResult, error)
}

// scheduleDetail is the optional JSON detail of an EventBridge rule target.
type scheduleDetail struct {
	Run string `json:"run"`
}

type handler struct {
	runner runner
}

// Handle runs dispatch or sync for one scheduled EventBridge event. The job
// comes from detail.run, falling back to the detail-type
// ("donor-dialer.dispatch" / "donor-dialer.sync").
func (h handler) Handle(ctx context.Context, ev events.CloudWatchEvent) (any, error) {
	job := jobFor(ev)
	log := logger.From(ctx).With("event_id", ev.ID, "job", job)

	switch job {
	case "dispatch":
		sum := h.runner.RunDispatch(ctx, app.Actor{})
		log.Info("scheduled dispatch finished", "run_id", sum.RunID, "dispatched", sum.Dispatched)
		return sum, nil
	case "sync":
		res, err := h.runner.RunSync(ctx, app.Actor{})
		if err != nil {
			return nil, err
		}
		return res, nil
	default:
		return nil, fmt.Errorf("unknown scheduled job %q (detail-type %q)", job, ev.DetailType)
	}
}

func jobFor(ev events.CloudWatchEvent) string {
	var d scheduleDetail
	if len(ev.Detail) > 0 && json.Unmarshal(ev.Detail, &d) == nil && d.Run != "" {
		return strings.ToLower(strings.TrimSpace(d.Run))
	}
	dt := strings.ToLower(ev.DetailType)
	if i := strings.LastIndex(dt, "."); i >= 0 {
		dt = dt[i+1:]
	}
	return strings.TrimSpace(dt)
}
