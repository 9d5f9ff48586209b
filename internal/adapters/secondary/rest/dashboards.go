package rest

import (
	"context"
	"fmt"

	"github.com/lorrc/dashboard-sync/internal/core/domain"
	apperrors "github.com/lorrc/dashboard-sync/internal/core/errors"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

// Ensure Client implements the DashboardFetcher interface.
var _ ports.DashboardFetcher = (*Client)(nil)

// endpoint is one call contributing a payload key to a dashboard fetch.
type endpoint struct {
	key  string
	path string
	// body, when set, turns the call into a POST.
	body any
}

type batchRequest struct {
	UserIDs []string `json:"userIds"`
}

// dashboardEndpoints lists the calls that make up the initial data of
// dashboard type t. Payload keys line up with the push merge keys where
// both describe the same data.
func dashboardEndpoints(t domain.DashboardType, scope domain.Scope, filters map[string]any) ([]endpoint, error) {
	switch t {
	case domain.DashboardEmployee:
		if scope.UserID == "" {
			return nil, apperrors.ErrScopeRequired
		}
		return []endpoint{
			{key: "performance", path: "/performance/reports/my-performance"},
			{key: "worktime", path: "/work-time/statistics/my-time"},
			{key: "participation", path: "/projects/progress/participation/" + scope.UserID},
		}, nil

	case domain.DashboardTeamLead:
		if scope.TeamID == "" {
			return nil, apperrors.ErrScopeRequired
		}
		eps := []endpoint{
			{key: "team", path: "/work-time/productivity/team/" + scope.TeamID},
			{key: "performance", path: "/performance/reports/batch", body: batchRequest{UserIDs: []string{}}},
		}
		if dept := filterString(filters, "departmentId"); dept != "" {
			eps = append(eps, endpoint{key: "department", path: "/work-time/statistics/department/" + dept})
		}
		return eps, nil

	case domain.DashboardProjectManager:
		return []endpoint{
			{key: "projects", path: "/projects/progress/overview"},
			{key: "resources", path: "/projects/resources/allocation/summary"},
			{key: "progress", path: "/projects/progress/dashboard"},
		}, nil

	case domain.DashboardAdmin:
		return []endpoint{
			{key: "users", path: "/identity/users"},
			{key: "departments", path: "/identity/departments"},
			{key: "resources", path: "/projects/resources/utilization/metrics"},
			{key: "performance", path: "/performance/reports/department/all"},
		}, nil

	case domain.DashboardGeneral:
		return []endpoint{
			{key: "projects", path: "/projects/progress/overview"},
		}, nil
	}
	return nil, apperrors.ErrInvalidDashboardType
}

func filterString(filters map[string]any, key string) string {
	v, ok := filters[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// FetchDashboard runs every endpoint of the dashboard type concurrently
// and assembles the payload. Any failing endpoint fails the whole fetch.
func (c *Client) FetchDashboard(ctx context.Context, dashboardType domain.DashboardType, scope domain.Scope, filters map[string]any) (domain.DashboardData, error) {
	eps, err := dashboardEndpoints(dashboardType, scope, filters)
	if err != nil {
		return domain.DashboardData{}, err
	}

	// The payload is as of the moment the requests went out.
	issued := c.now()
	results := make([]any, len(eps))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range eps {
		g.Go(func() error {
			var out any
			var err error
			if ep.body != nil {
				err = c.postJSON(gctx, ep.path, ep.body, &out)
			} else {
				err = c.getJSON(gctx, ep.path, nil, &out)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", ep.key, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.DashboardData{}, err
	}

	payload := make(map[string]any, len(eps))
	for i, ep := range eps {
		payload[ep.key] = results[i]
	}

	return domain.DashboardData{
		Payload:   payload,
		Timestamp: issued,
	}, nil
}
