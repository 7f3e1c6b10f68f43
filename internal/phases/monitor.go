package phases

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
)

// Tracked campaign metrics requested from platforms.
var monitorMetrics = []string{"spend", "impressions", "clicks", "conversions", "revenue"}

const (
	monitorPeriod = "last_7_days"
	alertsTable   = "alerts"
	alertsLimit   = 20
)

// Anomaly is one flagged deviation.
type Anomaly struct {
	CampaignID  string `json:"campaign_id"`
	Metric      string `json:"metric"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// MonitorPayload is the monitor phase output.
type MonitorPayload struct {
	Platforms []string               `json:"platforms"`
	Campaigns []core.CampaignMetrics `json:"campaigns"`
	Alerts    []map[string]any       `json:"alerts"`
	Anomalies []Anomaly              `json:"anomalies"`
	Summary   string                 `json:"summary"`
	Analysis  string                 `json:"analysis_text,omitempty"`
	Calls     []CallOutcome          `json:"calls"`
}

// Monitor collects current performance from every platform and flags
// anomalies.
type Monitor struct {
	base
}

// Phase implements Executor.
func (m *Monitor) Phase() core.Phase { return core.PhaseMonitor }

// Execute implements Executor. It fails only when no platform returned data
// or the anomaly analysis call failed.
func (m *Monitor) Execute(ctx context.Context, snap core.Snapshot, inv boundary.Invoker) (*core.PhaseResult, error) {
	logger := m.log(ctx, core.PhaseMonitor)
	platforms := m.platforms(snap)

	var (
		log       callLog
		mu        sync.Mutex
		campaigns []core.CampaignMetrics
		alerts    []map[string]any
		lastErr   error
		fetched   int
	)

	g, gctx := m.group(ctx)
	for _, platform := range platforms {
		g.Go(func() error {
			var out core.PlatformDataResult
			err := m.invoke(gctx, inv, &core.PlatformDataArgs{
				Platform:    platform,
				CampaignIDs: snap.Options.CampaignIDs,
				Metrics:     monitorMetrics,
				Period:      monitorPeriod,
			}, &out)
			log.add(core.ToolPlatformData, platform, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				return nil
			}
			fetched++
			for _, c := range out.Campaigns {
				if c.Platform == "" {
					c.Platform = platform
				}
				campaigns = append(campaigns, c)
			}
			return nil
		})
	}
	g.Go(func() error {
		var out core.DatastoreReadResult
		err := m.invoke(gctx, inv, &core.DatastoreReadArgs{Table: alertsTable, Limit: alertsLimit}, &out)
		log.add(core.ToolDatastoreRead, alertsTable, err)
		if err == nil {
			mu.Lock()
			alerts = out.Rows
			mu.Unlock()
		}
		return nil
	})
	_ = g.Wait()

	if fetched == 0 {
		if lastErr == nil {
			lastErr = errors.New("no platforms to monitor")
		}
		logger.Warn("no platform data retrieved", "platforms", platforms)
		return nil, lastErr
	}

	sort.Slice(campaigns, func(i, j int) bool {
		if campaigns[i].Platform != campaigns[j].Platform {
			return campaigns[i].Platform < campaigns[j].Platform
		}
		return campaigns[i].ID < campaigns[j].ID
	})
	if alerts == nil {
		alerts = []map[string]any{}
	}

	user, err := m.prompts.RenderMonitor(prompt.MonitorParams{
		Instruction: snap.Instruction,
		Platforms:   platforms,
		Campaigns:   campaigns,
		Alerts:      alerts,
		Failures:    log.failures(),
	})
	if err != nil {
		return nil, err
	}
	text, err := m.reason(ctx, inv, core.PurposeMonitor, user, 0.1, true)
	log.add(core.ToolReasoning, core.PurposeMonitor, err)
	if err != nil {
		return nil, err
	}

	payload := MonitorPayload{
		Platforms: platforms,
		Campaigns: campaigns,
		Alerts:    alerts,
		Anomalies: []Anomaly{},
	}
	var reply struct {
		Anomalies []Anomaly `json:"anomalies"`
		Summary   string    `json:"summary"`
	}
	if err := prompt.Decode(text, &reply); err != nil {
		logger.Debug("anomaly reply is not JSON, keeping text", "error", err)
		payload.Analysis = text
		payload.Summary = firstLine(text)
	} else {
		if reply.Anomalies != nil {
			payload.Anomalies = reply.Anomalies
		}
		payload.Summary = reply.Summary
	}
	payload.Calls = log.list()

	supporting := map[string]any{"campaigns": campaigns, "alerts": alerts}
	metrics := aggregate(campaigns)
	metrics["anomalies"] = float64(len(payload.Anomalies))
	return newResult(snap, payload.Summary, payload, supporting, metrics)
}

// aggregate totals campaign metrics and derives ctr and roas.
func aggregate(campaigns []core.CampaignMetrics) map[string]float64 {
	m := map[string]float64{"campaigns": float64(len(campaigns))}
	var spend, revenue float64
	var impressions, clicks, conversions int64
	for _, c := range campaigns {
		spend += c.Spend
		revenue += c.Revenue
		impressions += c.Impressions
		clicks += c.Clicks
		conversions += c.Conversions
	}
	m["spend"] = spend
	m["revenue"] = revenue
	m["impressions"] = float64(impressions)
	m["clicks"] = float64(clicks)
	m["conversions"] = float64(conversions)
	if impressions > 0 {
		m["ctr"] = float64(clicks) / float64(impressions)
	}
	if spend > 0 {
		m["roas"] = revenue / spend
	}
	return m
}
