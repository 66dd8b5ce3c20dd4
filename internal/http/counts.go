package http

import (
	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/mode"
)

// StatusCounts tallies campaigns by lifecycle status.
type StatusCounts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	// SafeMode counts non-terminal campaigns running in SAFE mode.
	SafeMode int `json:"safe_mode"`
}

// CountCampaigns tallies cs. Unknown statuses count toward Total only.
func CountCampaigns(cs []*campaign.Campaign) StatusCounts {
	var out StatusCounts
	for _, c := range cs {
		if c == nil {
			continue
		}
		out.Total++
		switch c.Status {
		case campaign.StatusActive:
			out.Active++
		case campaign.StatusPaused:
			out.Paused++
		case campaign.StatusCompleted:
			out.Completed++
		}
		if !c.Status.IsTerminal() && c.Mode == mode.Safe {
			out.SafeMode++
		}
	}
	return out
}
