package plugins

import (
	"context"
	"fmt"
	"time"

	"github.com/glimchat/glim/internal/plugin"
)

// ClockID is the plugin identity of the built-in time plugin.
const ClockID = "OfficialTime"

// Clock answers current-time queries for arbitrary IANA timezones.
type Clock struct {
	now func() time.Time
}

// NewClock creates the time plugin.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

func (c *Clock) ID() string { return ClockID }

func (c *Clock) Manifest() *plugin.Manifest {
	return &plugin.Manifest{
		SchemaVersion:       "v1",
		NameForModel:        ClockID,
		NameForHuman:        "Current Time",
		DescriptionForModel: "Get the current date and time in any IANA timezone.",
		DescriptionForHuman: "Tells the current time anywhere in the world.",
		Document: internalDocument(ClockID, map[string]plugin.PathItem{
			"/now": {Get: &plugin.Operation{
				OperationID: "currentTime",
				Summary:     "Get the current date and time.",
				Parameters: []plugin.Parameter{{
					Name:   "timezone",
					In:     plugin.InQuery,
					Schema: stringSchema("IANA timezone name, e.g. Europe/Paris. Defaults to UTC."),
				}},
			}},
		}),
	}
}

func (c *Clock) Handle(_ context.Context, operationID string, args map[string]any) (any, error) {
	if operationID != "currentTime" {
		return nil, fmt.Errorf("unknown operation %q", operationID)
	}

	tz := stringArg(args, "timezone")
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
	}

	now := c.now().In(loc)
	return map[string]any{
		"timezone": tz,
		"time":     now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"unix":     now.Unix(),
	}, nil
}
