package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/freeagent/pkg/toolexecutor"
)

var now = time.Now

func datetimeDefinition(defaultZone string) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "get_datetime",
		Description: "Get the current date and time, optionally in a given IANA timezone (e.g. Asia/Ho_Chi_Minh).",
		Category:    toolexecutor.CategoryGeneral,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "timezone", Type: "string", Description: "IANA timezone name"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			zone := stringArg(params, "timezone")
			if zone == "" {
				zone = defaultZone
			}
			loc := time.Local
			if zone != "" {
				l, err := time.LoadLocation(zone)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", zone)
				}
				loc = l
			}
			t := now().In(loc)
			return fmt.Sprintf("%s (%s, %s)", t.Format("2006-01-02 15:04:05 -07:00"), t.Weekday(), loc), nil
		},
	}
}
