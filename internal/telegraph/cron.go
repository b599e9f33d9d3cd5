package telegraph

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions (minute, hour, dom,
// month, dow) and descriptors such as "@hourly".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a maintenance schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("telegraph: schedule %q: %w", expr, err)
	}
	return sched, nil
}
