package adminapi

import (
	"net/http"
	"regexp"
	"time"

	"github.com/araddon/dateparse"
	"github.com/labstack/echo/v4"
	"github.com/montanaflynn/stats"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/pkg/metrics"
)

var metricNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// metricsQuery is the signature of metrics.Query, swapped in tests.
var metricsQuery = metrics.Query

type metricSummary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Sum    float64 `json:"sum"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
}

func registerMetricsRoutes() {
	webserver.ApiGET("/metrics/:name", queryMetric)
}

// parseTimeParam reads a query time in any format dateparse understands; empty yields def.
func parseTimeParam(c echo.Context, key string, def time.Time) (time.Time, error) {
	v := c.QueryParam(key)
	if v == "" {
		return def, nil
	}
	return dateparse.ParseAny(v)
}

func queryMetric(c echo.Context) error {
	name := c.Param("name")
	if !metricNamePattern.MatchString(name) {
		return fail(c, http.StatusBadRequest, "INVALID_METRIC", "Invalid metric name", nil)
	}
	now := time.Now()
	until, err := parseTimeParam(c, "until", now)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_TIME", "Unable to parse until", err.Error())
	}
	since, err := parseTimeParam(c, "since", until.Add(-time.Hour))
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_TIME", "Unable to parse since", err.Error())
	}
	if !since.Before(until) {
		return fail(c, http.StatusBadRequest, "INVALID_TIME", "since must be before until", nil)
	}

	points, err := metricsQuery(name, since, until)
	if err != nil {
		return failSession(c, err)
	}
	values := make(stats.Float64Data, 0, len(points))
	for _, p := range points {
		values = append(values, p.Value)
	}
	return ok(c, map[string]interface{}{
		"name":    name,
		"since":   since,
		"until":   until,
		"points":  points,
		"summary": summarize(values),
	})
}

func summarize(values stats.Float64Data) metricSummary {
	s := metricSummary{Count: values.Len()}
	if s.Count == 0 {
		return s
	}
	s.Min, _ = values.Min()
	s.Max, _ = values.Max()
	s.Sum, _ = values.Sum()
	s.Mean, _ = values.Mean()
	s.Median, _ = values.Median()
	s.P95, _ = values.Percentile(95)
	return s
}
