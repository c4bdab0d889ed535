package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/employee/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "Employee not found")
		}
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})

	for _, path := range []string{"/api/employee/1", "/api/employee/2", "/api/employee/missing"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			switch md.Name {
			case "orgchart.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("unexpected data type %T", md.Data)
				}
				byStatus := map[string]int64{}
				for _, dp := range sum.DataPoints {
					route, _ := dp.Attributes.Value(attribute.Key("route"))
					if route.AsString() != "/api/employee/:id" {
						t.Errorf("route label = %q, want the route pattern", route.AsString())
					}
					status, _ := dp.Attributes.Value(attribute.Key("status"))
					byStatus[status.AsString()] += dp.Value
				}
				if byStatus["200"] != 2 || byStatus["404"] != 1 {
					t.Errorf("requests by status = %v", byStatus)
				}
			case "orgchart.http.request_duration_seconds":
				hist := md.Data.(metricdata.Histogram[float64])
				var total uint64
				for _, dp := range hist.DataPoints {
					total += dp.Count
				}
				if total != 3 {
					t.Errorf("expected 3 duration recordings, got %d", total)
				}
			}
		}
	}

	for _, name := range []string{
		"orgchart.http.requests_total",
		"orgchart.http.request_duration_seconds",
		"orgchart.http.response_size_bytes",
		"orgchart.http.active_requests",
	} {
		if !found[name] {
			t.Errorf("metric %s not found", name)
		}
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/api/employee/:id", "/api/employee/:id"},
	}

	for _, tt := range tests {
		if got := routeLabel(tt.input); got != tt.expected {
			t.Errorf("routeLabel(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
