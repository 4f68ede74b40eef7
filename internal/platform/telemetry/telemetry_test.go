package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func counterValue(t *testing.T, tp *Provider, name string, labels map[string]string) float64 {
	t.Helper()
	fams, err := tp.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range fams {
		if fam.GetName() != name {
			continue
		}
	metric:
		for _, m := range fam.GetMetric() {
			for k, v := range labels {
				found := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						found = true
						break
					}
				}
				if !found {
					continue metric
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func TestOperationCounter(t *testing.T) {
	tp := NewProvider(Config{})

	tp.OperationCounter("pos", "checkout")
	tp.OperationCounter("pos", "checkout")
	tp.OperationCounter("pos", "refund")

	if got := counterValue(t, tp, "bridge_operation_count", map[string]string{"domain": "pos", "operation": "checkout"}); got != 2 {
		t.Errorf("expected checkout count 2, got %g", got)
	}
	if got := counterValue(t, tp, "bridge_operation_count", map[string]string{"domain": "pos", "operation": "refund"}); got != 1 {
		t.Errorf("expected refund count 1, got %g", got)
	}
}

func TestOperationCounterConcurrent(t *testing.T) {
	tp := NewProvider(Config{})

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tp.OperationCounter("encounter", "find_or_create")
		}()
	}
	wg.Wait()

	got := counterValue(t, tp, "bridge_operation_count", map[string]string{"domain": "encounter", "operation": "find_or_create"})
	if got != n {
		t.Errorf("expected %d, got %g", n, got)
	}
}

func TestMetricsMiddlewareRecordsDuration(t *testing.T) {
	tp := NewProvider(Config{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/encounters", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	mw := tp.MetricsMiddleware()
	h := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	observed := counterValue(t, tp, "http_server_request_duration_seconds", map[string]string{"method": "GET"})
	if observed != 1 {
		t.Errorf("expected 1 duration observation, got %g", observed)
	}
	if got := counterValue(t, tp, "http_server_active_requests", nil); got != 0 {
		t.Errorf("active requests gauge should return to 0, got %g", got)
	}
}

func TestMetricsMiddlewareRecordsErrorStatus(t *testing.T) {
	tp := NewProvider(Config{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pos/checkout", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	mw := tp.MetricsMiddleware()
	h := mw(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "already processed")
	})
	if err := h(c); err == nil {
		t.Fatal("expected error to propagate")
	}

	observed := counterValue(t, tp, "http_server_request_duration_seconds", map[string]string{"status": "409"})
	if observed != 1 {
		t.Errorf("expected observation labelled with error status, got %g", observed)
	}
}

func TestPrometheusHandler(t *testing.T) {
	tp := NewProvider(Config{ServiceName: "vetbridge-test"})
	tp.OperationCounter("commission", "create")
	tp.SetTerminalsConnected(3)
	tp.SetDBPoolActive(5)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := tp.PrometheusHandler()(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE bridge_operation_count counter",
		"# TYPE pos_terminals_connected gauge",
		"# TYPE db_pool_active_connections gauge",
		`service="vetbridge-test"`,
		`domain="commission"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
