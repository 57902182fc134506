package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrementAndExport(t *testing.T) {
	LoginFlows.WithLabelValues("test_outcome").Inc()
	if v := testutil.ToFloat64(LoginFlows.WithLabelValues("test_outcome")); v < 1 {
		t.Fatalf("expected LoginFlows >= 1, got %v", v)
	}
	StoreMutations.WithLabelValues("save").Add(2)
	if v := testutil.ToFloat64(StoreMutations.WithLabelValues("save")); v < 2 {
		t.Fatalf("expected StoreMutations >= 2, got %v", v)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "accountd_login_flows_total") {
		t.Fatal("login flow counter missing from export")
	}
}
