package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveHTTP(t *testing.T) {
	RegisterDefault()
	RegisterDefault()

	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/api/v1/health", "200"))
	ObserveHTTP("GET", "/api/v1/health", 200, 5*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/api/v1/health", "200"))

	assert.Equal(t, before+1, after)
}

func TestHandlerExposesCounters(t *testing.T) {
	RegisterDefault()
	SOSEmails.WithLabelValues("sent").Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "saferoute_sos_emails_total")
}
