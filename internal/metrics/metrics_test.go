package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m)
	assert.NotNil(t, m.Registry())
	assert.NotNil(t, m.DispatchTotal)
	assert.NotNil(t, m.ToolCacheLookupsTotal)
	assert.NotNil(t, m.AuditWriteFailuresTotal)
}

func TestMetrics_Helpers(t *testing.T) {
	m := NewMetrics()

	m.ObserveDispatch("mail.send", "succeeded", "", false, time.Second)
	m.ObserveDispatch("mail.send", "suppressed", "", true, time.Millisecond)
	m.ObserveDispatch("mail.send", "failed", "PermissionDenied", false, time.Millisecond)
	m.ObserveProviderCall("mail", nil, time.Second)
	m.CacheLookup("mail", true)
	m.CacheLookup("mail", false)
	m.CacheFetch("mail", errors.New("down"))
	m.LeaseAcquired()
	m.LeaseAcquired()
	m.LeaseReleased()
	m.ObserveAuditWrite(errors.New("disk full"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("mail.send", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicatesTotal.WithLabelValues("mail.send")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchErrorsTotal.WithLabelValues("mail.send", "PermissionDenied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCacheLookupsTotal.WithLabelValues("mail", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCacheFetchesTotal.WithLabelValues("mail", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DedupLeasesActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditWriteFailuresTotal))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDispatch("x.y", "failed", "Internal", false, 0)
		m.ObserveProviderCall("x", nil, 0)
		m.CacheLookup("x", true)
		m.CacheFetch("x", nil)
		m.LeaseAcquired()
		m.LeaseReleased()
		m.ObserveAuditWrite(nil, 0)
	})
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.ObserveDispatch("search.web", "succeeded", "", false, time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "toolgate_dispatch_total")
	assert.Contains(t, string(body), `tool_name="search.web"`)
}
