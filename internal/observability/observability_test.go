package observability_test

import (
	"EscrowLedger/internal/observability"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Readiness(t *testing.T) {
	h := observability.NewHealthChecker()
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewLoggerTo_WritesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLoggerTo(&buf, "settlement", zerolog.InfoLevel)

	logger.Debug().Msg("hidden")
	logger.Info().Uint64("shortfall", 220).Msg("settlement applied")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "settlement", line["component"])
	assert.Equal(t, "settlement applied", line["message"])
	assert.EqualValues(t, 220, line["shortfall"])
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	m1 := observability.NewMetricsWith(prometheus.NewRegistry())
	m2 := observability.NewMetricsWith(prometheus.NewRegistry())

	m1.SettlementsTotal.WithLabelValues("signed_fee_strict", "applied").Inc()
	m1.SetChannelMetrics("persist", 5, 10)

	assert.Equal(t, 1.0, testutil.ToFloat64(m1.SettlementsTotal.WithLabelValues("signed_fee_strict", "applied")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m2.SettlementsTotal.WithLabelValues("signed_fee_strict", "applied")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m1.ChannelUtilization.WithLabelValues("persist")))
}
