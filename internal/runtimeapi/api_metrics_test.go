package runtimeapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/freyr/internal/testsupport"
)

// Metrics tests are not parallel: they observe global counters.

func TestEvaluate_Metrics(t *testing.T) {
	api := newTestAPI(t)

	req := EvaluateRequest{
		ContactID:  "C",
		CountryISO: "PE",
		Ctx:        map[string]any{"gasto": 10.0},
	}

	testsupport.AssertMetricDelta(t, "freyr_runtime_evaluations_total", map[string]string{"country": "PE"}, 1, func() {
		rec := post(t, api, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	testsupport.AssertHistogramRecorded(t, "freyr_runtime_evaluation_seconds", nil)
}
