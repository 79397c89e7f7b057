package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCaseCountersByLabel(t *testing.T) {
	before := testutil.ToFloat64(CasesTotal.WithLabelValues("ban", "command"))
	CasesTotal.WithLabelValues("ban", "command").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(CasesTotal.WithLabelValues("ban", "command")))
}

func TestPendingGauge(t *testing.T) {
	PendingCases.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(PendingCases))
}
