package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordersCountAfterInit(t *testing.T) {
	Init(nil, nil)

	before := testutil.ToFloat64(reportBuildTotal.WithLabelValues(ReportMonthly, ResultError))
	ObserveReportBuild(ReportMonthly, ResultError, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(reportBuildTotal.WithLabelValues(ReportMonthly, ResultError)))

	hits := testutil.ToFloat64(reportCacheTotal.WithLabelValues(cacheHit))
	IncCacheLookup(true)
	assert.Equal(t, hits+1, testutil.ToFloat64(reportCacheTotal.WithLabelValues(cacheHit)))

	estimated := testutil.ToFloat64(estimatedHoursTotal.WithLabelValues("guest"))
	AddEstimatedHours("guest", 12)
	AddEstimatedHours("guest", 0)
	assert.Equal(t, estimated+12, testutil.ToFloat64(estimatedHoursTotal.WithLabelValues("guest")))

	reloads := testutil.ToFloat64(settingsReloadTotal.WithLabelValues(ResultSuccess))
	IncSettingsReload("")
	assert.Equal(t, reloads+1, testutil.ToFloat64(settingsReloadTotal.WithLabelValues(ResultSuccess)))
}
