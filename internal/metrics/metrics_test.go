package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	Init()
	Init()
	if crawlRunsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("collectors not initialized")
	}
}

func TestObserveRun(t *testing.T) {
	Init()
	before := testutil.ToFloat64(crawlRunsTotal.WithLabelValues("db", "partial"))
	ObserveRun("db", "partial", time.Minute, time.Now())
	if got := testutil.ToFloat64(crawlRunsTotal.WithLabelValues("db", "partial")); got != before+1 {
		t.Errorf("runs_total{db,partial} = %f; want %f", got, before+1)
	}
}
