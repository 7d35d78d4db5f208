package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danmuck/peerchat/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("peer-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordConnectAttempt("failure")
	RecordEventReceived("chat")
	RecordReceiverFault("decode")

	dropped := testutil.ToFloat64(eventsDropped.WithLabelValues("reset"))
	RecordEventDropped("reset")
	if got := testutil.ToFloat64(eventsDropped.WithLabelValues("reset")); got-dropped != 1 {
		t.Fatalf("dropped counter delta=%v", got-dropped)
	}

	before := testutil.ToFloat64(eventsSent.WithLabelValues("chat", "true"))
	RecordEventSent("chat", true)
	after := testutil.ToFloat64(eventsSent.WithLabelValues("chat", "true"))
	if after-before != 1 {
		t.Fatalf("sent counter delta=%v", after-before)
	}
}
