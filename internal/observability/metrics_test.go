package observability

import (
	"testing"
	"time"

	"github.com/linkwire/linkd/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordConnectionAccepted()
	RecordFrameReceived("message")
	RecordFrameSent("disconnect")
	RecordMessage()
	WorkerStarted()
	WorkerFinished()
	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
}
