package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.IncidentReported()
	c.IncidentReported()
	c.VerificationRecorded("progress")
	c.VerificationRecorded("transition")
	c.VerificationRecorded("progress")
	c.EventDelivered("chat", "incident_reported", nil)
	c.EventDelivered("announce", "incident_verified", errors.New("down"))
	c.HTTPRequest("/api/v1/watch/verify", "POST", 200, 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.incidentsReported))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.verifications.WithLabelValues("progress")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.verifications.WithLabelValues("transition")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("announce", "incident_verified", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("/api/v1/watch/verify", "POST", "200")))
}
