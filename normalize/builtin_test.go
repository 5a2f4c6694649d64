package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/core"
)

func TestSyslogSeverityMapping(t *testing.T) {
	tests := []struct {
		code int
		want core.Severity
	}{
		{0, core.SeverityCritical},
		{2, core.SeverityCritical},
		{3, core.SeverityHigh},
		{4, core.SeverityMedium},
		{5, core.SeverityMedium},
		{6, core.SeverityLow},
		{7, core.SeverityLow},
		{42, core.SeverityMedium},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, syslogSeverity(tt.code), "code %d", tt.code)
	}
	// Missing severity defaults to medium.
	assert.Equal(t, core.SeverityMedium, syslogSeverity(nil))
}

func TestWindowsEventNormalizer(t *testing.T) {
	n := WindowsEventNormalizer{}

	norm, err := n.Normalize(map[string]interface{}{
		"EventID":  float64(4625),
		"Level":    float64(2),
		"Message":  "An account failed to log on",
		"Channel":  "Security",
		"Computer": "DC01",
	})
	require.NoError(t, err)

	assert.Equal(t, core.EventTypeAuthentication, norm.EventType)
	assert.Equal(t, core.SeverityHigh, norm.Severity)
	assert.Contains(t, norm.Tags, "windows")
	assert.Equal(t, "DC01", norm.Fields["computer"])

	_, err = n.Normalize(map[string]interface{}{"Message": "no id"})
	assert.Error(t, err)
}

func TestWindowsEventTypeMapping(t *testing.T) {
	assert.Equal(t, core.EventTypeAuthentication, windowsEventType(4624))
	assert.Equal(t, core.EventTypeEndpoint, windowsEventType(4688))
	assert.Equal(t, core.EventTypeNetwork, windowsEventType(5156))
	assert.Equal(t, core.EventTypeSecurity, windowsEventType(4698))
	assert.Equal(t, core.EventTypeSystem, windowsEventType(1234))
}

func TestNetworkFlowNormalizer(t *testing.T) {
	n := NetworkFlowNormalizer{}

	norm, err := n.Normalize(map[string]interface{}{
		"src_ip":   "10.0.0.1",
		"dst_ip":   "203.0.113.7",
		"protocol": "tcp",
		"bytes":    float64(2500000),
	})
	require.NoError(t, err)

	assert.Equal(t, core.EventTypeNetwork, norm.EventType)
	assert.Equal(t, "10.0.0.1", norm.Fields["src_ip"])
	assert.Equal(t, float64(2500000), norm.Fields["bytes"])
	assert.Contains(t, norm.Tags, "flow")
}

func TestFallbackNormalizerTitle(t *testing.T) {
	n := FallbackNormalizer{}

	norm, err := n.Normalize(map[string]interface{}{"title": "custom title"})
	require.NoError(t, err)
	assert.Equal(t, "custom title", norm.Title)

	norm, err = n.Normalize(map[string]interface{}{"other": 1})
	require.NoError(t, err)
	assert.Equal(t, "Unclassified event", norm.Title)
}
