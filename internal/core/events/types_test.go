package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/artpar/launchpad/internal/core/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampProgress(t *testing.T) {
	tests := []struct {
		in, expected int
	}{
		{150, 100},
		{-10, 0},
		{55, 55},
		{0, 0},
		{100, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ClampProgress(tt.in), "input %d", tt.in)
	}
	assert.Equal(t, 100, *Progress(101))
}

func TestFormatTimestamp(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2026, 3, 4, 12, 30, 45, 123456789, loc)
	assert.Equal(t, "2026-03-04T10:30:45.123Z", FormatTimestamp(at))
}

func TestStamp_OverwritesWorkspace(t *testing.T) {
	p := &Status{Base: Base{WorkspaceID: "spoofed", ProjectID: "proj-1"}, ServiceID: "svc-1"}
	Stamp(p, "ws-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, "ws-1", p.WorkspaceID)
	assert.Equal(t, "ws-1", WorkspaceOf(p))
	assert.Equal(t, "proj-1", p.ProjectID)
	assert.Equal(t, "2026-01-01T00:00:00.000Z", p.Timestamp)
}

func TestVariableNames_PreservesOrderDropsValues(t *testing.T) {
	names := VariableNames([]command.Variable{
		{Name: "DATABASE_URL", Value: "postgres://u:p@h/db"},
		{Name: "API_KEY", Value: "secret"},
	})
	assert.Equal(t, []string{"DATABASE_URL", "API_KEY"}, names)
}

func TestEnvelope_JSONShape(t *testing.T) {
	env := Envelope{
		Type: TypeStatus,
		Payload: &Status{
			Base:        Base{WorkspaceID: "ws-1", ProjectID: "proj-1", Timestamp: "2026-01-01T00:00:00.000Z"},
			ServiceID:   "svc-1",
			ServiceName: "api",
			Status:      "building",
			Progress:    Progress(10),
		},
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "deployment:status",
		"payload": {
			"workspaceId": "ws-1",
			"projectId": "proj-1",
			"timestamp": "2026-01-01T00:00:00.000Z",
			"serviceId": "svc-1",
			"serviceName": "api",
			"status": "building",
			"progress": 10
		}
	}`, string(data))
}

func TestEnvChanged_CarriesNamesOnly(t *testing.T) {
	p := &EnvChanged{
		ServiceID:     "svc-1",
		Action:        EnvSet,
		VariableNames: VariableNames([]command.Variable{{Name: "API_KEY", Value: "super-secret"}}),
	}
	data, err := json.Marshal(Envelope{Type: TypeEnvChanged, Payload: p})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret")
	assert.Contains(t, string(data), `"variableNames":["API_KEY"]`)
}
