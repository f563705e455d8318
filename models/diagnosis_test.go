package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverity_AtLeast(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityCritical))
	assert.True(t, SeverityCritical.AtLeast(SeverityLow))
	assert.True(t, SeverityHigh.AtLeast(SeverityMedium))
	assert.False(t, SeverityHigh.AtLeast(SeverityCritical))
	assert.False(t, Severity("urgent").AtLeast(SeverityLow))
}

func TestDiagnosis_Validate(t *testing.T) {
	fix := &FixPlan{File: "server.js", Changes: []Change{{OldText: "3001", NewText: "3000"}}}

	tests := []struct {
		name    string
		d       Diagnosis
		wantErr string
	}{
		{name: "valid fix", d: Diagnosis{RootCause: "port", Severity: SeverityHigh, AutoFixable: true, Fix: fix}},
		{name: "valid manual", d: Diagnosis{RootCause: "db down", Severity: SeverityCritical}},
		{name: "no root cause", d: Diagnosis{Severity: SeverityLow}, wantErr: "missing rootCause"},
		{name: "bad severity", d: Diagnosis{RootCause: "x", Severity: "urgent"}, wantErr: "invalid severity"},
		{name: "fixable without fix", d: Diagnosis{RootCause: "x", Severity: SeverityLow, AutoFixable: true}, wantErr: "without fix"},
		{name: "fix on manual", d: Diagnosis{RootCause: "x", Severity: SeverityLow, Fix: fix}, wantErr: "non auto-fixable"},
		{
			name:    "empty oldText",
			d:       Diagnosis{RootCause: "x", Severity: SeverityLow, AutoFixable: true, Fix: &FixPlan{File: "a.js", Changes: []Change{{NewText: "y"}}}},
			wantErr: "empty oldText",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
