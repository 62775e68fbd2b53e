package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"TEXT", FormatTable, false},
		{"json", FormatJSON, false},
		{" yaml ", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultFormat_NotATerminal(t *testing.T) {
	// Test binaries run with stdout redirected to a pipe or file.
	assert.Equal(t, FormatJSON, DefaultFormat(nil))
	assert.Equal(t, defaultWidth, Width(nil))
}

type encoded struct {
	ID    string `json:"id" yaml:"id"`
	Count int    `json:"count" yaml:"count"`
}

func TestEncode(t *testing.T) {
	v := encoded{ID: "svc_01", Count: 3}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatJSON, v))
	assert.JSONEq(t, `{"id":"svc_01","count":3}`, buf.String())
	assert.True(t, strings.Contains(buf.String(), "\n  "), "JSON should be indented")

	buf.Reset()
	require.NoError(t, Encode(&buf, FormatYAML, v))
	assert.YAMLEq(t, "id: svc_01\ncount: 3\n", buf.String())

	assert.Error(t, Encode(&buf, FormatTable, v))
}
