package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"ERROR", LevelError},
		{"error", LevelError},
		{"  err ", LevelError},
		{"FATAL", LevelError},
		{"CRITICAL", LevelError},
		{"warn", LevelWarn},
		{"WARNING", LevelWarn},
		{"info", LevelInfo},
		{"debug", LevelOther},
		{"trace", LevelOther},
		{"", LevelOther},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "输入: %q", tt.input)
	}
}

func TestServicePendingOmittedWhenFalse(t *testing.T) {
	data, err := json.Marshal(Service{ServiceID: "svc-a", Name: "A"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "pending", "未乐观插入的服务不应携带pending字段")

	data, err = json.Marshal(Service{ServiceID: "svc-b", Pending: true})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pending":true`)
}
