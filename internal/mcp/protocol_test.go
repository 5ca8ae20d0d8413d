package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorResponse(t *testing.T) {
	assert.Equal(t,
		`{"jsonrpc":"2.0","error":{"code":-32001,"message":"Session not found"},"id":null}`,
		string(ErrorResponse(CodeSessionNotFound, "Session not found")))
}

func TestIsInitializeRequest(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, true},
		{"  \n" + `{"jsonrpc":"2.0","id":"a","method":"initialize"}`, true},
		{`{"jsonrpc":"2.0","method":"initialize"}`, false},
		{`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, false},
		{`{"id":1,"method":"initialize"}`, false},
		{`[{"jsonrpc":"2.0","id":1,"method":"initialize"}]`, false},
		{``, false},
		{`garbage`, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsInitializeRequest([]byte(tt.body)), tt.body)
	}
}

func TestIsErrorResponse(t *testing.T) {
	assert.True(t, IsErrorResponse([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"x"}}`)))
	assert.False(t, IsErrorResponse([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)))
	assert.False(t, IsErrorResponse([]byte(`{"jsonrpc":"2.0","id":1,"error":null}`)))
	assert.False(t, IsErrorResponse(nil))
}
