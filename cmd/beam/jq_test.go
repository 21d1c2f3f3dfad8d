package main

import (
	"testing"
	"time"

	"github.com/Aaronyf/beam/service/events"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJQFilterMatching(t *testing.T) {
	checked, err := events.Wrap(events.ReceiverAddressChecked{Address: "abc", Valid: true}, time.Now())
	require.NoError(t, err)
	failure, err := events.Wrap(events.Error{ErrorKind: events.ErrorInsufficientFunds, Message: "short"}, time.Now())
	require.NoError(t, err)
	change, err := events.Wrap(events.ChangeComputed{Change: wallet.Amount(4000)}, time.Now())
	require.NoError(t, err)

	tests := []struct {
		name        string
		env         events.Envelope
		filters     []string
		expectMatch bool
	}{
		{
			name:        "no filters match everything",
			env:         checked,
			expectMatch: true,
		},
		{
			name:        "kind match",
			env:         checked,
			filters:     []string{`.kind == "receiver_address_checked"`},
			expectMatch: true,
		},
		{
			name:        "kind mismatch",
			env:         failure,
			filters:     []string{`.kind == "receiver_address_checked"`},
			expectMatch: false,
		},
		{
			name:        "payload field truthy",
			env:         checked,
			filters:     []string{`.payload.valid`},
			expectMatch: true,
		},
		{
			name:        "all filters must match",
			env:         failure,
			filters:     []string{`.kind == "error"`, `.payload.kind == "node_address"`},
			expectMatch: false,
		},
		{
			name:        "numeric comparison",
			env:         change,
			filters:     []string{`.payload.change > 3000`},
			expectMatch: true,
		},
		{
			name:        "missing field is null",
			env:         change,
			filters:     []string{`.payload.nope`},
			expectMatch: false,
		},
		{
			name:        "runtime error does not match",
			env:         change,
			filters:     []string{`.payload.change | keys`},
			expectMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes, err := compileFilters(tt.filters)
			require.NoError(t, err)

			v, err := envelopeValue(tt.env)
			require.NoError(t, err)
			assert.Equal(t, tt.expectMatch, matchAll(codes, v))
		})
	}
}

func TestCompileFilters_Invalid(t *testing.T) {
	_, err := compileFilters([]string{`.kind ==`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")

	_, err = compileFilters([]string{`$undefined`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile jq filter")
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]any{}))
	assert.True(t, isTruthy(map[string]any{}))
}
