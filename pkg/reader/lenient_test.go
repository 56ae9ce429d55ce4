package reader

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooseString(t *testing.T) {
	tests := []struct {
		in   string
		want looseString
	}{
		{in: `"text"`, want: "text"},
		{in: `5`, want: "5"},
		{in: `1.25`, want: "1.25"},
		{in: `true`, want: "true"},
		{in: `null`, want: ""},
		{in: `{"a":1}`, want: ""},
		{in: `[1,2]`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got looseString
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLooseInt64(t *testing.T) {
	tests := []struct {
		in   string
		want looseInt64
	}{
		{in: `1700000000000`, want: 1700000000000},
		{in: `1700000000000.0`, want: 1700000000000},
		{in: `12.9`, want: 12},
		{in: `"250"`, want: 250},
		{in: `"2.5e3"`, want: 2500},
		{in: `"soon"`, want: 0},
		{in: `null`, want: 0},
		{in: `{}`, want: 0},
		{in: `1e300`, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got looseInt64
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLooseBool(t *testing.T) {
	tests := []struct {
		in   string
		want looseBool
	}{
		{in: `true`, want: true},
		{in: `false`, want: false},
		{in: `"true"`, want: true},
		{in: `1`, want: true},
		{in: `0`, want: false},
		{in: `"maybe"`, want: false},
		{in: `null`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got looseBool
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLooseList(t *testing.T) {
	var got looseList[allure2Label]
	require.NoError(t, json.Unmarshal([]byte(`[{"name":"a","value":1}, 3, "x", {"name":"b"}]`), &got))
	require.Len(t, got, 2)
	assert.Equal(t, looseString("a"), got[0].Name)
	assert.Equal(t, looseString("1"), got[0].Value)
	assert.Equal(t, looseString("b"), got[1].Name)

	var notList looseList[allure2Label]
	require.NoError(t, json.Unmarshal([]byte(`{"name":"a"}`), &notList))
	assert.Empty(t, notList)
}
