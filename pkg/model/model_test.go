package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{in: "passed", want: StatusPassed},
		{in: " FAILED ", want: StatusFailed},
		{in: "broken", want: StatusBroken},
		{in: "skipped", want: StatusSkipped},
		{in: "pending", want: StatusUnknown},
		{in: "", want: StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseStatus(tt.in))
		})
	}
}

func TestStatistic_Add(t *testing.T) {
	var s Statistic

	for _, st := range []Status{StatusPassed, StatusPassed, StatusFailed, StatusBroken, StatusSkipped, "weird"} {
		s.Add(st)
	}

	assert.Equal(t, Statistic{Failed: 1, Broken: 1, Passed: 2, Skipped: 1, Unknown: 1, Total: 6}, s)
	assert.Equal(t, 2, s.Count(StatusPassed))

	var merged Statistic
	merged.Merge(s)
	merged.Merge(s)
	assert.Equal(t, 12, merged.Total)
}

func TestStep_MarshalJSONCarriesTypeTag(t *testing.T) {
	steps := []Step{
		&DefaultStep{
			Name:   "login",
			Status: StatusPassed,
			Steps: []Step{
				&AttachmentStep{Attachment: &AttachmentLink{ID: "a1", OriginalName: "shot.png"}},
			},
		},
	}

	data, err := json.Marshal(steps)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "step", decoded[0]["type"])
	assert.Equal(t, "login", decoded[0]["name"])

	nested := decoded[0]["steps"].([]any)[0].(map[string]any)
	assert.Equal(t, "attachment", nested["type"])
	assert.Equal(t, "a1", nested["attachment"].(map[string]any)["id"])
}

func TestWalkSteps(t *testing.T) {
	steps := []Step{
		&DefaultStep{Name: "a", Steps: []Step{
			&DefaultStep{Name: "b"},
			&AttachmentStep{Attachment: &AttachmentLink{ID: "x"}},
		}},
		&DefaultStep{Name: "c"},
	}

	var visited []string

	WalkSteps(steps, func(s Step) {
		switch st := s.(type) {
		case *DefaultStep:
			visited = append(visited, st.Name)
		case *AttachmentStep:
			visited = append(visited, "@"+st.Attachment.ID)
		}
	})

	assert.Equal(t, []string{"a", "b", "@x", "c"}, visited)
}
