package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityResponse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []Entity
		wantErr bool
	}{
		{
			"plain array",
			`[{"text":"Ada Lovelace","type":"person"},{"text":"London","type":"location"}]`,
			[]Entity{{Text: "Ada Lovelace", Type: EntityTypePerson}, {Text: "London", Type: EntityTypeLocation}},
			false,
		},
		{
			"fenced json",
			"```json\n[{\"text\":\"ACME\",\"type\":\"org\"}]\n```",
			[]Entity{{Text: "ACME", Type: EntityTypeOrg}},
			false,
		},
		{
			"unknown type coerced to other",
			`[{"text":"42","type":"number"}]`,
			[]Entity{{Text: "42", Type: EntityTypeOther}},
			false,
		},
		{
			"empty text dropped",
			`[{"text":"","type":"person"},{"text":"Bob","type":"person"}]`,
			[]Entity{{Text: "Bob", Type: EntityTypePerson}},
			false,
		},
		{"not json", `the entities are Bob and ACME`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEntityResponse(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEntityTypeIsValid(t *testing.T) {
	assert.True(t, EntityTypeAny.IsValid())
	assert.True(t, EntityTypePerson.IsValid())
	assert.False(t, EntityType("number").IsValid())
}

func TestSummaryStyleIsValid(t *testing.T) {
	assert.True(t, SummaryStyleConcise.IsValid())
	assert.True(t, SummaryStyleBullets.IsValid())
	assert.False(t, SummaryStyle("haiku").IsValid())
}
