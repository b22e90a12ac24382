package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorSearchOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    *VectorSearchOptions
		wantErr bool
		errMsg  string
	}{
		{"valid defaults", &VectorSearchOptions{Vector: []float32{0.1}}, false, ""},
		{"empty Vector", &VectorSearchOptions{Vector: []float32{}}, true, "vector cannot be empty"},
		{"nil Vector", &VectorSearchOptions{Vector: nil}, true, "vector cannot be empty"},
		{"Limit negative", &VectorSearchOptions{Vector: []float32{0.1}, Limit: -1}, true, "limit cannot be negative"},
		{"Limit zero sets default", &VectorSearchOptions{Vector: []float32{0.1}, Limit: 0}, false, ""},
		{"Limit > 200", &VectorSearchOptions{Vector: []float32{0.1}, Limit: 201}, true, "limit too large"},
		{"Limit == 200", &VectorSearchOptions{Vector: []float32{0.1}, Limit: 200}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.errMsg),
					"expected error to contain %q, got %q", tt.errMsg, err.Error())
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestVectorSearchOptions_Validate_SetsDefaultLimit(t *testing.T) {
	opts := &VectorSearchOptions{Vector: []float32{0.1}, Limit: 0}

	err := opts.Validate()

	require.NoError(t, err)
	assert.Equal(t, 24, opts.Limit, "Limit should be set to default candidate count")
}
