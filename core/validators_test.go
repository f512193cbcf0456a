package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateStruct(t *testing.T) {
	type poll struct {
		Question string   `json:"question" validate:"notblank"`
		Options  []string `json:"options" validate:"min=2,dive,notblank"`
	}

	tests := []struct {
		name string
		in   poll
		want map[string]string
	}{
		{name: "valid", in: poll{Question: "Done?", Options: []string{"yes", "no"}}},
		{
			name: "blank question",
			in:   poll{Question: " \t ", Options: []string{"yes", "no"}},
			want: map[string]string{"question": "question must not be blank"},
		},
		{
			name: "blank option",
			in:   poll{Question: "Done?", Options: []string{"yes", "  "}},
			want: map[string]string{"options[1]": "options[1] must not be blank"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.in)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			if assert.True(t, IsValidationError(err), "ValidateStruct() error = %v, want *ValidationError", err) {
				assert.Equal(t, tt.want, err.(*ValidationError).FieldMap())
			}
		})
	}
}
