package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Constraint string            `validate:"required,semver_constraint"`
	Env        map[string]string `validate:"dive,keys,env_key,endkeys"`
	Chapter    string            `validate:"selector_part"`
	PullPolicy string            `validate:"pull_policy"`
	URL        string            `validate:"omitempty,url"`
}

func valid() sample {
	return sample{
		Constraint: "^1",
		Env:        map[string]string{"QG_MODE": "strict"},
		Chapter:    "1.2",
		PullPolicy: "IfNotPresent",
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, New().Validate(valid()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*sample)
		field   string
		message string
	}{
		{"missing constraint", func(s *sample) { s.Constraint = "" }, "constraint", "is required"},
		{"bad constraint", func(s *sample) { s.Constraint = "not a version" }, "constraint", "must be a valid version constraint (e.g. ^1.2)"},
		{"bad env key", func(s *sample) { s.Env = map[string]string{"1BAD": "x"} }, "", "must be a valid environment variable name"},
		{"underscore in selector", func(s *sample) { s.Chapter = "1_2" }, "chapter", "may only contain letters, digits, dots and hyphens"},
		{"pull policy", func(s *sample) { s.PullPolicy = "Sometimes" }, "pull_policy", "must be one of: Always, IfNotPresent, Never"},
		{"url", func(s *sample) { s.URL = "::" }, "u_r_l", "must be a valid URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)

			err := New().Validate(s)
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			if tt.field != "" {
				assert.Equal(t, tt.field, verrs[0].Field)
			}
			assert.Equal(t, tt.message, verrs[0].Message)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{{Field: "a", Message: "is required"}, {Field: "b", Message: "x"}}
	assert.Equal(t, "a: is required; b: x", errs.Error())
}
