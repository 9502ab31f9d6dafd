package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("tx 42: %w", ErrNotFound), "not_found"},
		{fmt.Errorf("depth 7: %w", ErrInvalidInput), "invalid_input"},
		{ErrUnavailable, "unavailable"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err))
	}
}
