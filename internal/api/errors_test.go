package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		status  int
		want    Kind
		reload  bool
		refresh bool
	}{
		{400, KindClientRefused, false, false},
		{401, KindSessionExpired, true, false},
		{403, KindForbidden, false, false},
		{404, KindNotFound, false, true},
		{412, KindConflict, false, false},
		{413, KindQuotaExceeded, false, false},
		{500, KindServerError, true, false},
		{502, KindUnknown, false, false},
		{409, KindUnknown, false, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			k := KindOf(tt.status)
			assert.Equal(t, tt.want, k)
			assert.Equal(t, tt.reload, k.OffersReload())
			assert.Equal(t, tt.refresh, k.OffersRefresh())
			assert.NotEmpty(t, k.Message())
		})
	}
}

func TestStatusErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("save: %w", &StatusError{Method: "PUT", Path: "/a", StatusCode: 413, Status: "413 Request Entity Too Large", Kind: KindQuotaExceeded})

	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "Exceeded file usage quota. Remove some files and try again.", UserMessage(err))

	var se *StatusError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, 413, se.HTTPStatus())
}

func TestUserMessageForTransportErrors(t *testing.T) {
	assert.Equal(t, KindUnknown.Message(), UserMessage(errors.New("dial tcp: refused")))
	assert.Empty(t, UserMessage(nil))
	assert.Equal(t, KindUnknown, Classify(errors.New("x")))
}
