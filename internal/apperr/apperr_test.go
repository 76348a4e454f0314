package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeRender, "render.bundle", "bundle failed")

	assert.Equal(t, "render.bundle: [RENDER_ERROR] bundle failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("job: %w", New(CodeRender, "render.run", "engine crashed"))

	assert.ErrorIs(t, err, ErrRender)
	assert.NotErrorIs(t, err, ErrPublish)
	assert.True(t, IsCode(err, CodeRender))
	assert.False(t, IsCode(nil, CodeRender))
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "op", "msg"))
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", New(CodeValidation, "", "bad"), http.StatusBadRequest},
		{"not found", New(CodeNotFound, "", "missing"), http.StatusNotFound},
		{"render", New(CodeRender, "", "engine"), http.StatusBadGateway},
		{"cleanup", New(CodeCleanup, "", "rm"), http.StatusInternalServerError},
		{"plain", errors.New("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestWithField(t *testing.T) {
	err := New(CodeSynthesis, "narration.scene", "tts failed").WithField("scene", 2)
	assert.Equal(t, 2, err.Fields["scene"])
}
