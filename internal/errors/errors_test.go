package errors_test

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
)

func TestMarkedErrorsClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"auth", ierr.NewError("bad signature").Mark(ierr.ErrAuthentication), http.StatusUnauthorized, ierr.CodeAuthentication},
		{"validation", ierr.NewError("missing session").Mark(ierr.ErrValidation), http.StatusBadRequest, ierr.CodeValidation},
		{"provider", ierr.NewError("stripe down").Mark(ierr.ErrExternalProvider), http.StatusBadGateway, ierr.CodeExternalProvider},
		{"not_found", ierr.NewError("no subscription").Mark(ierr.ErrNotFound), http.StatusNotFound, ierr.CodeNotFound},
		{"integrity", ierr.NewError("duplicate aa").Mark(ierr.ErrDataIntegrity), http.StatusInternalServerError, ierr.CodeDataIntegrity},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError, ierr.CodeInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, ierr.HTTPStatusFromErr(tc.err))
			assert.Equal(t, tc.code, ierr.Code(tc.err))
		})
	}
}

func TestMarkSurvivesWrapping(t *testing.T) {
	base := ierr.NewError("stripe down").Mark(ierr.ErrExternalProvider)
	wrapped := fmt.Errorf("cancel subscription: %w", base)

	assert.True(t, ierr.IsExternalProvider(wrapped))
	assert.False(t, ierr.IsValidation(wrapped))
}

func TestDisplayMessagePrefersHint(t *testing.T) {
	err := ierr.NewError("session cs_123 unpaid").
		WithHint("checkout session is not paid").
		Mark(ierr.ErrValidation)
	assert.Equal(t, "checkout session is not paid", ierr.DisplayMessage(err))

	bare := ierr.NewError("no rows").Mark(ierr.ErrNotFound)
	assert.Equal(t, "resource not found", ierr.DisplayMessage(bare))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	msg := "x" + strings.Repeat("σφάλμα ", 50)

	for _, n := range []int{0, 1, 2, 3, 10, 99, 100} {
		got := ierr.Truncate(msg, n)
		assert.True(t, utf8.ValidString(got), "n=%d", n)
		assert.LessOrEqual(t, len(got), n)
		assert.True(t, strings.HasPrefix(msg, got))
	}
	assert.Equal(t, "x", ierr.Truncate(msg, 2))
	assert.Equal(t, "xσ", ierr.Truncate(msg, 3))
	assert.Equal(t, "short", ierr.Truncate("short", 100))
	assert.Equal(t, "ab", ierr.Truncate("a\xffb\x00", 10))
}
