package sheets

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuth2ConfigRedirectURL(t *testing.T) {
	t.Run("defaults off the link server port", func(t *testing.T) {
		cfg := OAuth2Config{}
		assert.Equal(t, "http://localhost:8081/callback", cfg.redirectURL())
	})

	t.Run("honors a configured port", func(t *testing.T) {
		cfg := OAuth2Config{CallbackPort: 9099}
		assert.Equal(t, "http://localhost:9099/callback", cfg.redirectURL())
	})
}

func TestCallbackHandler(t *testing.T) {
	t.Run("delivers the authorization code", func(t *testing.T) {
		codeChan := make(chan string, 1)
		errorChan := make(chan error, 1)

		req := httptest.NewRequest(http.MethodGet, "/callback?code=auth-123", nil)
		rec := httptest.NewRecorder()
		callbackHandler(codeChan, errorChan)(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "nestegg")
		select {
		case code := <-codeChan:
			assert.Equal(t, "auth-123", code)
		default:
			t.Fatal("no code delivered")
		}
	})

	t.Run("reports a missing code", func(t *testing.T) {
		codeChan := make(chan string, 1)
		errorChan := make(chan error, 1)

		req := httptest.NewRequest(http.MethodGet, "/callback", nil)
		rec := httptest.NewRecorder()
		callbackHandler(codeChan, errorChan)(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		select {
		case err := <-errorChan:
			require.Error(t, err)
		default:
			t.Fatal("no error delivered")
		}
		assert.Empty(t, codeChan)
	})
}
