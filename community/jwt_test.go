package community

import (
	"testing"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/go-playground/assert/v2"
)

func TestParseSessionJwtUnverified(t *testing.T) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"uid": "u9",
	})
	jwt, err := token.SignedString([]byte("test-secret"))
	assert.Equal(t, err, nil)

	sessionJwt, err := ParseSessionJwtUnverified(jwt)
	assert.Equal(t, err, nil)
	assert.Equal(t, sessionJwt.Uid, "u9")
}

func TestParseSessionJwtUserIdFallback(t *testing.T) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_id": "u10",
	})
	jwt, err := token.SignedString([]byte("test-secret"))
	assert.Equal(t, err, nil)

	sessionJwt, err := ParseSessionJwtUnverified(jwt)
	assert.Equal(t, err, nil)
	assert.Equal(t, sessionJwt.Uid, "u10")
}

func TestParseSessionJwtGarbage(t *testing.T) {
	_, err := ParseSessionJwtUnverified("not-a-token")
	assert.NotEqual(t, err, nil)
}
