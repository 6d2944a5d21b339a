package community

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// A session identity may arrive as a bearer token minted by the auth
// service instead of a plain uid. Claims are extracted without
// verification; the auth boundary in front of this server is responsible
// for signature checks.

type SessionJwt struct {
	Uid string
}

func ParseSessionJwtUnverified(jwt string) (*SessionJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	sessionJwt := &SessionJwt{}

	if uid, ok := claims["uid"]; ok {
		if uidStr, ok := uid.(string); ok {
			sessionJwt.Uid = uidStr
		}
	}
	if sessionJwt.Uid == "" {
		if userId, ok := claims["user_id"]; ok {
			if userIdStr, ok := userId.(string); ok {
				sessionJwt.Uid = userIdStr
			}
		}
	}

	return sessionJwt, nil
}
