package collab

import (
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// identity claims carried by the bearer credential.
// the credential is issued by the document store; the engine only needs
// the claims, not signature verification, so parsing is unverified.
type ByJwt struct {
	UserId   string
	UserName string
}

func ParseByJwtUnverified(jwt string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	claims := gojwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(jwt, claims); err != nil {
		return nil, err
	}

	byJwt := &ByJwt{}

	if userId, ok := claims["user_id"].(string); ok {
		byJwt.UserId = userId
	}
	if userName, ok := claims["username"].(string); ok {
		byJwt.UserName = userName
	}

	if byJwt.UserId == "" {
		return nil, fmt.Errorf("credential does not carry a user_id")
	}

	return byJwt, nil
}
