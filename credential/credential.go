////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package credential supplies the bearer token used to authenticate with the
// hub. The token is asked for again on every connection attempt so a refreshed
// token is picked up after a reconnect.
package credential

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// ErrEmpty is returned when no token is available.
var ErrEmpty = errors.New("no credential available")

// Provider returns the current bearer token.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static is a Provider for a fixed token.
type Static string

// Token returns the token, or ErrEmpty if it is blank.
func (s Static) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return "", ErrEmpty
	}
	return token, nil
}

// Func adapts a function to the Provider interface.
type Func func(ctx context.Context) (string, error)

// Token calls f.
func (f Func) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Claims are the parts of a JWT bearer token the client looks at.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Expired returns true if the token has an expiry at or before now. Tokens
// without an expiry never expire.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Inspect reads the claims of a JWT bearer token without verifying its
// signature; the hub does the verification. Tokens that are not JWTs are
// opaque and return empty Claims with no error.
func Inspect(token string) (Claims, error) {
	if strings.Count(token, ".") != 2 {
		jww.DEBUG.Printf("[CRED] Token is not a JWT, treating it as opaque")
		return Claims{}, nil
	}

	var rc jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(token, &rc)
	if err != nil {
		return Claims{}, errors.Wrap(err, "malformed bearer token")
	}

	c := Claims{Subject: rc.Subject}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c, nil
}
