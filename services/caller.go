package services

import "strings"

// Caller is the identity resolved once per request by the gateway layer and
// threaded into every operation.
type Caller struct {
	AccountID string
	IsAdmin   bool
}

// NewCaller builds a Caller from the identity provider's user id and roles.
func NewCaller(accountID string, roles []string) Caller {
	c := Caller{AccountID: strings.TrimSpace(accountID)}
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), "admin") {
			c.IsAdmin = true
			break
		}
	}
	return c
}

func (c Caller) requireAdmin() error {
	if !c.IsAdmin {
		return ErrUnauthorized
	}
	return nil
}

func (c Caller) requireMember() error {
	if c.AccountID == "" {
		return newError(KindUnauthorized, "caller identity is missing")
	}
	return nil
}
