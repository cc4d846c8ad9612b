// Package auth issues and validates session tokens for church members and
// exposes the current person through the request context. Read paths tolerate
// anonymous requests; mutations ask for the current person and fail loudly.
package auth

import (
	"context"
	"errors"
)

// ErrAuthenticationRequired indicates an operation that needs an identified
// person was attempted without one. Distinct from "no results".
var ErrAuthenticationRequired = errors.New("auth: authentication required")

// Person is the authenticated church member attached to a request.
type Person struct {
	ID             int
	PrimaryAliasID int
	FirstName      string
	LastName       string
	Email          string
}

type personContextKey struct{}

// WithPerson attaches the authenticated person to the context.
func WithPerson(ctx context.Context, person Person) context.Context {
	return context.WithValue(ctx, personContextKey{}, person)
}

// CurrentPerson returns the authenticated person, or ErrAuthenticationRequired
// when the request is anonymous.
func CurrentPerson(ctx context.Context) (Person, error) {
	person, ok := ctx.Value(personContextKey{}).(Person)
	if !ok || person.ID == 0 {
		return Person{}, ErrAuthenticationRequired
	}
	return person, nil
}
