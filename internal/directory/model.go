// Package directory holds organizations and the users the identity layer
// authenticates.
package directory

import (
	"time"

	"github.com/unionlegal/platform/internal/auth"
	"github.com/unionlegal/platform/internal/shared/types"
)

// Organization is an organizational unit members apply to join.
type Organization struct {
	ID        types.ID  `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a directory entry for an actor.
type User struct {
	ID             types.ID  `json:"id"`
	Role           auth.Role `json:"role"`
	OrganizationID *types.ID `json:"organization_id,omitempty"`
	DisplayName    string    `json:"display_name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Actor returns the authorization view of the user.
func (u User) Actor() auth.Actor {
	return auth.Actor{ID: u.ID, Role: u.Role, OrganizationID: u.OrganizationID}
}

// CreateOrganizationRequest is the request to create an organization
type CreateOrganizationRequest struct {
	Name string `json:"name" validate:"required,min=2,max=255"`
}

// CreateUserRequest registers an actor coming from the identity provider.
type CreateUserRequest struct {
	ID          *types.ID `json:"id,omitempty"`
	Role        auth.Role `json:"role" validate:"required,oneof=super_admin admin lawyer member"`
	DisplayName string    `json:"display_name" validate:"max=255"`
}

// ListOrganizationsFilter filters organization listings
type ListOrganizationsFilter struct {
	Search string
	Limit  int
	Offset int
}
