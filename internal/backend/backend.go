// Package backend defines the contract OrderlyFlow clients consume from the
// hosted backend: table CRUD, a realtime change feed, auth, remote
// procedures and object storage.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dukerupert/orderlyflow/internal/model"
)

// Remote procedure names.
const (
	ProcCreateFamilyAccount    = "create_family_account"
	ProcInviteFamilyMember     = "invite_family_member"
	ProcAcceptFamilyInvitation = "accept_family_invitation"
	ProcRemoveFamilyMember     = "remove_family_member"
)

// ErrNotAuthenticated is returned when an operation needs a signed-in user
// and there is none. It is raised before any network call.
var ErrNotAuthenticated = errors.New("not authenticated")

// APIError is a backend-rejected operation.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %d %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Tables is row-level CRUD on home-scoped tables.
type Tables interface {
	// Select returns every row of table owned by homeID, newest first.
	Select(ctx context.Context, table, homeID string) ([]model.Row, error)
	Insert(ctx context.Context, table string, row model.Row) (model.Row, error)
	Update(ctx context.Context, table, id string, fields model.Row) (model.Row, error)
	Delete(ctx context.Context, table, id string) error
}

// Subscription is a live change-feed registration.
type Subscription interface {
	Unsubscribe()
}

// ChangeHandler receives change events. It is called from the feed's own
// goroutine, one event at a time.
type ChangeHandler func(model.ChangeEvent)

// ChangeFeed delivers INSERT/UPDATE/DELETE events for rows of table whose
// home_id equals homeID.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table, homeID string, fn ChangeHandler) (Subscription, error)
}

// Auth exposes the signed-in user. CurrentUser returns nil, nil when signed out.
type Auth interface {
	CurrentUser(ctx context.Context) (*model.User, error)
}

// Procedures invokes named remote procedures. out may be nil.
type Procedures interface {
	Call(ctx context.Context, name string, args any, out any) error
}

// Storage is public object storage keyed by path.
type Storage interface {
	Upload(ctx context.Context, path, contentType string, body io.Reader) error
	PublicURL(path string) string
}

// Client is the full backend surface.
type Client interface {
	Tables
	ChangeFeed
	Auth
	Procedures
	Storage
}
