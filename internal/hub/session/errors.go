package session

import (
	"net/http"

	"github.com/chatwire/chatwire/internal/common/apperrors"
)

var (
	// ErrHubError is the base error for all session and manager errors.
	ErrHubError apperrors.Error = apperrors.New("error in processing instance").SetStatusCode(http.StatusInternalServerError)

	// ErrInvalidAuthOptions is returned when connect parameters are invalid.
	// Occurs when phone auth is requested without a phone number, or the
	// auth method is unknown.
	ErrInvalidAuthOptions apperrors.Error = ErrHubError.New("invalid auth options").SetStatusCode(http.StatusBadRequest)

	// ErrNotConnected is returned when an operation requires a connected
	// session. No transport call is made.
	ErrNotConnected apperrors.Error = ErrHubError.New("instance is not connected").SetStatusCode(http.StatusBadRequest)

	// ErrDuplicateInstance is returned when creating an instance whose id is
	// already live in the manager.
	ErrDuplicateInstance apperrors.Error = ErrHubError.New("instance already exists").SetStatusCode(http.StatusBadRequest)

	// ErrInstanceNotFound is returned when the instance id is not managed.
	ErrInstanceNotFound apperrors.Error = ErrHubError.New("instance not found").SetStatusCode(http.StatusNotFound)

	// ErrCapacityExceeded is returned when the configured instance limit is
	// reached.
	ErrCapacityExceeded apperrors.Error = ErrHubError.New("instance limit reached").SetStatusCode(http.StatusBadRequest)

	// ErrTransportFailure wraps opaque failures from the transport
	// collaborator.
	ErrTransportFailure apperrors.Error = ErrHubError.New("transport failure").SetStatusCode(http.StatusBadGateway)
)
