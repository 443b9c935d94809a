package authsession

import "errors"

// Flow-control signals for the login lifecycle. These are expected outcomes,
// not crashes; callers map them onto user-facing prompts.
var (
	// ErrListenerBind means no local port could be bound for the callback
	// listener.
	ErrListenerBind = errors.New("failed to bind local callback listener")

	// ErrLoginInProgress means a login flow is already listening; the
	// in-flight listener is never silently replaced.
	ErrLoginInProgress = errors.New("login already in progress")

	// ErrNoLoginPending means AwaitCallback was called without BeginLogin.
	ErrNoLoginPending = errors.New("no login in progress")

	// ErrStateMismatch means the redirect carried a state parameter that does
	// not match the one generated for this flow.
	ErrStateMismatch = errors.New("state mismatch in authorization callback")

	// ErrUserDenied means the authorization server reported that the user
	// declined the request.
	ErrUserDenied = errors.New("authorization denied by user")

	// ErrTimeout means the callback did not arrive in time.
	ErrTimeout = errors.New("timed out waiting for authorization callback")

	// ErrReauthRequired means no usable credential exists and an interactive
	// login is needed. A stale credential is never returned in its place.
	ErrReauthRequired = errors.New("reauthentication required")
)
