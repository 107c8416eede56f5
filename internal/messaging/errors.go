package messaging

import "errors"

var (
	// ErrInvalidPhone is returned when a destination cannot be normalized.
	ErrInvalidPhone = errors.New("messaging: invalid phone number")
	// ErrTemplateNotFound is returned when no catalog entry matches.
	ErrTemplateNotFound = errors.New("messaging: template not found")
	// ErrTemplateNotApproved is returned for templates whose status is not approved.
	ErrTemplateNotApproved = errors.New("messaging: template not approved")
	// ErrMissingMedia is returned for media messages without a URL.
	ErrMissingMedia = errors.New("messaging: media url required")
	// ErrUnsupportedKind is returned for unknown logical message kinds.
	ErrUnsupportedKind = errors.New("messaging: unsupported message kind")
	// ErrTenantUnresolved is returned by directories that know no tenant for a phone.
	ErrTenantUnresolved = errors.New("messaging: tenant not found for phone")
)

// GatewayError wraps a transport or carrier failure. Error returns the
// gateway's message unmodified.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	if e == nil || e.Err == nil {
		return "gateway error"
	}
	return e.Err.Error()
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsGatewayError reports whether err came from the gateway.
func IsGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}
