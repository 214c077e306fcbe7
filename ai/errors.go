package ai

import "errors"

// ErrProviderClosed is returned by a service whose provider has been closed.
var ErrProviderClosed = errors.New("ai provider closed")
