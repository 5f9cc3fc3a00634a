package notify

import "codeberg.org/mutker/bmcmon/internal/errors"

const (
	ErrProviderResponse = errors.ErrorCode("notify_provider_response")
	ErrDeliveryFailed   = errors.ErrorCode("notify_delivery_failed")
	ErrUnsupportedType  = errors.ErrorCode("notify_unsupported_channel_type")
	ErrMissingChatID    = errors.ErrorCode("notify_missing_chat_id")
	ErrEndpointResolve  = errors.ErrorCode("notify_endpoint_resolve_failed")
)
