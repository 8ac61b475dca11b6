package types

// SuccessEnvelope wraps every successful JSON response body. Handlers never
// write bare payloads; clients can rely on the data key always being present.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the client-facing error shape. Message is safe to show to end
// users; Details carries field-level validation output when present.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
