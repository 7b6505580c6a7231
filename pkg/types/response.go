package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public error shape. Retryable is true only when the request
// left no state behind.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
