// Package connection provides the HTTP client captoken-cli uses to talk to
// a captoken server.
//
// Responses use the server envelope {code, message, request_id, data};
// ParseResponse unwraps data on success and returns an *APIError otherwise.
package connection
