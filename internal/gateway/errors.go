package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// Codes produced by the gateway itself. Codes reported by Hasura (for example
// "validation-failed" or "access-denied") are passed through unchanged.
const (
	CodeNetwork         = "network-error"
	CodeUnexpectedHTTP  = "unexpected-status"
	CodeInvalidResponse = "invalid-response"
	CodeUnauthenticated = "unauthenticated"
	CodeCircuitOpen     = "circuit-open"
)

// GraphQLError is one entry of a GraphQL response's errors array.
type GraphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Path string `json:"path"`
		Code string `json:"code"`
	} `json:"extensions"`
}

// GatewayError is returned for every failed operation: transport failures,
// unexpected statuses, undecodable payloads and backend-reported errors.
type GatewayError struct {
	Operation string
	Code      string
	Message   string
	Path      string
	Status    int
	Errors    []GraphQLError
	Err       error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.Operation == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Operation, e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is a GatewayError carrying code.
func IsCode(err error, code string) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Code == code
}

func fromGraphQLErrors(operation string, gqlErrors []GraphQLError) *GatewayError {
	messages := make([]string, 0, len(gqlErrors))
	for _, e := range gqlErrors {
		messages = append(messages, e.Message)
	}
	first := gqlErrors[0]
	return &GatewayError{
		Operation: operation,
		Code:      first.Extensions.Code,
		Message:   strings.Join(messages, "; "),
		Path:      first.Extensions.Path,
		Errors:    gqlErrors,
	}
}

func gatewayError(operation, code, message string, err error) *GatewayError {
	return &GatewayError{
		Operation: operation,
		Code:      code,
		Message:   message,
		Err:       err,
	}
}
