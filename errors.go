package gqlcache

import (
	"errors"
	"fmt"
	"strings"

	"github.com/unkn0wn-root/gqlcache/layer"
	"github.com/unkn0wn-root/gqlcache/record"
)

var (
	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("gqlcache: cache is closed")

	// ErrUnidentified is returned when a top-level write carries no ID and the
	// identifier policy cannot derive one.
	ErrUnidentified = errors.New("gqlcache: entity has no cache identifier")
)

type (
	DuplicateTransactionError = layer.DuplicateTransactionError
	UnknownTransactionError   = layer.UnknownTransactionError
)

// MissingFieldError reports a field defined neither by any optimistic layer
// nor by the store. Reads surface it as an incomplete result.
// For fields inside an embedded object Field is a dotted path.
type MissingFieldError struct {
	ID    record.ID
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("gqlcache: missing field %q on %q", e.Field, e.ID)
}

// PathError is returned by Resolve when a path step cannot be followed.
type PathError struct {
	ID   record.ID
	Path []string
	Step int
	Kind record.Kind
}

func (e *PathError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("gqlcache: empty field path on %q", e.ID)
	}
	return fmt.Sprintf("gqlcache: cannot traverse %s value at %q in path %q on %q",
		e.Kind, e.Path[e.Step], strings.Join(e.Path, "."), e.ID)
}

func IsDuplicateTransaction(err error) bool { return layer.IsDuplicateTransaction(err) }
func IsUnknownTransaction(err error) bool   { return layer.IsUnknownTransaction(err) }

func IsMissingField(err error) bool {
	var e *MissingFieldError
	return errors.As(err, &e)
}

// ErrorKind classifies the cause of an OperationError.
type ErrorKind int

const (
	KindGraphQL ErrorKind = iota + 1
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindGraphQL:
		return "graphql"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// GraphQLError is one entry of a response's "errors" array.
type GraphQLError struct {
	Message    string
	Path       []any
	Extensions map[string]any
}

func (e GraphQLError) Error() string { return e.Message }

// OperationError aggregates the failures of one GraphQL operation: errors
// reported in the response body and/or a transport failure. It carries data
// only; it never mutates the cache.
type OperationError struct {
	GraphQLErrors []GraphQLError
	NetworkError  error
	message       string
}

// NewOperationError builds an OperationError. Either argument may be empty.
func NewOperationError(graphQLErrors []GraphQLError, networkErr error) *OperationError {
	e := &OperationError{
		GraphQLErrors: append([]GraphQLError(nil), graphQLErrors...),
		NetworkError:  networkErr,
	}
	e.message = strings.Join(e.Messages(), "\n")
	return e
}

// Messages returns one line per underlying failure.
func (e *OperationError) Messages() []string {
	out := make([]string, 0, len(e.GraphQLErrors)+1)
	for _, g := range e.GraphQLErrors {
		out = append(out, "GraphQL error: "+g.Message)
	}
	if e.NetworkError != nil {
		out = append(out, "Network error: "+e.NetworkError.Error())
	}
	return out
}

// Kind is KindNetwork when a transport failure is present, else KindGraphQL.
func (e *OperationError) Kind() ErrorKind {
	if e.NetworkError != nil {
		return KindNetwork
	}
	return KindGraphQL
}

func (e *OperationError) Error() string {
	if e.message == "" {
		return "gqlcache: operation failed"
	}
	return e.message
}

func (e *OperationError) Unwrap() []error {
	errs := make([]error, 0, len(e.GraphQLErrors)+1)
	if e.NetworkError != nil {
		errs = append(errs, e.NetworkError)
	}
	for _, g := range e.GraphQLErrors {
		errs = append(errs, g)
	}
	return errs
}

// AsOperationError extracts an OperationError from err's chain.
func AsOperationError(err error) (*OperationError, bool) {
	var e *OperationError
	ok := errors.As(err, &e)
	return e, ok
}
