package gqlcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorPolicy decides what Mutate does with GraphQL errors in a response
// that also carries data.
type ErrorPolicy int

const (
	// ErrorPolicyNone treats any GraphQL error as failure: the optimistic
	// layer is aborted and no data is written.
	ErrorPolicyNone ErrorPolicy = iota
	// ErrorPolicyIgnore writes the data and drops the errors.
	ErrorPolicyIgnore
	// ErrorPolicyAll writes the data and returns the errors alongside it.
	ErrorPolicyAll
)

func (p ErrorPolicy) String() string {
	switch p {
	case ErrorPolicyNone:
		return "none"
	case ErrorPolicyIgnore:
		return "ignore"
	case ErrorPolicyAll:
		return "all"
	default:
		return fmt.Sprintf("ErrorPolicy(%d)", int(p))
	}
}

// ParseErrorPolicy accepts "none", "ignore" and "all".
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch s {
	case "", "none":
		return ErrorPolicyNone, nil
	case "ignore":
		return ErrorPolicyIgnore, nil
	case "all":
		return ErrorPolicyAll, nil
	}
	return 0, fmt.Errorf("gqlcache: unknown error policy %q", s)
}

// Response is what the transport made of an operation: parsed entities to
// write plus any GraphQL errors from the response body.
type Response struct {
	Entities []Entity
	Errors   []GraphQLError
}

// Mutation describes one mutation round trip.
type Mutation struct {
	// TxID names the optimistic layer. A random id is used when empty.
	TxID TxID
	// Optimistic entities are shown immediately, before Execute returns.
	Optimistic []Entity
	// Execute performs the operation. A non-nil error is a transport failure.
	Execute     func(ctx context.Context) (Response, error)
	ErrorPolicy ErrorPolicy
}

type MutationResult struct {
	TxID    TxID
	Changes ChangeSet
	// Errors holds GraphQL errors kept under ErrorPolicyAll.
	Errors []GraphQLError
}

// Mutate pushes m's optimistic layer, runs Execute and then either commits
// the response (removing the layer and writing data in one step) or aborts.
// Transport failures and, under ErrorPolicyNone, GraphQL errors come back as
// *OperationError after the layer is aborted.
func Mutate(ctx context.Context, c Cache, m Mutation) (MutationResult, error) {
	if m.Execute == nil {
		return MutationResult{}, errors.New("gqlcache: mutation has no Execute func")
	}
	tx := m.TxID
	if tx == "" {
		tx = TxID(uuid.NewString())
	}
	res := MutationResult{TxID: tx}

	layered := len(m.Optimistic) > 0
	if layered {
		if _, err := c.BeginOptimistic(tx, m.Optimistic...); err != nil {
			return res, err
		}
	}

	resp, err := m.Execute(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil || (len(resp.Errors) > 0 && m.ErrorPolicy == ErrorPolicyNone) {
		if layered {
			if _, aerr := c.Abort(tx); aerr != nil {
				return res, errors.Join(NewOperationError(resp.Errors, err), fmt.Errorf("gqlcache: abort %q: %w", tx, aerr))
			}
		}
		return res, NewOperationError(resp.Errors, err)
	}

	if layered {
		res.Changes, err = c.Commit(tx, resp.Entities...)
	} else {
		res.Changes, err = c.Batch(func(t *Tx) error {
			for _, e := range resp.Entities {
				if e.ID == "" {
					if _, err := t.WriteEntity(e.Fields); err != nil {
						return err
					}
					continue
				}
				if err := t.Write(e.ID, e.Fields); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err != nil {
		if layered && !IsUnknownTransaction(err) {
			// Commit rejected the data (e.g. unidentifiable entity); the layer
			// must still go.
			if _, aerr := c.Abort(tx); aerr != nil {
				err = errors.Join(err, fmt.Errorf("gqlcache: abort %q: %w", tx, aerr))
			}
		}
		return res, err
	}
	if m.ErrorPolicy == ErrorPolicyAll {
		res.Errors = resp.Errors
	}
	return res, nil
}
