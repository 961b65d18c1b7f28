package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallylabs/creditcore/pkg/event"
)

type stubSubscriber struct {
	name  string
	types []string
}

func (s *stubSubscriber) Name() string         { return s.name }
func (s *stubSubscriber) EventTypes() []string { return s.types }
func (s *stubSubscriber) Handle(ctx context.Context, env *event.Envelope) error {
	return nil
}
func (s *stubSubscriber) ClassifyError(env *event.Envelope, err error) Classification {
	return DefaultClassify(err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	ledger := &stubSubscriber{name: "ledger", types: []string{event.TypeCreditAllocated, event.TypeCreditConsumed}}
	audit := &stubSubscriber{name: "audit", types: []string{event.TypeCreditAllocated}}

	require.NoError(t, r.Register(ledger))
	require.NoError(t, r.Register(audit))

	t.Run("duplicate name rejected", func(t *testing.T) {
		err := r.Register(&stubSubscriber{name: "ledger", types: []string{event.TypeSynergyAwarded}})
		assert.ErrorIs(t, err, ErrDuplicateName)
	})

	t.Run("lookup preserves registration order", func(t *testing.T) {
		subs := r.For(event.TypeCreditAllocated)
		require.Len(t, subs, 2)
		assert.Equal(t, "ledger", subs[0].Name())
		assert.Equal(t, "audit", subs[1].Name())
	})

	t.Run("unhandled type returns empty", func(t *testing.T) {
		assert.Empty(t, r.For(event.TypeApprovalDecided))
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		subs := r.For(event.TypeCreditAllocated)
		subs[0] = nil
		again := r.For(event.TypeCreditAllocated)
		assert.NotNil(t, again[0])
	})

	t.Run("names", func(t *testing.T) {
		assert.ElementsMatch(t, []string{"ledger", "audit"}, r.Names())
	})
}

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "dial tcp: connection refused" }
func (fakeNetError) Timeout() bool   { return false }
func (fakeNetError) Temporary() bool { return true }

var _ net.Error = fakeNetError{}

func TestDefaultClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"payload invalid", event.ErrPayloadInvalid, Permanent},
		{"unknown type", fmt.Errorf("dispatch: %w", event.ErrUnknownType), Permanent},
		{"version invalid", event.ErrVersionInvalid, Permanent},
		{"json syntax", &json.SyntaxError{Offset: 3}, Permanent},
		{"json type mismatch", &json.UnmarshalTypeError{Value: "string", Offset: 1}, Permanent},
		{"explicitly permanent", AsPermanent(errors.New("entity does not exist")), Permanent},
		{"net error", fakeNetError{}, Transient},
		{"wrapped net error", fmt.Errorf("flush: %w", fakeNetError{}), Transient},
		{"deadline", context.DeadlineExceeded, Transient},
		{"unknown error defaults to transient", errors.New("database is locked"), Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultClassify(tt.err))
		})
	}
}

func TestAsPermanent(t *testing.T) {
	assert.Nil(t, AsPermanent(nil))

	cause := errors.New("no such entity")
	err := AsPermanent(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause.Error(), err.Error())
	assert.Equal(t, Permanent, DefaultClassify(fmt.Errorf("handle: %w", err)))
}

func TestClassificationString(t *testing.T) {
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "permanent", Permanent.String())
}
