package events

import (
	"testing"

	"github.com/decred/slog"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roschler/ethereum-band-battles-sub001/txwatcher"
)

func TestDeliverRunsContinuationOnce(t *testing.T) {
	r := NewRegistry(slog.Disabled)

	var got []txwatcher.Result
	err := r.Register("evt-1", func(res txwatcher.Result) error {
		got = append(got, res)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Pending())

	payload := txwatcher.Result{Success: true, CorrelationID: "evt-1", Kind: "test"}
	require.NoError(t, r.Deliver("evt-1", payload))
	// Duplicate delivery is a logged no-op.
	require.NoError(t, r.Deliver("evt-1", payload))

	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0])
	assert.Equal(t, 0, r.Pending())
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(slog.Disabled)
	noop := func(txwatcher.Result) error { return nil }

	require.NoError(t, r.Register("evt-1", noop))
	err := r.Register("evt-1", noop)
	if err != ErrDuplicateCorrelation {
		t.Fatalf("want ErrDuplicateCorrelation, got %v", err)
	}

	// Once delivered, the id is free again.
	require.NoError(t, r.Deliver("evt-1", txwatcher.Result{}))
	require.NoError(t, r.Register("evt-1", noop))
}

func TestRegisterInvalid(t *testing.T) {
	r := NewRegistry(slog.Disabled)
	if err := r.Register("", func(txwatcher.Result) error { return nil }); err == nil {
		t.Fatal("empty id must be rejected")
	}
	if err := r.Register("evt-1", nil); err == nil {
		t.Fatal("nil continuation must be rejected")
	}
}

func TestDeliverUnknownIDIsNotAnError(t *testing.T) {
	r := NewRegistry(slog.Disabled)
	// Every client sees every broadcast; non-originators simply ignore it.
	require.NoError(t, r.Deliver("never-registered", txwatcher.Result{}))
}

func TestContinuationErrorDoesNotPropagate(t *testing.T) {
	r := NewRegistry(slog.Disabled)
	require.NoError(t, r.Register("evt-1", func(txwatcher.Result) error {
		return errors.New("continuation broke")
	}))
	require.NoError(t, r.Deliver("evt-1", txwatcher.Result{}))
	assert.Equal(t, 0, r.Pending(), "entry removed even when continuation fails")
}

func TestContinuationPanicIsRecovered(t *testing.T) {
	r := NewRegistry(slog.Disabled)
	require.NoError(t, r.Register("evt-1", func(txwatcher.Result) error {
		panic("boom")
	}))
	require.NoError(t, r.Deliver("evt-1", txwatcher.Result{}))
	assert.Equal(t, 0, r.Pending())
}

func TestReentrantDeliverRunsOnce(t *testing.T) {
	r := NewRegistry(slog.Disabled)

	calls := 0
	require.NoError(t, r.Register("evt-1", func(res txwatcher.Result) error {
		calls++
		// The entry was removed before we ran, so this recursion is a
		// no-op instead of a loop.
		return r.Deliver("evt-1", res)
	}))
	require.NoError(t, r.Deliver("evt-1", txwatcher.Result{}))
	assert.Equal(t, 1, calls)
}
