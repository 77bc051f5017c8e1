package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/appointflow/notifier/internal/domain/model"
	"github.com/appointflow/notifier/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipientResolver_Resolve(t *testing.T) {
	cancelled := testutil.SampleRecipients(3)
	cancelled[1].Status = model.RecipientStatusCancelled

	tests := []struct {
		name      string
		store     *stubRegistrations
		wantIDs   []string
		wantCalls int
		wantPause []time.Duration
	}{
		{
			name:      "first attempt",
			store:     &stubRegistrations{list: testutil.SampleRecipients(2)},
			wantIDs:   []string{"r-1", "r-2"},
			wantCalls: 1,
		},
		{
			name:      "drops cancelled",
			store:     &stubRegistrations{list: cancelled},
			wantIDs:   []string{"r-1", "r-3"},
			wantCalls: 1,
		},
		{
			name: "recovers after retries",
			store: &stubRegistrations{
				list: testutil.SampleRecipients(1),
				errs: []error{errors.New("timeout"), errors.New("timeout")},
			},
			wantIDs:   []string{"r-1"},
			wantCalls: 3,
			wantPause: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
		},
		{
			name: "exhausted yields empty",
			store: &stubRegistrations{
				errs: []error{errors.New("down"), errors.New("down"), errors.New("down")},
			},
			wantIDs:   []string{},
			wantCalls: 3,
			wantPause: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &recordingSleep{}
			r, err := NewRecipientResolver(RecipientResolverOptions{
				Store:   tt.store,
				Backoff: 100 * time.Millisecond,
				Sleep:   sleeper.sleep,
			})
			require.NoError(t, err)

			got, err := r.Resolve(context.Background(), "evt-1")
			require.NoError(t, err)
			require.NotNil(t, got)

			ids := make([]string, 0, len(got))
			for _, rec := range got {
				ids = append(ids, rec.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantCalls, tt.store.calls)
			assert.Equal(t, tt.wantPause, sleeper.pauses)
		})
	}
}

func TestRecipientResolver_ContextErrorPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := &stubRegistrations{errs: []error{context.Canceled}}
	r, err := NewRecipientResolver(RecipientResolverOptions{Store: store})
	require.NoError(t, err)

	_, err = r.Resolve(ctx, "evt-1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.calls)
}

func TestNewRecipientResolver_RequiresStore(t *testing.T) {
	_, err := NewRecipientResolver(RecipientResolverOptions{})
	require.Error(t, err)
}
