package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    State
		act     action
		want    State
		wantErr bool
	}{
		{"draft to verified", StateDraft, actionPromoteVerified, StateVerified, false},
		{"verified to published", StateVerified, actionPromotePublished, StatePublished, false},
		{"published to deprecated", StatePublished, actionDeprecate, StateDeprecated, false},
		{"verified to deprecated", StateVerified, actionDeprecate, StateDeprecated, false},
		{"draft cannot publish directly", StateDraft, actionPromotePublished, "", true},
		{"draft cannot deprecate", StateDraft, actionDeprecate, "", true},
		{"published cannot re-verify", StatePublished, actionPromoteVerified, "", true},
		{"deprecated is terminal for promote", StateDeprecated, actionPromoteVerified, "", true},
		{"deprecated is terminal for deprecate", StateDeprecated, actionDeprecate, "", true},
		{"verified cannot re-verify", StateVerified, actionPromoteVerified, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := transition(tt.from, tt.act)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetAction(t *testing.T) {
	t.Parallel()

	t.Run("verified and published are promotion targets", func(t *testing.T) {
		t.Parallel()
		act, err := targetAction(StateVerified)
		require.NoError(t, err)
		assert.Equal(t, actionPromoteVerified, act)

		act, err = targetAction(StatePublished)
		require.NoError(t, err)
		assert.Equal(t, actionPromotePublished, act)
	})

	t.Run("draft and deprecated are not", func(t *testing.T) {
		t.Parallel()
		_, err := targetAction(StateDraft)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = targetAction(StateDeprecated)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestType_Valid(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{TypeTableDescription, TypeGlossary, TypeInstruction, TypeSkill} {
		assert.True(t, typ.Valid(), string(typ))
	}
	assert.False(t, Type("").Valid())
	assert.False(t, Type("report").Valid())
}
