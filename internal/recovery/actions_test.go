package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ingest-cli/internal/model"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		action ActionKind
		want   Intent
	}{
		{ActionRetry, Intent{Type: IntentRetry}},
		{ActionGoToFileSelection, Intent{Type: IntentNavigate, Phase: model.PhaseFileSelection}},
		{ActionGoToSchemaReview, Intent{Type: IntentNavigate, Phase: model.PhaseSchemaCompatibility}},
		{ActionGoToMapping, Intent{Type: IntentNavigate, Phase: model.PhaseColumnMapping}},
		{ActionSwitchToAdvanced, Intent{Type: IntentConfigure, UploadMode: model.ModeAdvanced}},
		{ActionSwitchToQuick, Intent{Type: IntentConfigure, UploadMode: model.ModeQuick}},
		{ActionSwitchToCreate, Intent{Type: IntentConfigure, OperationMode: model.OperationCreate}},
		{ActionSkipAdvisory, Intent{Type: IntentConfigure, SkipAdvisory: true}},
		{ActionContactAdmin, Intent{Type: IntentExternal, Target: "admin"}},
		{ActionReauthenticate, Intent{Type: IntentExternal, Target: "auth"}},
		{ActionCancel, Intent{Type: IntentCancel}},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			got, err := Resolve(tt.action, nil, 0)
			require.NoError(t, err)
			tt.want.Action = tt.action
			assert.Equal(t, tt.want, got)
			assert.NotEqual(t, string(tt.action), tt.action.Label())
		})
	}
}

func TestResolve_DelayedRetryUsesKindConfig(t *testing.T) {
	pe := New(KindTimeout, "", nil)

	first, err := Resolve(ActionRetryWithDelay, pe, 0)
	require.NoError(t, err)
	assert.Equal(t, IntentRetry, first.Type)
	assert.Equal(t, 2*time.Second, first.Delay)

	second, err := Resolve(ActionRetryWithDelay, pe, 1)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, second.Delay)
}

func TestResolve_Unknown(t *testing.T) {
	_, err := Resolve("dance", nil, 0)
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestOffers(t *testing.T) {
	pe := New(KindAdvisoryServiceDown, "", nil)
	assert.True(t, pe.Offers(ActionSkipAdvisory))
	assert.True(t, pe.Offers(ActionCancel))
	assert.False(t, pe.Offers(ActionSwitchToCreate))
}
