package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestFlagsDerived(t *testing.T) {
	exit := map[string]bool{ExitNewOffer: true, ExitLowMinProb: true, ExitWalletMissing: false}
	f := NewFlags(exit, map[string]bool{RecoveryMemLoad: false}, nil)

	exit[ExitWalletMissing] = true
	assert.Equal(t, []string{ExitLowMinProb, ExitNewOffer}, f.ExitReasons(), "input map is copied")

	assert.True(t, f.Exit())
	assert.False(t, f.Recovery())
	assert.False(t, f.Warning())
	assert.Equal(t, "exit_flags: [low_min_prob, new_offer], recovery_flags: [], warning_flags: []", f.Message())

	got := f.ExitFlags()
	got[ExitFineChanged] = true
	assert.NotContains(t, f.ExitFlags(), ExitFineChanged)
}

func TestFlagsJSON(t *testing.T) {
	f := NewFlags(
		map[string]bool{ExitValidatorLoad: true},
		map[string]bool{RecoveryValidatorLoad: true, RecoveryOutOfSync: false},
		nil,
	)
	data, err := json.Marshal(f)
	require.NoError(t, err)

	doc := gjson.ParseBytes(data)
	assert.True(t, doc.Get("exit").Bool())
	assert.True(t, doc.Get("recovery").Bool())
	assert.False(t, doc.Get("warning").Bool())
	assert.True(t, doc.Get("exit_flags.validator_load").Bool())
	assert.False(t, doc.Get("recovery_flags.out_of_sync").Bool())
	assert.True(t, doc.Get("warning_flags").IsObject())
	assert.Equal(t, f.Message(), doc.Get("message").String())

	tampered := []byte(`{"exit_flags":{"new_offer":false},"exit":true,"message":"bogus"}`)
	var back Flags
	require.NoError(t, json.Unmarshal(tampered, &back))
	assert.False(t, back.Exit(), "derived values are recomputed")
	assert.Equal(t, "exit_flags: [], recovery_flags: [], warning_flags: []", back.Message())
}

func TestFlagsDiff(t *testing.T) {
	prev := NewFlags(
		map[string]bool{ExitNewOffer: true, ExitLowMinProb: false},
		map[string]bool{RecoveryOutOfSync: true},
		nil,
	)
	cur := NewFlags(
		map[string]bool{ExitNewOffer: false, ExitLowMinProb: true},
		map[string]bool{RecoveryOutOfSync: true},
		map[string]bool{WarningLowValidatorBalance: true},
	)

	assert.Equal(t, []Transition{
		{Kind: "exit", Reason: ExitLowMinProb, Set: true},
		{Kind: "exit", Reason: ExitNewOffer, Set: false},
		{Kind: "warning", Reason: WarningLowValidatorBalance, Set: true},
	}, cur.Diff(prev))
	assert.Empty(t, cur.Diff(cur))
	assert.Len(t, Flags{}.Diff(cur), 3)
}
