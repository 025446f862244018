package node

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	name string
	args []string
}

// scriptedRunner answers by matching the -c argument against a prefix table.
type scriptedRunner struct {
	replies map[string]string
	calls   []recordedCall
}

func (s *scriptedRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, recordedCall{name: name, args: args})
	cmd := args[len(args)-1]
	for prefix, out := range s.replies {
		if strings.HasPrefix(cmd, prefix) {
			return []byte(out), nil
		}
	}
	return []byte("error: unknown command"), errors.New("exit status 1")
}

func newScripted(replies map[string]string) (*LiteClient, *scriptedRunner) {
	r := &scriptedRunner{replies: replies}
	c := NewLiteClient(LiteClientConfig{
		LiteClientBin:  "lite-client",
		LiteServerAddr: "127.0.0.1:4443",
		LiteServerPub:  "/keys/liteserver.pub",
		ConsoleBin:     "validator-engine-console",
		Timeout:        5 * time.Second,
	}, WithRunner(r.run))
	return c, r
}

func TestLiteClientCommands(t *testing.T) {
	elector := "-1:3333333333333333333333333333333333333333333333333333333333333333"
	c, r := newScripted(map[string]string{
		"runmethodfull " + elector + " active_election_id":     "result:  [ 1700065536 ]",
		"runmethodfull " + elector + " past_election_ids":      "result:  [ (1700000000 (1699934464 ())) ]",
		"runmethodfull " + elector + " compute_returned_stake": "result:  [ 2500000000 ]",
		"getconfig 8":  "ConfigParam(8) = ( capabilities#c4 version:4 capabilities:494)",
		"checkloadall": loadAllOut,
		"getstats":     "unixtime\t1700000100\nmasterchainblocktime\t1700000090\n",
	})
	ctx := context.Background()

	id, err := c.ActiveElectionID(ctx, elector)
	require.NoError(t, err)
	assert.Equal(t, int64(1700065536), id)

	past, err := c.PastElectionIDs(ctx, elector)
	require.NoError(t, err)
	assert.Equal(t, []int64{1700000000, 1699934464}, past)

	returned, err := c.ReturnedStake(ctx, elector, "-1:ABCD")
	require.NoError(t, err)
	assert.Equal(t, 2.5, returned)
	last := r.calls[len(r.calls)-1]
	assert.Equal(t, "runmethodfull "+elector+" compute_returned_stake 0xABCD", last.args[len(last.args)-1])

	v, err := c.GlobalVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v.Version)

	loads, err := c.ValidatorsLoad(ctx, 1700000000, 1700000100)
	require.NoError(t, err)
	assert.Len(t, loads, 2)
	assert.Equal(t, "checkloadall 1700000000 1700000100", r.calls[len(r.calls)-1].args[len(r.calls[len(r.calls)-1].args)-1])

	_, err = c.ValidatorsLoad(ctx, 100, 100)
	assert.Error(t, err)

	st, err := c.EngineStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.OutOfSync)
	assert.Equal(t, "validator-engine-console", r.calls[len(r.calls)-1].name)

	assert.Equal(t, []string{"-a", "127.0.0.1:4443", "-b", "/keys/liteserver.pub", "-t", "5", "-c", "getconfig 8"}, r.calls[3].args)
}

func TestLiteClientSubWalletID(t *testing.T) {
	c, r := newScripted(map[string]string{
		"runmethodfull -1:AB wallet_id": "arguments:  [ 105222 ] \nresult:  [ 698983191 ] ",
		"runmethodfull -1:CD wallet_id": "result:  [ ] ",
	})
	ctx := context.Background()

	id, err := c.SubWalletID(ctx, "-1:AB")
	require.NoError(t, err)
	assert.Equal(t, int64(698983191), id)
	assert.Equal(t, "runmethodfull -1:AB wallet_id", r.calls[0].args[len(r.calls[0].args)-1])

	_, err = c.SubWalletID(ctx, "-1:CD")
	assert.ErrorIs(t, err, ErrParse)
}

func TestLiteClientCommandFailure(t *testing.T) {
	c, _ := newScripted(map[string]string{})
	_, err := c.Timing(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestLiteClientTimeout(t *testing.T) {
	slow := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := NewLiteClient(LiteClientConfig{Timeout: 20 * time.Millisecond}, WithRunner(slow))

	_, err := c.ValidatorSet(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
