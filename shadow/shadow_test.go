package shadow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ippan/dlc/codec"
	"github.com/ippan/dlc/dag"
)

type fixedExecutor struct {
	root  codec.Hash256
	delay time.Duration
	err   error
}

func (f fixedExecutor) Execute(ctx context.Context, block dag.Block) (codec.Hash256, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return codec.Hash256{}, ctx.Err()
		}
	}
	return f.root, f.err
}

func TestRunAllAgree(t *testing.T) {
	c := NewCoordinator(Config{Timeout: time.Second})
	root := codec.Hash256{1}
	block := dag.Block{ID: dag.BlockID{1}}

	verifiers := map[[32]byte]Executor{
		{1}: fixedExecutor{root: root},
		{2}: fixedExecutor{root: root},
	}

	out, err := c.Run(context.Background(), block, root, verifiers)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Agreements)
	assert.False(t, out.Flagged)
}

func TestRunDetectsDivergence(t *testing.T) {
	c := NewCoordinator(Config{Timeout: time.Second})
	root := codec.Hash256{1}
	wrong := codec.Hash256{2}
	block := dag.Block{ID: dag.BlockID{1}}

	verifiers := map[[32]byte]Executor{
		{1}: fixedExecutor{root: root},
		{2}: fixedExecutor{root: wrong},
	}

	out, err := c.Run(context.Background(), block, root, verifiers)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Agreements)
	assert.True(t, out.Flagged)
	require.Len(t, out.Divergences, 1)
	assert.Equal(t, [32]byte{2}, out.Divergences[0].VerifierID)
}

func TestRunTimeout(t *testing.T) {
	c := NewCoordinator(Config{Timeout: 10 * time.Millisecond})
	root := codec.Hash256{1}
	block := dag.Block{ID: dag.BlockID{1}}

	verifiers := map[[32]byte]Executor{
		{1}: fixedExecutor{root: root, delay: time.Second},
	}

	_, err := c.Run(context.Background(), block, root, verifiers)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestRunNoVerifiers(t *testing.T) {
	c := NewCoordinator(Config{Timeout: time.Second})
	_, err := c.Run(context.Background(), dag.Block{}, codec.Hash256{}, nil)
	require.ErrorIs(t, err, ErrNoVerifier)
}

func TestRunRejectsOnMajorityDivergence(t *testing.T) {
	c := NewCoordinator(Config{Timeout: time.Second})
	root := codec.Hash256{1}
	wrong := codec.Hash256{2}
	block := dag.Block{ID: dag.BlockID{1}}

	// 2 of 3 shadows disagree with the claimed root: more than floor(3/2)=1.
	verifiers := map[[32]byte]Executor{
		{1}: fixedExecutor{root: root},
		{2}: fixedExecutor{root: wrong},
		{3}: fixedExecutor{root: wrong},
	}

	out, err := c.Run(context.Background(), block, root, verifiers)
	require.NoError(t, err)
	assert.True(t, out.Rejected)
	assert.Len(t, out.Divergences, 2)
}

func TestRunDoesNotRejectOnMinorityDivergence(t *testing.T) {
	c := NewCoordinator(Config{Timeout: time.Second})
	root := codec.Hash256{1}
	wrong := codec.Hash256{2}
	block := dag.Block{ID: dag.BlockID{1}}

	// Only 1 of 3 shadows disagrees: not more than floor(3/2)=1.
	verifiers := map[[32]byte]Executor{
		{1}: fixedExecutor{root: root},
		{2}: fixedExecutor{root: root},
		{3}: fixedExecutor{root: wrong},
	}

	out, err := c.Run(context.Background(), block, root, verifiers)
	require.NoError(t, err)
	assert.False(t, out.Rejected)
	assert.Len(t, out.Divergences, 1)
}

func TestRunMarksMinorityAsSuspicious(t *testing.T) {
	c := NewCoordinator(Config{Timeout: time.Second})
	claimed := codec.Hash256{1}
	peerRoot := codec.Hash256{2}
	oddRoot := codec.Hash256{3}
	block := dag.Block{ID: dag.BlockID{1}}

	// Shadows 1 and 2 agree with each other (but not with the primary's
	// claim); shadow 3 agrees with neither and is the odd one out among
	// its peers.
	verifiers := map[[32]byte]Executor{
		{1}: fixedExecutor{root: peerRoot},
		{2}: fixedExecutor{root: peerRoot},
		{3}: fixedExecutor{root: oddRoot},
	}

	out, err := c.Run(context.Background(), block, claimed, verifiers)
	require.NoError(t, err)
	require.Len(t, out.Suspicious, 1)
	assert.Equal(t, [32]byte{3}, out.Suspicious[0].VerifierID)
}

func TestRunDoesNotBlockOnStraggler(t *testing.T) {
	c := NewCoordinator(Config{Timeout: 2 * time.Second})
	root := codec.Hash256{1}
	block := dag.Block{ID: dag.BlockID{1}}

	// 2 of 3 shadows report immediately, forming a majority; the third
	// never gets the chance to report before the majority is in hand.
	verifiers := map[[32]byte]Executor{
		{1}: fixedExecutor{root: root},
		{2}: fixedExecutor{root: root},
		{3}: fixedExecutor{root: root, delay: time.Second},
	}

	out, err := c.Run(context.Background(), block, root, verifiers)
	require.NoError(t, err)
	assert.False(t, out.Rejected)
	require.Len(t, out.NonResponsive, 1)
	assert.Equal(t, [32]byte{3}, out.NonResponsive[0])
}
