// Copyright 2025 Lincoln Institute of Land Policy
// SPDX-License-Identifier: Apache-2.0

package synchronizer

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMultiErrGroupCollectsAllErrors(t *testing.T) {
	var group MultiErrGroup
	for i := range 5 {
		group.Go(func() error {
			if i%2 == 0 {
				return errors.New("even")
			}
			return nil
		})
	}
	require.Len(t, group.Wait(), 3)
}

func TestMultiErrGroupLimit(t *testing.T) {
	var group MultiErrGroup
	group.SetLimit(2)

	var running, peak atomic.Int32
	for range 10 {
		group.Go(func() error {
			now := running.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	require.Nil(t, group.Wait())
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestMultiErrGroupRecoversPanics(t *testing.T) {
	var group MultiErrGroup
	group.SetLimit(1)
	group.Go(func() error { panic("boom") })
	group.Go(func() error { return nil })

	errs := group.Wait()
	require.Len(t, errs, 1)
	var panicErr *PanicError
	require.ErrorAs(t, errs[0], &panicErr)
	require.Equal(t, "boom", panicErr.Value)
}
