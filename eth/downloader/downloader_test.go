// Copyright 2024 The execore Authors
// This file is part of execore.

package downloader

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"github.com/execore-project/execore/consensus"
	"github.com/execore-project/execore/core/chain"
)

// acceptAllEngine approves every header: these tests exercise the
// orchestrator's fetch/commit machinery, not consensus rules.
type acceptAllEngine struct{}

func (acceptAllEngine) Author(h *types.Header) (common.Address, error) { return h.Coinbase, nil }

func (acceptAllEngine) VerifyHeader(consensus.ChainHeaderReader, *types.Header) error { return nil }

func (acceptAllEngine) VerifyHeaders(_ consensus.ChainHeaderReader, headers []*types.Header, _ []bool) (chan<- struct{}, <-chan error) {
	abort := make(chan struct{})
	results := make(chan error, len(headers))
	for range headers {
		results <- nil
	}
	return abort, results
}

func (acceptAllEngine) VerifyUncles(consensus.ChainHeaderReader, *types.Block) error { return nil }

func (acceptAllEngine) Close() error { return nil }

type stubReader struct{ head *types.Header }

func (r *stubReader) Config() *params.ChainConfig                  { return params.TestChainConfig }
func (r *stubReader) CurrentHeader() *types.Header                 { return r.head }
func (r *stubReader) GetHeader(common.Hash, uint64) *types.Header  { return nil }
func (r *stubReader) GetHeaderByNumber(uint64) *types.Header       { return nil }
func (r *stubReader) GetHeaderByHash(common.Hash) *types.Header    { return nil }
func (r *stubReader) GetTd(common.Hash, uint64) *big.Int           { return common.Big0 }
func (r *stubReader) BlockBody(common.Hash) *types.Body            { return nil }
func (r *stubReader) GetAncestorsHashes(int, common.Hash) []common.Hash {
	return nil
}

type stubWriter struct {
	persisted  []uint64 // start of each committed range, in commit order
	persistErr error
}

func (w *stubWriter) PersistBlocks(headers []*types.Header, bodies []*types.Body) error {
	if w.persistErr != nil {
		return w.persistErr
	}
	w.persisted = append(w.persisted, headers[0].Number.Uint64())
	return nil
}

func (w *stubWriter) PersistUncles([]*types.Header) (common.Hash, error) {
	return common.Hash{}, nil
}

func (w *stubWriter) Begin(bool) (chain.Tx, error) { return nil, errors.New("not used") }

// scriptedFetcher serves generated headers/bodies and records disconnects.
type scriptedFetcher struct {
	headersErr  error
	bodiesErr   error
	disconnects map[string]string
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{disconnects: make(map[string]string)}
}

func (f *scriptedFetcher) FetchHeaders(peer string, start uint64, count int) ([]*types.Header, error) {
	if f.headersErr != nil {
		return nil, f.headersErr
	}
	out := make([]*types.Header, count)
	for i := range out {
		out[i] = headerAt(start + uint64(i))
	}
	return out, nil
}

func (f *scriptedFetcher) FetchBodies(peer string, hashes []common.Hash) ([]*types.Body, error) {
	if f.bodiesErr != nil {
		return nil, f.bodiesErr
	}
	out := make([]*types.Body, len(hashes))
	for i := range out {
		out[i] = &types.Body{}
	}
	return out, nil
}

func (f *scriptedFetcher) Disconnect(peer string, reason string) {
	f.disconnects[peer] = reason
}

func newTestDownloader(fetcher PeerFetcher, writer *stubWriter) *Downloader {
	reader := &stubReader{head: headerAt(90)}
	cfg := Config{GateThreshold: 1, MaxHeadersPerRequest: 10, MaxBodiesPerRequest: 4, RNGSeed: 1}
	return New(reader, writer, acceptAllEngine{}, nil, nil, fetcher, cfg)
}

// TestRunPeerIterationCommitsInOrder drives two full iterations: the peer
// announces head 110, then fetches and commits [91,100] and [101,110], and a
// third iteration finds no work left.
func TestRunPeerIterationCommitsInOrder(t *testing.T) {
	fetcher := newScriptedFetcher()
	writer := &stubWriter{}
	d := newTestDownloader(fetcher, writer)

	admitted, err := d.AnnounceHead("p1", headerAt(110))
	require.NoError(t, err)
	require.True(t, admitted)
	require.True(t, d.Syncing())

	require.NoError(t, d.RunPeerIteration("p1"))
	require.Equal(t, uint64(100), d.queue.LastPersisted())

	require.NoError(t, d.RunPeerIteration("p1"))
	require.Equal(t, uint64(110), d.queue.LastPersisted())
	require.Equal(t, []uint64{91, 101}, writer.persisted)

	require.ErrorIs(t, d.RunPeerIteration("p1"), ErrNoWork)
	require.Empty(t, fetcher.disconnects)
}

// TestRunPeerIterationTransportFailure: a body-fetch error reverts the item
// and abandons the peer with the transport reason.
func TestRunPeerIterationTransportFailure(t *testing.T) {
	fetcher := newScriptedFetcher()
	fetcher.bodiesErr = errors.New("connection reset")
	d := newTestDownloader(fetcher, &stubWriter{})

	_, err := d.AnnounceHead("p1", headerAt(110))
	require.NoError(t, err)

	require.Error(t, d.RunPeerIteration("p1"))
	require.Equal(t, ReasonTransport, fetcher.disconnects["p1"])
	require.Equal(t, uint64(90), d.queue.LastPersisted())

	// The failed slot reverted to Initial: a healthy peer picks it up whole.
	fetcher2 := newScriptedFetcher()
	d.fetcher = fetcher2
	require.NoError(t, d.RunPeerIteration("p2"))
	require.Equal(t, uint64(100), d.queue.LastPersisted())
}

// TestRunPeerIterationPersistFailure: a failed commit reverts the item and
// disconnects the delivering peer with the subprotocol reason.
func TestRunPeerIterationPersistFailure(t *testing.T) {
	fetcher := newScriptedFetcher()
	writer := &stubWriter{persistErr: errors.New("disk full")}
	d := newTestDownloader(fetcher, writer)

	_, err := d.AnnounceHead("p1", headerAt(110))
	require.NoError(t, err)

	require.NoError(t, d.RunPeerIteration("p1"))
	require.Equal(t, ReasonSubprotocol, fetcher.disconnects["p1"])
	require.Equal(t, uint64(90), d.queue.LastPersisted())
}
