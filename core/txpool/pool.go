// Copyright 2024 The execore Authors
// This file is part of execore.
//
// execore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package txpool

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

// ChainView is the minimal read-only view into chain state and the
// execution-layer account view the pool needs for admission and
// classification. It is a narrow capability interface rather than the full
// core/chain.Reader, since the pool never needs header validation, only account
// and fee-market state.
type ChainView interface {
	// AccountNonce returns the on-chain nonce for an address.
	AccountNonce(addr common.Address) uint64
	// AccountBalance returns the on-chain balance for an address.
	AccountBalance(addr common.Address) *big.Int
	// NextBaseFee returns the base fee the next block will require
	// (computed via consensus/misc.CalcBaseFee against the current head).
	NextBaseFee() *big.Int
	// GasLimit returns the current chain's target gas limit.
	GasLimit() uint64
	// IsLondon reports whether EIP-1559 classification rules apply.
	IsLondon() bool
	// Signer returns the transaction signer for recovering senders.
	Signer() types.Signer
}

// Pool is the transaction pool. All mutation goes through mu: Add,
// AdjustHead, and Expire each take it for their full duration, and reorg
// runs only under it, so a reorg always observes a consistent bucket
// snapshot, the same guarantee a single-threaded event loop gets for free.
type Pool struct {
	config Config
	chain  ChainView

	mu       sync.RWMutex
	byID     map[common.Hash]*Item
	bySender map[common.Address]*list
	priced   *pricedIndex

	waste      map[common.Hash]*Item
	wasteOrder []common.Hash // insertion order, for bounded retention

	lastCandidate *Candidate

	feed event.Feed // publishes *NewCandidateEvent to subscribers
	log  log.Logger
}

// New creates a transaction pool bound to the given chain view.
func New(config Config, chain ChainView) *Pool {
	return &Pool{
		config:   config.sanitize(),
		chain:    chain,
		byID:     make(map[common.Hash]*Item),
		bySender: make(map[common.Address]*list),
		priced:   newPricedIndex(chain.NextBaseFee()),
		waste:    make(map[common.Hash]*Item),
		log:      log.New("component", "txpool"),
	}
}

// SubscribeNewCandidate registers a channel to be notified whenever the
// packer produces a new candidate block.
func (p *Pool) SubscribeNewCandidate(ch chan<- *Candidate) event.Subscription {
	return p.feed.Subscribe(ch)
}

func (p *Pool) senderList(addr common.Address) *list {
	l, ok := p.bySender[addr]
	if !ok {
		l = newList()
		p.bySender[addr] = l
	}
	return l
}

// Add admits a new transaction into the pool.
// Rejection reasons are checked in the documented order; the first match
// wins and is recorded on the waste-basket entry, so an operator can ask the
// pool why any recently seen transaction is not live. An existing item (for
// a replace) is retained or evicted to the waste basket accordingly.
func (p *Pool) Add(tx *types.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := tx.Hash()
	if _, ok := p.byID[id]; ok {
		return ErrAlreadyKnown
	}

	item := &Item{
		ID:         id,
		Tx:         tx,
		Status:     Pending,
		Nonce:      tx.Nonce(),
		ReceivedAt: time.Now(),
	}

	sender, err := types.Sender(p.chain.Signer(), tx)
	if err != nil {
		p.wasteBasket(item, ReasonInvalidSender)
		return fmt.Errorf("%w: %v", ErrInvalidSender, err)
	}
	item.Sender = sender

	if err := p.validateBasics(tx); err != nil {
		p.wasteBasket(item, ReasonBasicValidationFailed)
		return err
	}

	if item.Nonce < p.chain.AccountNonce(sender) {
		p.wasteBasket(item, ReasonNonceTooLow)
		return ErrNonceTooLow
	}

	cost := new(big.Int).Add(tx.Value(), new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasFeeCap()))
	if p.chain.AccountBalance(sender).Cmp(cost) < 0 {
		p.wasteBasket(item, ReasonInsufficientFunds)
		return ErrInsufficientFunds
	}

	l := p.senderList(sender)
	existing := l.get(item.Nonce)
	if existing != nil {
		bump := new(big.Int).Div(new(big.Int).Mul(existing.Tx.GasPrice(), big.NewInt(int64(100+p.config.PriceBump))), big.NewInt(100))
		if tx.GasPrice().Cmp(bump) < 0 {
			p.wasteBasket(item, ReasonReplaceUnderpriced)
			return ErrReplaceUnderpriced
		}
	} else if uint64(len(p.byID)) >= p.config.GlobalSlots {
		if err := p.makeRoom(item); err != nil {
			p.wasteBasket(item, ReasonUnderpriced)
			return err
		}
	}
	if existing != nil {
		delete(p.byID, existing.ID)
		p.wasteBasket(existing, ReasonEvicted)
		p.priced.Removed(1, p.liveItems)
	}

	p.byID[id] = item
	l.put(item)
	p.priced.Put(item)

	p.reorg()
	return nil
}

// makeRoom frees one sender's tail for a new admission into a full pool by
// evicting the cheapest-by-effective-tip resident and its higher-nonce
// siblings. If the newcomer does not outbid the cheapest resident it is the
// one rejected instead.
func (p *Pool) makeRoom(incoming *Item) error {
	baseFee := p.chain.NextBaseFee()
	cheapest := p.priced.Cheapest(p.isLive)
	if cheapest == nil || effectiveTip(incoming, baseFee).Cmp(effectiveTip(cheapest, baseFee)) <= 0 {
		return ErrUnderpriced
	}
	dropped := p.dropChain(cheapest.Sender, cheapest.Nonce, ReasonEvicted)
	p.priced.Removed(dropped, p.liveItems)
	p.log.Debug("evicted underpriced items for admission", "sender", cheapest.Sender, "fromNonce", cheapest.Nonce, "count", dropped)
	return nil
}

// dropChain removes every item of sender at or above fromNonce to the waste
// basket, returning how many were dropped. Contiguity (testable property #2)
// is why eviction always takes the whole tail: removing a middle nonce alone
// would strand the siblings above it.
func (p *Pool) dropChain(sender common.Address, fromNonce uint64, reason RejectReason) int {
	l := p.bySender[sender]
	if l == nil {
		return 0
	}
	dropped := 0
	for _, n := range l.nonces() {
		if n < fromNonce {
			continue
		}
		it := l.get(n)
		delete(p.byID, it.ID)
		l.remove(n)
		p.wasteBasket(it, reason)
		dropped++
	}
	return dropped
}

func (p *Pool) isLive(it *Item) bool { return p.byID[it.ID] == it }

func (p *Pool) liveItems() []*Item {
	out := make([]*Item, 0, len(p.byID))
	for _, it := range p.byID {
		out = append(out, it)
	}
	return out
}

// validateBasics implements the "malformed" admission check.
func (p *Pool) validateBasics(tx *types.Transaction) error {
	if tx.Type() != types.LegacyTxType && !p.chain.IsLondon() {
		return fmt.Errorf("%w: typed transaction before fork activation", ErrBasicValidationFailed)
	}
	if tx.GasFeeCapIntCmp(tx.GasTipCap()) < 0 {
		return fmt.Errorf("%w: max fee below max priority fee", ErrBasicValidationFailed)
	}
	intrinsic, err := intrinsicGas(tx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBasicValidationFailed, err)
	}
	if intrinsic > tx.Gas() {
		return fmt.Errorf("%w: intrinsic gas exceeds gas limit", ErrBasicValidationFailed)
	}
	return nil
}

// wasteBasket records an item's rejection with its reason. Retention is
// bounded: past WasteRetention entries the oldest records are dropped in
// insertion order, so the basket stays an audit window rather than a leak.
func (p *Pool) wasteBasket(item *Item, reason RejectReason) {
	item.RejectReason = reason
	if _, ok := p.waste[item.ID]; !ok {
		p.wasteOrder = append(p.wasteOrder, item.ID)
	}
	p.waste[item.ID] = item
	for len(p.waste) > p.config.WasteRetention {
		oldest := p.wasteOrder[0]
		p.wasteOrder = p.wasteOrder[1:]
		delete(p.waste, oldest)
	}
}

// classifyActive implements classify_active.
func (p *Pool) classifyActive(item *Item) bool {
	l := p.bySender[item.Sender]
	accountNonce := p.chain.AccountNonce(item.Sender)
	if item.Nonce < accountNonce {
		return false // stale: already covered by the chain
	}
	if item.Nonce > accountNonce {
		// Contiguity: the predecessor nonce must be present and itself not
		// Pending, or the item cannot execute next.
		prev := l.get(item.Nonce - 1)
		if prev == nil || prev.Status == Pending {
			return false
		}
	}

	baseFee := p.chain.NextBaseFee()
	tip, err := item.Tx.EffectiveGasTip(baseFee)
	if err != nil || tip.Sign() <= 0 {
		return false
	}
	if item.Tx.Gas() > p.effectiveTargetGasLimit() {
		return false
	}
	if item.Tx.GasFeeCap().Cmp(baseFee) < 0 {
		return false
	}

	cost := new(big.Int).Add(item.Tx.Value(), new(big.Int).Mul(new(big.Int).SetUint64(item.Tx.Gas()), item.Tx.GasFeeCap()))
	if p.chain.AccountBalance(item.Sender).Cmp(cost) < 0 {
		return false
	}

	if p.chain.IsLondon() {
		if item.Tx.GasTipCap().Cmp(p.config.MinTip1559) < 0 {
			return false
		}
		if item.Tx.GasFeeCap().Cmp(p.config.MinFee1559) < 0 {
			return false
		}
	} else if item.Tx.GasPrice().Cmp(p.config.PreLondonMinPrice) < 0 {
		return false
	}
	return true
}

func (p *Pool) effectiveTargetGasLimit() uint64 {
	if p.config.TrgGasLimitMaxEnabled && p.config.TargetGasLimitMax > p.chain.GasLimit() {
		return p.config.TargetGasLimitMax
	}
	return p.chain.GasLimit()
}

// reorg runs the four-pass bucket reorganisation algorithm. Callers must
// hold p.mu.
func (p *Pool) reorg() {
	// Pass 1: stash every Pending item by sender.
	stashed := make(map[common.Address][]uint64)
	for sender, l := range p.bySender {
		for _, it := range l.itemsInStatus(Pending) {
			stashed[sender] = append(stashed[sender], it.Nonce)
		}
	}

	demote := func(l *list, fromNonce uint64) {
		for _, n := range l.nonces() {
			if n >= fromNonce {
				if it := l.get(n); it.Status != Pending {
					it.Status = Pending
					stashed[it.Sender] = append(stashed[it.Sender], it.Nonce)
				}
			}
		}
	}

	// Pass 2: Staged items, ascending (sender, nonce).
	for sender, l := range p.bySender {
		for _, n := range l.nonces() {
			it := l.get(n)
			if it.Status != Staged {
				continue
			}
			if !p.classifyActive(it) {
				demote(l, it.Nonce)
				delete(stashed, sender) // its nonces are higher, can't become active
				break
			}
		}
	}

	// Pass 3: Packed items, ascending (sender, nonce).
	for sender, l := range p.bySender {
		for _, n := range l.nonces() {
			it := l.get(n)
			if it.Status != Packed {
				continue
			}
			if !p.classifyActive(it) {
				demote(l, it.Nonce)
				// Packed nonces are below Staged ones for this sender:
				// demote the whole Staged queue too.
				for _, sn := range l.nonces() {
					if s := l.get(sn); s.Status == Staged {
						s.Status = Pending
						stashed[sender] = append(stashed[sender], sn)
					}
				}
				delete(stashed, sender)
				break
			}
		}
	}

	// Pass 4: re-insert stashed Pending items, promoting to Staged while
	// classify_active holds, in ascending nonce order per sender.
	for sender, nonces := range stashed {
		l := p.bySender[sender]
		sortUint64(nonces)
		for _, n := range nonces {
			it := l.get(n)
			if it == nil || it.Status != Pending {
				continue
			}
			if !p.classifyActive(it) {
				break
			}
			it.Status = Staged
		}
	}
}

func sortUint64(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// AdjustHead reacts to a head movement:
// transactions only on the old branch are re-injected as Pending,
// transactions only on the new branch are discarded (they are already
// mined), then a full bucket reorg runs.
func (p *Pool) AdjustHead(oldBranch, newBranch []*types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	onNew := make(map[common.Hash]bool, len(newBranch))
	for _, tx := range newBranch {
		onNew[tx.Hash()] = true
	}
	for _, tx := range oldBranch {
		if onNew[tx.Hash()] {
			continue // common to both branches, not a reorg-only transaction
		}
		sender, err := types.Sender(p.chain.Signer(), tx)
		if err != nil {
			continue
		}
		id := tx.Hash()
		if _, known := p.byID[id]; known {
			continue
		}
		item := &Item{ID: id, Tx: tx, Sender: sender, Status: Pending, Nonce: tx.Nonce(), ReceivedAt: time.Now()}

		l := p.senderList(sender)
		if clash := l.get(tx.Nonce()); clash != nil && clash.ID != id {
			// A speculative item already occupies this (sender, nonce) slot;
			// the re-injected transaction was canonical on the old branch and
			// takes priority.
			delete(p.byID, clash.ID)
			p.wasteBasket(clash, ReasonSenderNonceIndexClash)
			p.priced.Removed(1, p.liveItems)
		}
		p.byID[id] = item
		l.put(item)
		p.priced.Put(item)
	}
	// New-branch-only transactions need no action: they are already
	// reflected as mined and simply aren't present in the pool's indices
	// (or, if submitted speculatively beforehand, are removed below).
	dropped := 0
	for _, tx := range newBranch {
		id := tx.Hash()
		if it, ok := p.byID[id]; ok {
			delete(p.byID, id)
			p.senderList(it.Sender).remove(it.Nonce)
			dropped++
		}
	}
	if dropped > 0 {
		p.priced.Removed(dropped, p.liveItems)
	}
	// The head movement changed next_base_fee, which reorders effective
	// tips, so the price index re-sorts before classification reruns.
	p.priced.SetBaseFee(p.chain.NextBaseFee(), p.liveItems())
	p.reorg()
}

// SetFloors updates the pool's price floors (pre-London minimum gas price,
// EIP-1559 minimum tip and minimum fee cap) and reruns classification, since
// a raised floor can demote currently staged items and a lowered one can
// promote pending ones. A nil floor leaves that floor unchanged.
func (p *Pool) SetFloors(preLondonMinPrice, minTip1559, minFee1559 *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if preLondonMinPrice != nil {
		p.config.PreLondonMinPrice = new(big.Int).Set(preLondonMinPrice)
	}
	if minTip1559 != nil {
		p.config.MinTip1559 = new(big.Int).Set(minTip1559)
	}
	if minFee1559 != nil {
		p.config.MinFee1559 = new(big.Int).Set(minFee1559)
	}
	p.reorg()
}

// SetPackPolicy updates the bucket-packing policy flags and reruns
// classification: the effective target gas limit is a classify_active input,
// so toggling the soft-target mode can move items between buckets.
func (p *Pool) SetPackPolicy(tryHarder, trgGasLimitMaxEnabled bool, targetGasLimitMax uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.config.TryHarder = tryHarder
	p.config.TrgGasLimitMaxEnabled = trgGasLimitMaxEnabled
	if targetGasLimitMax != 0 {
		p.config.TargetGasLimitMax = targetGasLimitMax
	}
	p.reorg()
}

// CandidateBlock returns the packer's most recent output, or nil if Pack has
// not produced one yet.
func (p *Pool) CandidateBlock() *Candidate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastCandidate
}

// Expire moves items older than the pool's lifetime to the waste basket,
// along with every higher-nonce sibling for that sender. Packed items are
// spared unless AutoEvictPacked is set.
func (p *Pool) Expire(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := now.Add(-p.config.Lifetime)
	dropped := 0
	for sender, l := range p.bySender {
		for _, n := range l.nonces() {
			it := l.get(n)
			if it.ReceivedAt.Before(cutoff) && (it.Status != Packed || p.config.AutoEvictPacked) {
				dropped += p.dropChain(sender, n, ReasonExpired)
				break
			}
		}
	}
	if dropped > 0 {
		p.priced.Removed(dropped, p.liveItems)
	}
}

// Status returns the current bucket contents for a sender, for tests and
// introspection.
func (p *Pool) Status(sender common.Address) map[Status][]uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := map[Status][]uint64{}
	l, ok := p.bySender[sender]
	if !ok {
		return out
	}
	for _, n := range l.nonces() {
		it := l.get(n)
		out[it.Status] = append(out[it.Status], n)
	}
	return out
}

// Get returns an item by id, if still tracked (any bucket, or the waste
// basket).
func (p *Pool) Get(id common.Hash) (*Item, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if it, ok := p.byID[id]; ok {
		return it, true
	}
	it, ok := p.waste[id]
	return it, ok
}

// intrinsicGas computes the minimum gas a transaction must provide: the
// base cost plus non-zero/zero byte calldata costs, the same formula core
// state transition logic applies before touching the EVM.
func intrinsicGas(tx *types.Transaction) (uint64, error) {
	const (
		txGas                   uint64 = 21000
		txGasContractCreation   uint64 = 53000
		txDataZeroGas           uint64 = 4
		txDataNonZeroGasEIP2028 uint64 = 16
	)
	gas := txGas
	if tx.To() == nil {
		gas = txGasContractCreation
	}
	data := tx.Data()
	var nz uint64
	for _, b := range data {
		if b != 0 {
			nz++
		}
	}
	z := uint64(len(data)) - nz

	const maxUint64 = ^uint64(0)
	if nz > 0 && (maxUint64-gas)/txDataNonZeroGasEIP2028 < nz {
		return 0, fmt.Errorf("gas overflow computing intrinsic gas")
	}
	gas += nz * txDataNonZeroGasEIP2028

	if z > 0 && (maxUint64-gas)/txDataZeroGas < z {
		return 0, fmt.Errorf("gas overflow computing intrinsic gas")
	}
	gas += z * txDataZeroGas
	return gas, nil
}
