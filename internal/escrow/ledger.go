package escrow

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"tidebridge/internal/event"
	"tidebridge/internal/ledger"
	"tidebridge/internal/observability"
)

// DefaultPendingCap bounds how many non-terminal requests a single
// requester may hold at once. PROCESSING requests count against it.
const DefaultPendingCap = 16

// Config carries the initial ledger parameters. Everything here can be
// changed at runtime through the admin surface.
type Config struct {
	RelayAddress common.Address
	PendingCap   int
	MinDeposits  map[string]int64
}

// Ledger is the escrow request ledger: the single authority over request
// state, escrowed funds, and position ownership. Every mutation happens
// under one lock, and each mutation emits exactly one Output carrying the
// event and the journal batch that moved funds. Double-entry journals keep
// the requester's escrow balance equal to the sum of that requester's
// PENDING funding amounts at every observable point.
type Ledger struct {
	mu sync.Mutex

	requests   map[uint64]*Request
	queue      *PendingQueue
	processing map[uint64]struct{}
	active     map[common.Address]int // Non-terminal request count per requester
	registry   *OwnershipRegistry

	balances   *ledger.BalanceTracker
	journalGen *ledger.JournalGenerator
	validator  *ledger.InvariantValidator

	nextRequestID uint64
	eventSeq      int64

	relayAddr  common.Address
	pendingCap int

	minDeposits      map[string]int64
	allowlistEnabled bool
	blocklistEnabled bool
	allowlist        map[common.Address]struct{}
	blocklist        map[common.Address]struct{}

	persistChan chan<- Output // Blocking: persistence must keep up
	publishChan chan<- Output // Non-blocking: publishing is best-effort

	metrics *observability.Metrics
}

func NewLedger(cfg Config, persistChan, publishChan chan<- Output, metrics *observability.Metrics) *Ledger {
	tracker := ledger.NewBalanceTracker()
	pendingCap := cfg.PendingCap
	if pendingCap < 1 {
		pendingCap = DefaultPendingCap
	}
	minDeposits := make(map[string]int64, len(cfg.MinDeposits))
	for asset, min := range cfg.MinDeposits {
		minDeposits[asset] = min
	}
	return &Ledger{
		requests:      make(map[uint64]*Request),
		queue:         NewPendingQueue(),
		processing:    make(map[uint64]struct{}),
		active:        make(map[common.Address]int),
		registry:      NewOwnershipRegistry(),
		balances:      tracker,
		journalGen:    ledger.NewJournalGenerator(0, tracker),
		validator:     ledger.NewInvariantValidator(tracker),
		nextRequestID: 1,
		relayAddr:     cfg.RelayAddress,
		pendingCap:    pendingCap,
		minDeposits:   minDeposits,
		allowlist:     make(map[common.Address]struct{}),
		blocklist:     make(map[common.Address]struct{}),
		persistChan:   persistChan,
		publishChan:   publishChan,
		metrics:       metrics,
	}
}

// --- Submission and cancellation ---

// Submit validates and records a new request. Funding kinds (OPEN_POSITION,
// ADD_FUNDS) move the deposit into the requester's escrow account in the
// same transaction. Returns the assigned request id.
func (l *Ledger) Submit(
	requester common.Address,
	kind RequestKind,
	asset string,
	amount int64,
	positionID uuid.UUID,
	positionType string,
	strategy string,
) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Step 1: Access control.
	if l.blocklistEnabled {
		if _, ok := l.blocklist[requester]; ok {
			return 0, fmt.Errorf("%w: requester=%s is blocklisted", ErrNotAllowed, requester.Hex())
		}
	}
	if l.allowlistEnabled {
		if _, ok := l.allowlist[requester]; !ok {
			return 0, fmt.Errorf("%w: requester=%s is not on the allowlist", ErrNotAllowed, requester.Hex())
		}
	}

	// Step 2: Asset must be supported.
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	// Step 3: Amount rules per kind.
	switch kind {
	case KindOpenPosition, KindAddFunds:
		min := l.minDeposits[asset]
		if min < 1 {
			min = 1
		}
		if amount < min {
			return 0, fmt.Errorf("%w: asset=%s amount=%d minimum=%d", ErrBelowMinimum, asset, amount, min)
		}
	case KindWithdrawFunds:
		if amount <= 0 {
			return 0, fmt.Errorf("%w: withdrawal amount must be positive", ErrBelowMinimum)
		}
	case KindClosePosition:
		amount = 0 // Close always returns the full remaining balance
	}

	// Step 4: Requests against an existing position must come from its owner.
	// OPEN_POSITION has no target yet; its position id is assigned at completion.
	if kind == KindOpenPosition {
		positionID = uuid.Nil
	} else if !l.registry.Owns(requester, positionID) {
		return 0, fmt.Errorf("%w: position=%s", ErrNotPositionOwner, positionID)
	}

	// Step 5: Per-requester cap over PENDING plus PROCESSING.
	if l.active[requester] >= l.pendingCap {
		return 0, fmt.Errorf("%w: limit=%d", ErrTooManyPending, l.pendingCap)
	}

	// Step 6: Assign the id and record the request.
	now := time.Now().UTC()
	id := l.nextRequestID
	l.nextRequestID++

	req := &Request{
		ID:           id,
		Requester:    requester,
		Kind:         kind,
		Asset:        asset,
		Amount:       amount,
		PositionID:   positionID,
		PositionType: positionType,
		Strategy:     strategy,
		Status:       StatusPending,
		CreatedAt:    now,
	}

	// Step 7: Funding deposits enter escrow atomically with the request.
	var batch *ledger.Batch
	if kind.IsFunding() {
		var err error
		batch, err = l.journalGen.GenerateEscrowDeposit(requester, id, amount, assetID, now.UnixMicro())
		if err != nil {
			panic(fmt.Sprintf("FATAL: escrow deposit for request %d: %v", id, err))
		}
		l.applyBatch(batch)
	}

	l.requests[id] = req
	l.queue.Push(id)
	l.active[requester]++

	evt := l.nextEvent(event.EventTypeRequestSubmitted, now)
	evt.Request = req.Snapshot()
	l.emit(evt, batch)

	if l.metrics != nil {
		l.metrics.RequestsSubmitted.WithLabelValues(kind.String()).Inc()
		l.metrics.PendingBacklog.Set(float64(l.queue.Len()))
	}
	return id, nil
}

// Cancel withdraws a PENDING request. Only the requester may cancel unless
// isAdmin is set. Escrowed funds flow back out in the same transaction, so
// cancellation leaves no balance behind.
func (l *Ledger) Cancel(requestID uint64, caller common.Address, isAdmin bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	req, ok := l.requests[requestID]
	if !ok {
		return fmt.Errorf("%w: id=%d", ErrNotFound, requestID)
	}
	if !isAdmin && req.Requester != caller {
		return fmt.Errorf("%w: id=%d", ErrNotOwner, requestID)
	}
	if req.Status != StatusPending {
		return fmt.Errorf("%w: id=%d status=%s", ErrNotCancellable, requestID, req.Status)
	}

	now := time.Now().UTC()
	batch := l.releaseEscrow(req, now)

	req.Status = StatusFailed
	req.ResultMessage = "cancelled"
	l.queue.Remove(requestID)
	l.active[req.Requester]--

	evt := l.nextEvent(event.EventTypeRequestCancelled, now)
	evt.Request = req.Snapshot()
	l.emit(evt, batch)

	if l.metrics != nil {
		l.metrics.RequestsCancelled.Inc()
		l.metrics.PendingBacklog.Set(float64(l.queue.Len()))
	}
	return nil
}

// --- Relay lifecycle ---

// StartProcessing moves a PENDING request to PROCESSING and reserves its
// escrowed funds into bridge custody. Only the configured relay may call
// this; a request already picked up reports ErrAlreadyFinalized, which is
// how a second concurrent worker discovers it lost the race.
func (l *Ledger) StartProcessing(caller common.Address, requestID uint64) (Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireRelay(caller); err != nil {
		return Request{}, err
	}
	req, ok := l.requests[requestID]
	if !ok {
		return Request{}, fmt.Errorf("%w: id=%d", ErrNotFound, requestID)
	}
	if req.Status != StatusPending {
		return Request{}, fmt.Errorf("%w: id=%d status=%s", ErrAlreadyFinalized, requestID, req.Status)
	}

	now := time.Now().UTC()
	var batch *ledger.Batch
	if req.Kind.IsFunding() {
		assetID := l.mustAssetID(req.Asset)
		// A shortfall here means journaling broke somewhere upstream. The
		// request stays PENDING; the caller alerts rather than retries.
		have := l.balances.GetEscrowBalance(req.Requester, assetID)
		if have < req.Amount {
			if l.metrics != nil {
				l.metrics.EscrowShortfalls.Inc()
			}
			return Request{}, fmt.Errorf("%w: id=%d have=%d need=%d", ErrInsufficientEscrow, requestID, have, req.Amount)
		}
		var err error
		batch, err = l.journalGen.GenerateEscrowReserve(req.Requester, req.ID, req.Amount, assetID, now.UnixMicro())
		if err != nil {
			panic(fmt.Sprintf("FATAL: escrow reserve for request %d: %v", requestID, err))
		}
		l.applyBatch(batch)
	}

	req.Status = StatusProcessing
	l.queue.Remove(requestID)
	l.processing[requestID] = struct{}{}

	evt := l.nextEvent(event.EventTypeProcessingStarted, now)
	evt.Request = req.Snapshot()
	l.emit(evt, batch)

	if l.metrics != nil {
		l.metrics.PendingBacklog.Set(float64(l.queue.Len()))
		l.metrics.ProcessingCount.Set(float64(len(l.processing)))
	}
	return *req, nil
}

// CompleteProcessing finalizes a PROCESSING request. On success the reserved
// funds are consumed into the remote ledger (funding kinds) or paid back out
// (returnedAmount for withdrawals and closes). On failure the reserved funds
// flow back through escrow to the requester in a single batch, so the escrow
// balance observed before and after the call is unchanged.
func (l *Ledger) CompleteProcessing(
	caller common.Address,
	requestID uint64,
	success bool,
	resultPositionID uuid.UUID,
	returnedAmount int64,
	message string,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireRelay(caller); err != nil {
		return err
	}
	req, ok := l.requests[requestID]
	if !ok {
		return fmt.Errorf("%w: id=%d", ErrNotFound, requestID)
	}
	if req.Status != StatusProcessing {
		return fmt.Errorf("%w: id=%d status=%s", ErrAlreadyFinalized, requestID, req.Status)
	}

	now := time.Now().UTC()
	assetID := l.mustAssetID(req.Asset)

	var batch *ledger.Batch
	if success {
		var err error
		batch, err = l.settleSuccess(req, assetID, resultPositionID, returnedAmount, now)
		if err != nil {
			return err
		}
		req.Status = StatusCompleted
	} else {
		batch = l.refundEscrow(req, assetID, now)
		req.Status = StatusFailed
	}
	req.ResultMessage = message

	delete(l.processing, requestID)
	l.active[req.Requester]--

	evtType := event.EventTypeRequestCompleted
	outcome := "success"
	if !success {
		evtType = event.EventTypeRequestFailed
		outcome = "failure"
	}
	evt := l.nextEvent(evtType, now)
	evt.Request = req.Snapshot()
	l.emit(evt, batch)

	if l.metrics != nil {
		l.metrics.RequestsFinalized.WithLabelValues(req.Kind.String(), outcome).Inc()
		l.metrics.ProcessingCount.Set(float64(len(l.processing)))
	}
	return nil
}

// settleSuccess applies the success-path journaling and registry updates
// for one request. It returns an error without mutating anything when the
// relay's report does not line up with the request.
func (l *Ledger) settleSuccess(
	req *Request,
	assetID ledger.AssetID,
	resultPositionID uuid.UUID,
	returnedAmount int64,
	now time.Time,
) (*ledger.Batch, error) {
	switch req.Kind {
	case KindOpenPosition:
		if resultPositionID == uuid.Nil {
			return nil, fmt.Errorf("%w: open completion requires a position id", ErrPositionMismatch)
		}
		if owner, ok := l.registry.OwnerOf(resultPositionID); ok {
			return nil, fmt.Errorf("%w: position=%s already owned by %s", ErrPositionMismatch, resultPositionID, owner.Hex())
		}
		batch, err := l.journalGen.GenerateEscrowConsume(req.ID, req.Amount, assetID, now.UnixMicro())
		if err != nil {
			panic(fmt.Sprintf("FATAL: escrow consume for request %d: %v", req.ID, err))
		}
		l.applyBatch(batch)
		l.registry.Register(resultPositionID, req.Requester)
		req.PositionID = resultPositionID
		return batch, nil

	case KindAddFunds:
		if resultPositionID != req.PositionID {
			return nil, fmt.Errorf("%w: got=%s want=%s", ErrPositionMismatch, resultPositionID, req.PositionID)
		}
		batch, err := l.journalGen.GenerateEscrowConsume(req.ID, req.Amount, assetID, now.UnixMicro())
		if err != nil {
			panic(fmt.Sprintf("FATAL: escrow consume for request %d: %v", req.ID, err))
		}
		l.applyBatch(batch)
		return batch, nil

	case KindWithdrawFunds, KindClosePosition:
		if resultPositionID != req.PositionID {
			return nil, fmt.Errorf("%w: got=%s want=%s", ErrPositionMismatch, resultPositionID, req.PositionID)
		}
		if returnedAmount < 0 {
			return nil, fmt.Errorf("returned amount must not be negative: %d", returnedAmount)
		}
		var batch *ledger.Batch
		if returnedAmount > 0 {
			var err error
			batch, err = l.journalGen.GeneratePayoutReturn(req.ID, returnedAmount, assetID, now.UnixMicro())
			if err != nil {
				panic(fmt.Sprintf("FATAL: payout for request %d: %v", req.ID, err))
			}
			l.applyBatch(batch)
		}
		if req.Kind == KindClosePosition {
			l.registry.Unregister(req.PositionID)
		}
		return batch, nil
	}
	panic(fmt.Sprintf("FATAL: unknown request kind %d", req.Kind))
}

// --- Administration ---

// DropRequests force-fails the given requests. PENDING requests settle like
// a cancellation, PROCESSING requests like a failed completion: either way
// escrowed funds go back to the requester. Terminal and unknown ids are
// skipped. Returns the ids actually dropped.
func (l *Ledger) DropRequests(ids []uint64) []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var dropped []uint64
	now := time.Now().UTC()
	for _, id := range ids {
		req, ok := l.requests[id]
		if !ok || req.Status.IsTerminal() {
			continue
		}

		var batch *ledger.Batch
		switch req.Status {
		case StatusPending:
			batch = l.releaseEscrow(req, now)
			l.queue.Remove(id)
		case StatusProcessing:
			// Funds already sit in custody; route them back through escrow.
			batch = l.refundEscrow(req, l.mustAssetID(req.Asset), now)
			delete(l.processing, id)
		}

		req.Status = StatusFailed
		req.ResultMessage = "dropped by administrator"
		l.active[req.Requester]--
		dropped = append(dropped, id)

		evt := l.nextEvent(event.EventTypeRequestDropped, now)
		evt.Request = req.Snapshot()
		l.emit(evt, batch)

		if l.metrics != nil {
			l.metrics.RequestsDropped.Inc()
		}
	}

	if l.metrics != nil {
		l.metrics.PendingBacklog.Set(float64(l.queue.Len()))
		l.metrics.ProcessingCount.Set(float64(len(l.processing)))
	}
	return dropped
}

// CorrectEscrow applies a signed balance correction to a requester's escrow
// account. This is the repair path for drift found by reconciliation, not a
// transfer: only the relay identity may call it, and every correction is
// journaled and published with its reason.
func (l *Ledger) CorrectEscrow(caller, requester common.Address, asset string, delta int64, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireRelay(caller); err != nil {
		return err
	}
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	if delta == 0 {
		return fmt.Errorf("correction delta must be non-zero")
	}
	if delta < 0 {
		have := l.balances.GetEscrowBalance(requester, assetID)
		if have < -delta {
			return fmt.Errorf("%w: have=%d need=%d", ErrInsufficientEscrow, have, -delta)
		}
	}

	now := time.Now().UTC()
	batch, err := l.journalGen.GenerateEscrowAdjust(requester, delta, assetID, now.UnixMicro())
	if err != nil {
		panic(fmt.Sprintf("FATAL: escrow adjust for %s: %v", requester.Hex(), err))
	}
	l.applyBatch(batch)

	evt := l.nextEvent(event.EventTypeEscrowCorrected, now)
	evt.Correction = &event.EscrowCorrection{
		Requester: requester.Hex(),
		Asset:     asset,
		Delta:     delta,
		Reason:    reason,
	}
	l.emit(evt, batch)

	if l.metrics != nil {
		l.metrics.EscrowCorrections.Inc()
	}
	return nil
}

func (l *Ledger) SetRelayAddress(addr common.Address) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("relay address must not be zero")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.relayAddr = addr
	return nil
}

func (l *Ledger) SetPendingCap(limit int) error {
	if limit < 1 {
		return fmt.Errorf("pending cap must be at least 1: %d", limit)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pendingCap = limit
	return nil
}

func (l *Ledger) SetMinDeposit(asset string, min int64) error {
	if _, ok := ledger.GetAssetID(asset); !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	if min < 0 {
		return fmt.Errorf("minimum deposit must not be negative: %d", min)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minDeposits[asset] = min
	return nil
}

func (l *Ledger) SetAllowlistEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowlistEnabled = enabled
}

func (l *Ledger) SetBlocklistEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocklistEnabled = enabled
}

func (l *Ledger) Allow(addr common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowlist[addr] = struct{}{}
}

func (l *Ledger) Disallow(addr common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.allowlist, addr)
}

func (l *Ledger) Block(addr common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocklist[addr] = struct{}{}
}

func (l *Ledger) Unblock(addr common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.blocklist, addr)
}

// --- Reads ---

// PendingIDs returns up to limit PENDING request ids in ascending order.
// A limit of zero or less returns the whole backlog.
func (l *Ledger) PendingIDs(limit int) []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.Peek(limit)
}

// Backlog returns the number of PENDING requests.
func (l *Ledger) Backlog() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.Len()
}

// ProcessingIDs returns the ids currently in PROCESSING, ascending.
func (l *Ledger) ProcessingIDs() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]uint64, 0, len(l.processing))
	for id := range l.processing {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Get returns a copy of the request with the given id.
func (l *Ledger) Get(requestID uint64) (Request, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	req, ok := l.requests[requestID]
	if !ok {
		return Request{}, false
	}
	return *req, true
}

// RequestsOf returns up to limit requests submitted by requester, newest
// first. A limit of zero or less returns all of them.
func (l *Ledger) RequestsOf(requester common.Address, limit int) []Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Request
	for _, req := range l.requests {
		if req.Requester == requester {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// EscrowBalance returns the requester's escrowed balance for an asset.
func (l *Ledger) EscrowBalance(requester common.Address, asset string) (int64, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances.GetEscrowBalance(requester, assetID), nil
}

// CustodyBalance returns the bridge custody balance for an asset.
func (l *Ledger) CustodyBalance(asset string) (int64, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances.GetCustodyBalance(assetID), nil
}

// PositionsOf returns the position ids registered to a requester.
func (l *Ledger) PositionsOf(requester common.Address) []uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registry.PositionsOf(requester)
}

// OwnerOf returns the registered owner of a position.
func (l *Ledger) OwnerOf(positionID uuid.UUID) (common.Address, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registry.OwnerOf(positionID)
}

// OwnershipSnapshot returns a copy of the full position → owner mapping.
// The bridge worker rebuilds its lookup index from this.
func (l *Ledger) OwnershipSnapshot() map[uuid.UUID]common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registry.Snapshot()
}

func (l *Ledger) RelayAddress() common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.relayAddr
}

func (l *Ledger) PendingCap() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingCap
}

func (l *Ledger) MinDeposit(asset string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.minDeposits[asset]
}

func (l *Ledger) AllowlistEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowlistEnabled
}

func (l *Ledger) BlocklistEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocklistEnabled
}

// EventSeq returns the sequence of the last emitted event.
func (l *Ledger) EventSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eventSeq
}

// JournalSeq returns the next journal sequence to be assigned.
func (l *Ledger) JournalSeq() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.journalGen.Sequence()
}

// CheckInvariants recomputes the global double-entry balance. It returns an
// error if any asset's accounts no longer sum to zero.
func (l *Ledger) CheckInvariants() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.validator.ValidateGlobalBalance()
}

// --- Restore ---

// RestoreState replaces the ledger's in-memory state from persistence.
// The pending queue, processing set, and per-requester counts are all
// rebuilt from the request statuses.
func (l *Ledger) RestoreState(
	requests []Request,
	balances map[ledger.AccountKey]int64,
	positions map[uuid.UUID]common.Address,
	nextRequestID uint64,
	eventSeq int64,
	journalSeq int64,
) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.requests = make(map[uint64]*Request, len(requests))
	l.queue = NewPendingQueue()
	l.processing = make(map[uint64]struct{})
	l.active = make(map[common.Address]int)

	for i := range requests {
		req := requests[i]
		l.requests[req.ID] = &req
		switch req.Status {
		case StatusPending:
			l.queue.Push(req.ID)
			l.active[req.Requester]++
		case StatusProcessing:
			l.processing[req.ID] = struct{}{}
			l.active[req.Requester]++
		}
	}

	l.balances.Restore(balances)
	l.registry.Restore(positions)
	l.journalGen.SetSequence(journalSeq)
	l.eventSeq = eventSeq
	if nextRequestID < 1 {
		nextRequestID = 1
	}
	l.nextRequestID = nextRequestID

	if l.metrics != nil {
		l.metrics.PendingBacklog.Set(float64(l.queue.Len()))
		l.metrics.ProcessingCount.Set(float64(len(l.processing)))
	}
}

// --- Internal helpers ---

// releaseEscrow returns a PENDING funding request's deposit to the
// requester. Non-funding kinds have nothing escrowed and yield a nil batch.
func (l *Ledger) releaseEscrow(req *Request, now time.Time) *ledger.Batch {
	if !req.Kind.IsFunding() {
		return nil
	}
	assetID := l.mustAssetID(req.Asset)
	batch, err := l.journalGen.GenerateEscrowRelease(req.Requester, req.ID, req.Amount, assetID, now.UnixMicro())
	if err != nil {
		panic(fmt.Sprintf("FATAL: escrow release for request %d: %v", req.ID, err))
	}
	l.applyBatch(batch)
	return batch
}

// refundEscrow routes a PROCESSING funding request's reserved custody back
// through escrow to the requester. Non-funding kinds yield a nil batch.
func (l *Ledger) refundEscrow(req *Request, assetID ledger.AssetID, now time.Time) *ledger.Batch {
	if !req.Kind.IsFunding() {
		return nil
	}
	batch, err := l.journalGen.GenerateEscrowRefund(req.Requester, req.ID, req.Amount, assetID, now.UnixMicro())
	if err != nil {
		panic(fmt.Sprintf("FATAL: escrow refund for request %d: %v", req.ID, err))
	}
	l.applyBatch(batch)
	return batch
}

func (l *Ledger) applyBatch(batch *ledger.Batch) {
	if err := l.balances.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: journal batch %s rejected: %v", batch.BatchID, err))
	}
	if l.metrics != nil {
		l.metrics.JournalsApplied.Add(float64(len(batch.Journals)))
	}
}

func (l *Ledger) requireRelay(caller common.Address) error {
	if caller != l.relayAddr {
		return fmt.Errorf("%w: caller=%s", ErrNotRelay, caller.Hex())
	}
	return nil
}

// mustAssetID resolves an asset already validated at submission.
func (l *Ledger) mustAssetID(asset string) ledger.AssetID {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		panic(fmt.Sprintf("FATAL: stored request references unknown asset %q", asset))
	}
	return assetID
}

func (l *Ledger) nextEvent(t event.EventType, now time.Time) *event.RequestEvent {
	l.eventSeq++
	return &event.RequestEvent{
		Seq:       l.eventSeq,
		Type:      t,
		TypeName:  t.String(),
		Timestamp: now,
	}
}

// emit hands the output to persistence (blocking) and the publisher
// (best-effort). Persistence falling behind applies backpressure here.
func (l *Ledger) emit(evt *event.RequestEvent, batch *ledger.Batch) {
	out := Output{Event: evt, Batch: batch}
	if l.persistChan != nil {
		l.persistChan <- out
	}
	if l.publishChan != nil {
		select {
		case l.publishChan <- out:
		default:
			if l.metrics != nil {
				l.metrics.PublishDropped.Inc()
			}
		}
	}
}

