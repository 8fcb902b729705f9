package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"receiptsync/internal/models"
	"receiptsync/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

type linkedKey struct {
	sender    string
	timestamp uint64
}

type memState struct {
	nextID    int64
	messages  map[int64]*models.Message
	threads   map[string]*models.Thread
	linked    map[linkedKey]*models.LinkedDeviceReadReceipt
	recipient map[uint64]*models.RecipientReadReceipt
	kv        map[string]bool
	pending   []*models.PendingReadReceipt
}

func newMemState() *memState {
	return &memState{
		messages:  make(map[int64]*models.Message),
		threads:   make(map[string]*models.Thread),
		linked:    make(map[linkedKey]*models.LinkedDeviceReadReceipt),
		recipient: make(map[uint64]*models.RecipientReadReceipt),
		kv:        make(map[string]bool),
	}
}

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	if m.RecipientReads != nil {
		c.RecipientReads = make(map[string]uint64, len(m.RecipientReads))
		for k, v := range m.RecipientReads {
			c.RecipientReads[k] = v
		}
	}
	return &c
}

func (s *memState) clone() *memState {
	c := newMemState()
	c.nextID = s.nextID
	for id, m := range s.messages {
		c.messages[id] = cloneMessage(m)
	}
	for id, th := range s.threads {
		cp := *th
		c.threads[id] = &cp
	}
	for k, r := range s.linked {
		cp := *r
		c.linked[k] = &cp
	}
	for k, r := range s.recipient {
		cp := *r
		cp.RecipientMap = make(map[string]uint64, len(r.RecipientMap))
		for a, ts := range r.RecipientMap {
			cp.RecipientMap[a] = ts
		}
		c.recipient[k] = &cp
	}
	for k, v := range s.kv {
		c.kv[k] = v
	}
	for _, p := range s.pending {
		cp := *p
		c.pending = append(c.pending, &cp)
	}
	return c
}

// memStore is an in-memory store.Runner. Writers are serialized and work on
// a copy of the committed state, which is swapped in on commit.
type memStore struct {
	writeMu sync.Mutex

	stateMu sync.Mutex
	state   *memState

	hooksMu sync.Mutex
	hooks   []store.InsertHook

	kvReads atomic.Int32
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (m *memStore) committed() *memState {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

func (m *memStore) OnMessageInserted(hook store.InsertHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, hook)
}

func (m *memStore) insertHooks() []store.InsertHook {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	return append([]store.InsertHook(nil), m.hooks...)
}

func (m *memStore) WriteTx(ctx context.Context, fn func(tx store.WriteTx) error) error {
	m.writeMu.Lock()
	tx := &memTx{store: m, state: m.committed().clone()}
	if err := fn(tx); err != nil {
		m.writeMu.Unlock()
		return err
	}

	m.stateMu.Lock()
	m.state = tx.state
	m.stateMu.Unlock()
	m.writeMu.Unlock()

	for _, hook := range tx.commitHooks {
		hook()
	}
	return nil
}

func (m *memStore) ReadTx(ctx context.Context, fn func(tx store.ReadTx) error) error {
	return fn(&memTx{store: m, state: m.committed()})
}

// message returns the committed copy of a message.
func (m *memStore) message(id int64) *models.Message {
	msg, ok := m.committed().messages[id]
	if !ok {
		return nil
	}
	return cloneMessage(msg)
}

type memTx struct {
	store       *memStore
	state       *memState
	commitHooks []func()
}

func (tx *memTx) AddCommitHook(hook func()) {
	tx.commitHooks = append(tx.commitHooks, hook)
}

func (tx *memTx) FindIncomingMessage(ctx context.Context, sender string, ts uint64) (*models.Message, error) {
	for _, m := range tx.state.messages {
		if m.IsIncoming() && m.Sender == sender && m.Timestamp == ts {
			return cloneMessage(m), nil
		}
	}
	return nil, nil
}

func (tx *memTx) FindOutgoingMessage(ctx context.Context, sentTimestamp uint64) (*models.Message, error) {
	for _, m := range tx.state.messages {
		if m.IsOutgoing() && m.Timestamp == sentTimestamp {
			return cloneMessage(m), nil
		}
	}
	return nil, nil
}

func (tx *memTx) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	m, ok := tx.state.messages[id]
	if !ok {
		return nil, nil
	}
	return cloneMessage(m), nil
}

func (tx *memTx) InsertMessage(ctx context.Context, msg *models.Message) error {
	if _, ok := tx.state.threads[msg.ThreadID]; !ok {
		tx.state.threads[msg.ThreadID] = &models.Thread{ID: msg.ThreadID}
	}
	tx.state.nextID++
	msg.ID = tx.state.nextID
	msg.CreatedAt = time.Now()
	tx.state.messages[msg.ID] = cloneMessage(msg)

	for _, hook := range tx.store.insertHooks() {
		if err := hook(ctx, tx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (tx *memTx) MarkMessageRead(ctx context.Context, id int64, readTimestamp uint64) error {
	m, ok := tx.state.messages[id]
	if !ok {
		return fmt.Errorf("message %d not found", id)
	}
	m.Read = true
	m.ReadTimestamp = readTimestamp
	return nil
}

func (tx *memTx) SetRecipientReadTimestamp(ctx context.Context, messageID int64, recipient string, readTimestamp uint64) error {
	m, ok := tx.state.messages[messageID]
	if !ok {
		return fmt.Errorf("message %d not found", messageID)
	}
	if m.RecipientReads == nil {
		m.RecipientReads = make(map[string]uint64)
	}
	if current, ok := m.RecipientReads[recipient]; !ok || readTimestamp < current {
		m.RecipientReads[recipient] = readTimestamp
	}
	return nil
}

func (tx *memTx) UnreadIncomingMessagesBefore(ctx context.Context, threadID string, sortID int64) ([]*models.Message, error) {
	var unread []*models.Message
	for id := int64(1); id <= sortID && id <= tx.state.nextID; id++ {
		m, ok := tx.state.messages[id]
		if ok && m.ThreadID == threadID && m.IsIncoming() && !m.Read {
			unread = append(unread, cloneMessage(m))
		}
	}
	return unread, nil
}

func (tx *memTx) GetThread(ctx context.Context, threadID string) (*models.Thread, error) {
	th, ok := tx.state.threads[threadID]
	if !ok {
		return nil, nil
	}
	cp := *th
	return &cp, nil
}

func (tx *memTx) SetThreadPendingMessageRequest(ctx context.Context, threadID string, pending bool) error {
	th, ok := tx.state.threads[threadID]
	if !ok {
		th = &models.Thread{ID: threadID}
		tx.state.threads[threadID] = th
	}
	th.HasPendingMessageRequest = pending
	return nil
}

func (tx *memTx) PutLinkedDeviceReceipt(ctx context.Context, receipt *models.LinkedDeviceReadReceipt) error {
	cp := *receipt
	cp.UniqueID = fmt.Sprintf("early-%s-%d", receipt.SenderAddress, receipt.MessageIDTimestamp)
	tx.state.linked[linkedKey{receipt.SenderAddress, receipt.MessageIDTimestamp}] = &cp
	return nil
}

func (tx *memTx) TakeLinkedDeviceReceipt(ctx context.Context, sender string, ts uint64) (*models.LinkedDeviceReadReceipt, error) {
	key := linkedKey{sender, ts}
	r, ok := tx.state.linked[key]
	if !ok {
		return nil, nil
	}
	delete(tx.state.linked, key)
	return r, nil
}

func (tx *memTx) MergeRecipientReadTimestamp(ctx context.Context, sentTimestamp uint64, recipient string, readTimestamp uint64) error {
	r, ok := tx.state.recipient[sentTimestamp]
	if !ok {
		r = &models.RecipientReadReceipt{
			UniqueID:      fmt.Sprintf("early-%d", sentTimestamp),
			SentTimestamp: sentTimestamp,
			RecipientMap:  make(map[string]uint64),
		}
		tx.state.recipient[sentTimestamp] = r
	}
	if current, ok := r.RecipientMap[recipient]; !ok || readTimestamp < current {
		r.RecipientMap[recipient] = readTimestamp
	}
	return nil
}

func (tx *memTx) TakeRecipientReadReceipt(ctx context.Context, sentTimestamp uint64) (*models.RecipientReadReceipt, error) {
	r, ok := tx.state.recipient[sentTimestamp]
	if !ok {
		return nil, nil
	}
	delete(tx.state.recipient, sentTimestamp)
	return r, nil
}

func (tx *memTx) GetBool(ctx context.Context, collection, key string) (bool, bool, error) {
	tx.store.kvReads.Add(1)
	v, ok := tx.state.kv[collection+"/"+key]
	return v, ok, nil
}

func (tx *memTx) SetBool(ctx context.Context, collection, key string, value bool) error {
	tx.state.kv[collection+"/"+key] = value
	return nil
}

func (tx *memTx) RecordPendingReadReceipt(ctx context.Context, receipt *models.PendingReadReceipt) error {
	for _, p := range tx.state.pending {
		if p.ThreadID == receipt.ThreadID && p.MessageID == receipt.MessageID {
			return nil
		}
	}
	cp := *receipt
	cp.ID = int64(len(tx.state.pending) + 1)
	tx.state.pending = append(tx.state.pending, &cp)
	return nil
}

func (tx *memTx) TakePendingReadReceipts(ctx context.Context, threadID string) ([]*models.PendingReadReceipt, error) {
	var taken, kept []*models.PendingReadReceipt
	for _, p := range tx.state.pending {
		if p.ThreadID == threadID {
			taken = append(taken, p)
		} else {
			kept = append(kept, p)
		}
	}
	tx.state.pending = kept
	return taken, nil
}

type mockTransport struct {
	mock.Mock
}

// newMockTransport accepts every emission.
func newMockTransport() *mockTransport {
	m := &mockTransport{}
	m.On("EmitReadReceiptSync", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("EmitReadReceipt", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("EmitConfigurationSync", mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

func (m *mockTransport) EmitReadReceiptSync(ctx context.Context, entries []models.ReadReceiptSyncEntry) error {
	return m.Called(ctx, entries).Error(0)
}

func (m *mockTransport) EmitReadReceipt(ctx context.Context, recipient string, messageIDTimestamp, readTimestamp uint64) error {
	return m.Called(ctx, recipient, messageIDTimestamp, readTimestamp).Error(0)
}

func (m *mockTransport) EmitConfigurationSync(ctx context.Context, readReceiptsEnabled bool) error {
	return m.Called(ctx, readReceiptsEnabled).Error(0)
}

// syncEntries returns the entries of every EmitReadReceiptSync call so far.
func (m *mockTransport) syncEntries() [][]models.ReadReceiptSyncEntry {
	var out [][]models.ReadReceiptSyncEntry
	for _, call := range m.Calls {
		if call.Method == "EmitReadReceiptSync" {
			out = append(out, call.Arguments.Get(1).([]models.ReadReceiptSyncEntry))
		}
	}
	return out
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
