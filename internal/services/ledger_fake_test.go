package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/honeynil/EquipmentLendingService/internal/models"
	"github.com/honeynil/EquipmentLendingService/internal/repository"
	pkgerrors "github.com/honeynil/EquipmentLendingService/pkg/errors"
)

// fakeLedger is an in-memory repository.Ledger. Units are serialized and a
// failing unit restores the state it started from.
type fakeLedger struct {
	mu     sync.Mutex
	items  map[int32]models.Item
	txs    map[int32]models.Transaction
	nextID int32

	// failOn makes the named LedgerTx method fail with err.
	failOn  string
	failErr error
}

func newFakeLedger(items ...models.Item) *fakeLedger {
	l := &fakeLedger{items: map[int32]models.Item{}, txs: map[int32]models.Transaction{}}
	for _, it := range items {
		l.items[it.ID] = it
	}
	return l
}

func (l *fakeLedger) Within(ctx context.Context, fn func(ctx context.Context, tx repository.LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := make(map[int32]models.Item, len(l.items))
	for k, v := range l.items {
		items[k] = v
	}
	txs := make(map[int32]models.Transaction, len(l.txs))
	for k, v := range l.txs {
		txs[k] = v
	}
	nextID := l.nextID

	if err := fn(ctx, &fakeLedgerTx{l: l}); err != nil {
		l.items, l.txs, l.nextID = items, txs, nextID
		return err
	}
	return nil
}

func (l *fakeLedger) item(id int32) models.Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items[id]
}

func (l *fakeLedger) tx(id int32) models.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.txs[id]
}

func (l *fakeLedger) all() []models.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Transaction, 0, len(l.txs))
	for _, t := range l.txs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fakeLedgerTx struct {
	l *fakeLedger
}

func (t *fakeLedgerTx) fail(method string) error {
	if t.l.failOn == method {
		return t.l.failErr
	}
	return nil
}

func (t *fakeLedgerTx) TransactionItem(_ context.Context, id int32) (int32, error) {
	if err := t.fail("TransactionItem"); err != nil {
		return 0, err
	}
	tx, ok := t.l.txs[id]
	if !ok {
		return 0, pkgerrors.ErrTransactionNotFound
	}
	return tx.ItemID, nil
}

func (t *fakeLedgerTx) LockTransaction(_ context.Context, id int32) (*models.Transaction, error) {
	if err := t.fail("LockTransaction"); err != nil {
		return nil, err
	}
	tx, ok := t.l.txs[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	return &tx, nil
}

func (t *fakeLedgerTx) LockItem(_ context.Context, id int32) (*models.Item, error) {
	if err := t.fail("LockItem"); err != nil {
		return nil, err
	}
	item, ok := t.l.items[id]
	if !ok {
		return nil, pkgerrors.ErrItemNotFound
	}
	return &item, nil
}

func (t *fakeLedgerTx) OpenTransactions(_ context.Context, itemID int32) ([]models.Transaction, error) {
	if err := t.fail("OpenTransactions"); err != nil {
		return nil, err
	}
	var open []models.Transaction
	for _, tx := range t.l.txs {
		if tx.ItemID == itemID && tx.Status.IsOpen() {
			open = append(open, tx)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	return open, nil
}

func (t *fakeLedgerTx) InsertTransaction(_ context.Context, tx *models.Transaction) error {
	if err := t.fail("InsertTransaction"); err != nil {
		return err
	}
	if _, ok := t.l.items[tx.ItemID]; !ok {
		return pkgerrors.ErrItemNotFound
	}
	if tx.Status.IsOpen() {
		for _, other := range t.l.txs {
			if other.ItemID == tx.ItemID && other.Status.IsOpen() {
				return pkgerrors.ErrItemReserved
			}
		}
	}
	t.l.nextID++
	tx.ID = t.l.nextID
	now := time.Now().UTC()
	tx.TransactionDate, tx.CreatedAt = now, now
	t.l.txs[tx.ID] = *tx
	return nil
}

func (t *fakeLedgerTx) UpdateTransactionStatus(_ context.Context, id int32, status models.TransactionStatus, returnedDate *time.Time) error {
	if err := t.fail("UpdateTransactionStatus"); err != nil {
		return err
	}
	tx, ok := t.l.txs[id]
	if !ok {
		return pkgerrors.ErrTransactionNotFound
	}
	tx.Status = status
	if returnedDate != nil {
		tx.ReturnedDate = returnedDate
	}
	t.l.txs[id] = tx
	return nil
}

func (t *fakeLedgerTx) SetItemAvailability(_ context.Context, itemID int32, available bool) error {
	if err := t.fail("SetItemAvailability"); err != nil {
		return err
	}
	item, ok := t.l.items[itemID]
	if !ok {
		return pkgerrors.ErrItemNotFound
	}
	item.IsAvailable = available
	t.l.items[itemID] = item
	return nil
}

func (t *fakeLedgerTx) UpdateItem(_ context.Context, item *models.Item) error {
	if err := t.fail("UpdateItem"); err != nil {
		return err
	}
	if _, ok := t.l.items[item.ID]; !ok {
		return pkgerrors.ErrItemNotFound
	}
	for id, other := range t.l.items {
		if id != item.ID && other.Name == item.Name {
			return pkgerrors.ErrDuplicateItemName
		}
	}
	item.UpdatedAt = time.Now().UTC()
	t.l.items[item.ID] = *item
	return nil
}
