package reputation

import (
	"context"
	"time"

	"delivery-dispatch/pkg/db/option"
	"delivery-dispatch/pkg/errutil"
	"delivery-dispatch/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const genesisHash = "GENESIS"

// Ledger appends hash-chained reputation events. It is the only writer of
// the events table; delivery and complaint handling call Append inside their
// own transactions so the event commits atomically with the state that
// produced it.
type Ledger struct {
	db     *gorm.DB
	node   *snowflake.Node
	events repository.Repository[Event]
}

func NewLedger(db *gorm.DB, node *snowflake.Node) *Ledger {
	return &Ledger{
		db:     db,
		node:   node,
		events: repository.ProvideStore[Event](db),
	}
}

// lastByAccount returns the newest event of an account, locked when tx is a
// locking transaction. Snowflake ids are fixed-width decimals so the id sort
// matches insertion order.
var byNewestFirst = option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc"})
var byOldestFirst = option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc"})

// Append chains a new event onto the account's ledger. The previous tail is
// read FOR UPDATE so two concurrent appends on the same account cannot both
// chain off the same predecessor. CreatedAt is fixed before hashing and
// truncated to microseconds so the stored timestamp round-trips through
// every supported database without breaking the hash.
func (l *Ledger) Append(ctx context.Context, tx *gorm.DB, ev *Event) (*Event, error) {
	if ev.AccountID == "" {
		return nil, errutil.ValidationFailed("event account id is required", nil)
	}

	run := func(tx *gorm.DB) error {
		prev, err := l.events.WithTrx(tx).FindOne(ctx, &Event{AccountID: ev.AccountID},
			byNewestFirst, option.WithLockingUpdate())
		if err != nil {
			return err
		}

		ev.ID = l.node.Generate().String()
		ev.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
		ev.PreviousHash = genesisHash
		if prev != nil {
			ev.PreviousHash = prev.Hash
		}
		ev.Hash = ev.GenerateHash()

		return l.events.WithTrx(tx).Create(ctx, ev)
	}

	var err error
	if tx != nil {
		err = run(tx)
	} else {
		err = l.db.WithContext(ctx).Transaction(run)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("reputation event appended",
		zap.String("event_id", ev.ID),
		zap.String("account_id", ev.AccountID),
		zap.String("type", string(ev.Type)),
	)
	return ev, nil
}

// ChainReport is the outcome of a hash-chain verification walk.
type ChainReport struct {
	AccountID    string   `json:"account_id,omitempty"`
	EventCount   int      `json:"event_count"`
	Valid        bool     `json:"valid"`
	BrokenEvents []string `json:"broken_events,omitempty"`
}

// VerifyChain walks an account's events oldest-first and recomputes every
// hash. Any entry whose hash or previous_hash link does not match is
// reported; the walk continues so a single report covers all damage.
func (l *Ledger) VerifyChain(ctx context.Context, accountID string) (*ChainReport, error) {
	events, err := l.events.Find(ctx, &Event{AccountID: accountID}, byOldestFirst)
	if err != nil {
		return nil, err
	}

	report := &ChainReport{AccountID: accountID, EventCount: len(events), Valid: true}
	prevHash := genesisHash
	for _, ev := range events {
		if ev.PreviousHash != prevHash || ev.GenerateHash() != ev.Hash {
			report.Valid = false
			report.BrokenEvents = append(report.BrokenEvents, ev.ID)
		}
		prevHash = ev.Hash
	}
	return report, nil
}
