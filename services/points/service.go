package points

import (
	"context"
	"encoding/json"
	"time"

	"pointsledger/pkg/config"
	"pointsledger/pkg/db"
	"pointsledger/pkg/db/option"
	"pointsledger/pkg/repository"
	"pointsledger/pkg/sequence"
	"pointsledger/services/audit"
	"pointsledger/services/customer"
	"pointsledger/services/pointsconfig"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var Module = fx.Module("points.service",
	fx.Provide(
		NewService,
		func(c *customer.Service) Customers { return c },
	),
	fx.Invoke(migrate),
)

func migrate(cfg *config.Config, gdb *gorm.DB) error {
	return db.AutoMigrate(cfg, gdb, &LedgerEntry{}, &Lot{})
}

// Customers resolves and locks the customer a ledger operation targets.
type Customers interface {
	Get(ctx context.Context, tenantID, customerID string) (*customer.Customer, error)
	Lock(ctx context.Context, tx *gorm.DB, tenantID, customerID string) (*customer.Customer, error)
}

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	configs   pointsconfig.Reader
	customers Customers
	codes     sequence.Generator
	audit     audit.Publisher
	recent    int

	entries repository.Repository[LedgerEntry]
	lots    repository.Repository[Lot]
	now     func() time.Time
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Configs   pointsconfig.Reader
	Customers Customers
	Codes     sequence.Generator `optional:"true"`
	Audit     audit.Publisher    `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	recent := p.Config.Points.RecentEntries
	if recent <= 0 {
		recent = 10
	}
	return &Service{
		db:        p.DB,
		node:      p.Node,
		configs:   p.Configs,
		customers: p.Customers,
		codes:     p.Codes,
		audit:     p.Audit,
		recent:    recent,
		entries:   repository.ProvideStore[LedgerEntry](p.DB),
		lots:      repository.ProvideStore[Lot](p.DB),
		now:       time.Now,
	}
}

// clock returns the current time at the precision the database keeps, so
// hashes recomputed from stored rows match.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) lastEntry(ctx context.Context, tx *gorm.DB, tenantID, customerID string) (*LedgerEntry, error) {
	return s.entries.WithTrx(tx).FindOne(ctx, &LedgerEntry{TenantID: tenantID, CustomerID: customerID},
		option.WithSortBy(option.QuerySortBy{SortBy: "seq", OrderBy: "desc", Allow: map[string]bool{"seq": true}}),
	)
}

// appendEntry links e to the customer's chain and inserts it. The caller
// holds the customer lock.
func (s *Service) appendEntry(ctx context.Context, tx *gorm.DB, e *LedgerEntry, now time.Time) error {
	last, err := s.lastEntry(ctx, tx, e.TenantID, e.CustomerID)
	if err != nil {
		return err
	}

	e.Seq = 1
	e.PreviousHash = GenesisHash
	if last != nil {
		e.Seq = last.Seq + 1
		e.PreviousHash = last.Hash
	}

	e.ID = s.node.Generate().String()
	e.CreatedAt = now
	e.TransactionCode = s.nextCode(ctx, e.TenantID, now)
	e.Hash = e.GenerateHash()

	return s.entries.WithTrx(tx).Create(ctx, e)
}

func (s *Service) nextCode(ctx context.Context, tenantID string, now time.Time) string {
	if s.codes != nil {
		code, err := s.codes.NextTransactionCode(ctx, tenantID)
		if err == nil {
			return code
		}
		zap.L().Warn("transaction code sequence unavailable", zap.Error(err))
	}
	code, _ := sequence.RandomCode("PTS", now)
	return code
}

// credit appends a positive entry and opens its lot.
func (s *Service) credit(ctx context.Context, tx *gorm.DB, e *LedgerEntry, validity time.Duration, now time.Time) error {
	expiresAt := now.Add(validity)
	e.ExpiresAt = &expiresAt

	if err := s.appendEntry(ctx, tx, e, now); err != nil {
		return err
	}

	return s.lots.WithTrx(tx).Create(ctx, &Lot{
		ID:         s.node.Generate().String(),
		TenantID:   e.TenantID,
		CustomerID: e.CustomerID,
		EntryID:    e.ID,
		Amount:     e.Amount,
		Remaining:  e.Amount,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// consume takes amount from the customer's live lots, earliest expiry
// first. The caller has checked amount against the balance.
func (s *Service) consume(ctx context.Context, tx *gorm.DB, tenantID, customerID string, amount int64, now time.Time) ([]Allocation, error) {
	lots, err := s.lots.WithTrx(tx).Find(ctx, &Lot{TenantID: tenantID, CustomerID: customerID},
		option.ApplyOperator(option.Condition{Field: "remaining", Operator: option.GT, Value: 0}),
		option.ApplyOperator(option.Condition{Field: "expires_at", Operator: option.GT, Value: now}),
		func(q *gorm.DB) *gorm.DB { return q.Order("expires_at ASC").Order("created_at ASC") },
	)
	if err != nil {
		return nil, err
	}

	remaining := amount
	allocations := make([]Allocation, 0, len(lots))
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		take := min(lot.Remaining, remaining)
		allocations = append(allocations, Allocation{
			LotID:     lot.ID,
			EntryID:   lot.EntryID,
			Amount:    take,
			Remaining: lot.Remaining - take,
		})
		remaining -= take
	}
	if remaining > 0 {
		return nil, errInsufficientLots
	}

	for _, a := range allocations {
		if err := s.lots.WithTrx(tx).Update(ctx, a.LotID, map[string]any{
			"remaining":  a.Remaining,
			"updated_at": now,
		}); err != nil {
			zap.L().Error("failed to update points lot", zap.String("lot_id", a.LotID), zap.Error(err))
			return nil, err
		}
	}
	return allocations, nil
}

func (s *Service) publish(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	s.audit.Publish(ctx, event)
}

func marshalMetadata(m map[string]any) datatypes.JSON {
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func ref(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
