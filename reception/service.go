package reception

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/reception-ledger/ledger"
)

// =============================================================================
// PORTS
// =============================================================================

// Deferrable is the set of mutations that stay correct when applied later
// against a store the caller has not read. Both the direct Service and the
// offline queue implement it.
type Deferrable interface {
	SaveFinancialsRoom(ctx context.Context, actor Actor, bookingRef string, patch RoomLedgerPatch) (Result, error)
	AddToAllTransactions(ctx context.Context, actor Actor, id string, tx Transaction) (Result, error)
	AddActivity(ctx context.Context, actor Actor, occupantID string, code ActivityCode) (ActivityResult, error)
	SaveLoan(ctx context.Context, actor Actor, bookingRef, occupantID, txnID string, loan LoanTransaction) (Result, error)
}

// GuestNotifier drafts the guest email attached to some activity codes.
type GuestNotifier interface {
	DraftGuestEmail(ctx context.Context, req EmailRequest) (EmailOutcome, error)
}

type EmailRequest struct {
	BookingRef   string       `json:"bookingRef"`
	OccupantID   string       `json:"occupantId"`
	ActivityCode ActivityCode `json:"activityCode"`
}

type EmailStatus string

const (
	EmailDrafted  EmailStatus = "drafted"
	EmailDeferred EmailStatus = "deferred"
	EmailError    EmailStatus = "error"
)

type EmailOutcome struct {
	Status     EmailStatus `json:"status"`
	Recipients []string    `json:"recipients,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// =============================================================================
// SERVICE - Direct (online) backend
// =============================================================================

// Service applies mutations straight to the store. It implements
// Deferrable plus every online-only operation.
type Service struct {
	store        ledger.Store
	notifier     GuestNotifier
	log          *zap.Logger
	now          func() time.Time
	loc          *time.Location
	newID        func(prefix string) string
	keycardPrice decimal.Decimal
}

var _ Deferrable = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithNotifier(n GuestNotifier) Option { return func(s *Service) { s.notifier = n } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithLocation sets the property timezone used for every timestamp.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func WithIDGenerator(gen func(prefix string) string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithKeycardPrice sets the per-card cash deposit.
func WithKeycardPrice(price decimal.Decimal) Option {
	return func(s *Service) { s.keycardPrice = price }
}

func NewService(store ledger.Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		log:          zap.NewNop(),
		now:          time.Now,
		loc:          time.UTC,
		newID:        NewID,
		keycardPrice: decimal.NewFromInt(10),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the backing store to the offline replayer and probes.
func (s *Service) Store() ledger.Store { return s.store }

// NewID returns a fresh record id such as "txn_4f1c...".
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// Timestamp formats t the way every record stores it.
func Timestamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02T15:04:05.000Z07:00")
}

func (s *Service) timestamp() string {
	return Timestamp(s.now(), s.loc)
}

// Stamp returns the current record timestamp. The offline queue stamps
// entries with it when they are queued.
func (s *Service) Stamp() string { return s.timestamp() }

// Now returns the service clock in the property timezone.
func (s *Service) Now() time.Time { return s.now().In(s.loc) }

// GenerateID returns a new prefixed id from the configured generator.
func (s *Service) GenerateID(prefix string) string { return s.newID(prefix) }

// ParseTimestamp reads a stored timestamp; RFC3339 variants are accepted.
func ParseTimestamp(v string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
