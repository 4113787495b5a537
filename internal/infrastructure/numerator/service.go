// Package numerator assigns invoice numbers from the sys_sequences table.
package numerator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"facturas/internal/domain/invoice"
)

// Querier interface for database operations.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxSource returns the transaction carried by ctx, or nil.
type TxSource interface {
	GetTx(ctx context.Context) pgx.Tx
}

type cachedRange struct {
	current int64
	max     int64
}

// Service provides invoice numbering using PostgreSQL.
type Service struct {
	querier Querier
	txs     TxSource
	cfg     Config
	now     func() time.Time

	// cacheMu protects ranges map
	cacheMu sync.Mutex
	// ranges stores active ranges for each sequence key
	ranges map[string]*cachedRange
}

var _ invoice.NumberGenerator = (*Service)(nil)

// New creates a new numerator service.
func New(querier Querier, cfg Config) *Service {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	if cfg.PadWidth <= 0 {
		cfg.PadWidth = 5
	}
	if cfg.RangeSize <= 0 {
		cfg.RangeSize = DefaultRangeSize
	}
	return &Service{
		querier: querier,
		cfg:     cfg,
		now:     time.Now,
		ranges:  make(map[string]*cachedRange),
	}
}

// WithTxSource makes the strict strategy draw numbers on the caller's
// transaction, so a rollback returns the number and the sequence stays
// gapless. Cached ranges are always reserved on the pool: rolling a
// reservation back while its numbers are held in memory would hand them out
// twice.
func (s *Service) WithTxSource(txs TxSource) *Service {
	s.txs = txs
	return s
}

func (s *Service) strictQuerier(ctx context.Context) Querier {
	if s.txs != nil {
		if tx := s.txs.GetTx(ctx); tx != nil {
			return tx
		}
	}
	return s.querier
}

// NextInvoiceNumber returns the next number for the current period.
func (s *Service) NextInvoiceNumber(ctx context.Context) (string, error) {
	return s.GetNextNumber(ctx, s.now())
}

// GetNextNumber generates the next number for period.
// Pattern: PREFIX-YEAR-XXXXX (e.g., FC-2024-00001)
func (s *Service) GetNextNumber(ctx context.Context, period time.Time) (string, error) {
	if s == nil {
		return "", fmt.Errorf("numerator service is not initialized")
	}

	key := s.buildKey(period)

	var (
		num int64
		err error
	)
	switch s.cfg.Strategy {
	case StrategyCached:
		num, err = s.getNextCached(ctx, key)
	default:
		num, err = s.getNextStrict(ctx, key)
	}
	if err != nil {
		return "", err
	}

	return s.formatNumber(period, num), nil
}

// getNextStrict fetches the next number directly from DB using UPSERT + RETURNING.
func (s *Service) getNextStrict(ctx context.Context, key string) (int64, error) {
	var num int64
	err := s.strictQuerier(ctx).QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val)
		VALUES ($1, 1)
		ON CONFLICT (key) DO UPDATE SET current_val = sys_sequences.current_val + 1
		RETURNING current_val
	`, key).Scan(&num)
	if err != nil {
		return 0, fmt.Errorf("strict next: %w", err)
	}
	return num, nil
}

// getNextCached fetches next number from memory, refilling from DB if needed.
func (s *Service) getNextCached(ctx context.Context, key string) (int64, error) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	rng, exists := s.ranges[key]
	if !exists {
		rng = &cachedRange{}
		s.ranges[key] = rng
	}

	if rng.current >= rng.max {
		increment := s.cfg.RangeSize

		var newMax int64
		err := s.querier.QueryRow(ctx, `
			INSERT INTO sys_sequences (key, current_val)
			VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET current_val = sys_sequences.current_val + $2
			RETURNING current_val
		`, key, increment).Scan(&newMax)
		if err != nil {
			return 0, fmt.Errorf("reserve range: %w", err)
		}

		// Reserved range is (newMax - increment, newMax].
		rng.current = newMax - increment
		rng.max = newMax
	}

	rng.current++
	return rng.current, nil
}

// SetNextNumber moves the sequence of period so that the next number is
// value + 1. Used when importing invoices numbered elsewhere.
func (s *Service) SetNextNumber(ctx context.Context, period time.Time, value int64) error {
	key := s.buildKey(period)

	var result int64
	err := s.querier.QueryRow(ctx, `
		INSERT INTO sys_sequences (key, current_val)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET current_val = $2
		RETURNING current_val
	`, key, value).Scan(&result)

	s.cacheMu.Lock()
	delete(s.ranges, key)
	s.cacheMu.Unlock()

	if err != nil {
		return fmt.Errorf("set next number: %w", err)
	}
	return nil
}

// buildKey creates the sequence key based on config and period.
func (s *Service) buildKey(period time.Time) string {
	switch s.cfg.ResetPeriod {
	case "month":
		return fmt.Sprintf("%s_%s", s.cfg.Prefix, period.Format("2006_01"))
	case "year":
		return fmt.Sprintf("%s_%s", s.cfg.Prefix, period.Format("2006"))
	default:
		return s.cfg.Prefix
	}
}

// formatNumber creates the final number string.
func (s *Service) formatNumber(period time.Time, num int64) string {
	if s.cfg.IncludeYear {
		return fmt.Sprintf("%s-%s-%0*d", s.cfg.Prefix, period.Format("2006"), s.cfg.PadWidth, num)
	}
	return fmt.Sprintf("%s-%0*d", s.cfg.Prefix, s.cfg.PadWidth, num)
}

// ParseNumber extracts the numeric suffix of a formatted number.
// Returns -1 if parsing fails.
func ParseNumber(formatted string) int64 {
	idx := strings.LastIndex(formatted, "-")
	if idx < 0 || idx == len(formatted)-1 {
		return -1
	}
	num, err := strconv.ParseInt(formatted[idx+1:], 10, 64)
	if err != nil || num < 0 {
		return -1
	}
	return num
}
