package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

const (
	revokedKeyPrefix = "revoked:"
	subjectKeyPrefix = "subject_tokens:"
)

// BreakerConfig tunes the circuit breaker guarding the Redis ledger.
type BreakerConfig struct {
	// MaxRequests is the number of probe requests allowed in half-open state.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// FailureRatio trips the breaker when this fraction of requests fail.
	FailureRatio float64

	// MinRequests is the minimum sample size before the ratio is evaluated.
	MinRequests uint32
}

// DefaultBreakerConfig returns conservative defaults. The breaker exists to
// fail fast when Redis is down, not to paper over it: open-state calls still
// return ErrUnavailable and callers still deny.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      10 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// RedisLedger implements Ledger on Redis. Revoked token IDs are plain keys
// with a TTL matching the token's remaining lifetime; the per-subject index
// is a set whose TTL is pushed out to the longest-lived member.
type RedisLedger struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewRedisLedger creates a ledger backed by the given Redis client.
func NewRedisLedger(client *redis.Client, cfg BreakerConfig, logger *slog.Logger) *RedisLedger {
	settings := gobreaker.Settings{
		Name:        "revocation-ledger",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("revocation ledger breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &RedisLedger{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
	}
}

// Blacklist marks the token ID revoked for at least ttl.
func (l *RedisLedger) Blacklist(ctx context.Context, jti uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		// Token already expired; nothing outstanding to revoke.
		return nil
	}

	_, err := l.breaker.Execute(func() (any, error) {
		return nil, l.client.Set(ctx, revokedKeyPrefix+jti.String(), "1", ttl).Err()
	})
	if err != nil {
		return unavailable("blacklist token", err)
	}
	return nil
}

// IsBlacklisted reports whether the token ID is revoked. A Redis failure
// surfaces ErrUnavailable rather than a false negative.
func (l *RedisLedger) IsBlacklisted(ctx context.Context, jti uuid.UUID) (bool, error) {
	n, err := l.breaker.Execute(func() (any, error) {
		return l.client.Exists(ctx, revokedKeyPrefix+jti.String()).Result()
	})
	if err != nil {
		return false, unavailable("check blacklist", err)
	}
	return n.(int64) > 0, nil
}

// IndexSubject adds jti to the subject's token set and extends the set's TTL
// to cover it.
func (l *RedisLedger) IndexSubject(ctx context.Context, subjectID, jti uuid.UUID, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	key := subjectKeyPrefix + subjectID.String()

	_, err := l.breaker.Execute(func() (any, error) {
		pipe := l.client.TxPipeline()
		pipe.SAdd(ctx, key, jti.String())
		// NX sets the initial TTL, GT only ever extends it, so the set lives
		// as long as its longest-lived member.
		pipe.ExpireNX(ctx, key, ttl)
		pipe.ExpireGT(ctx, key, ttl)
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return unavailable("index subject token", err)
	}
	return nil
}

// SubjectTokens returns the token IDs currently indexed for the subject.
// Entries that do not parse as UUIDs are skipped.
func (l *RedisLedger) SubjectTokens(ctx context.Context, subjectID uuid.UUID) ([]uuid.UUID, error) {
	members, err := l.breaker.Execute(func() (any, error) {
		return l.client.SMembers(ctx, subjectKeyPrefix+subjectID.String()).Result()
	})
	if err != nil {
		return nil, unavailable("list subject tokens", err)
	}

	raw := members.([]string)
	jtis := make([]uuid.UUID, 0, len(raw))
	for _, m := range raw {
		id, err := uuid.Parse(m)
		if err != nil {
			l.logger.Warn("skipping malformed token id in subject index",
				slog.String("subject_id", subjectID.String()),
				slog.String("member", m),
			)
			continue
		}
		jtis = append(jtis, id)
	}
	return jtis, nil
}

// RemoveSubjectToken drops a single token ID from the subject's index.
func (l *RedisLedger) RemoveSubjectToken(ctx context.Context, subjectID, jti uuid.UUID) error {
	_, err := l.breaker.Execute(func() (any, error) {
		return nil, l.client.SRem(ctx, subjectKeyPrefix+subjectID.String(), jti.String()).Err()
	})
	if err != nil {
		return unavailable("remove subject token", err)
	}
	return nil
}

// ClearSubject drops the subject's entire index.
func (l *RedisLedger) ClearSubject(ctx context.Context, subjectID uuid.UUID) error {
	_, err := l.breaker.Execute(func() (any, error) {
		return nil, l.client.Del(ctx, subjectKeyPrefix+subjectID.String()).Err()
	})
	if err != nil {
		return unavailable("clear subject index", err)
	}
	return nil
}

// Ping verifies connectivity for health checks. It bypasses the breaker so a
// recovering Redis is reported healthy as soon as it answers.
func (l *RedisLedger) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
}
