package usagecounter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/housecrystal-18/shopscanner/app/models"
	"github.com/housecrystal-18/shopscanner/internal/pkg/cache"
	"github.com/housecrystal-18/shopscanner/internal/pkg/database"
)

// pendingPair is one user's drained delta for a single feature column.
type pendingPair struct {
	userID uint64
	inc    int64
}

const (
	scanPendingKey     = "usage:pending:scan"
	analysisPendingKey = "usage:pending:store_analysis"
	searchPendingKey   = "usage:pending:cross_platform_search"
)

func pendingKeyFor(feature string) (string, string, bool) {
	switch feature {
	case models.FeatureScan:
		return scanPendingKey, "scans_used", true
	case models.FeatureStoreAnalysis:
		return analysisPendingKey, "store_analyses_used", true
	case models.FeatureCrossPlatformSearch:
		return searchPendingKey, "cross_platform_searches_used", true
	default:
		return "", "", false
	}
}

// AddPending records a usage delta in Redis when the canonical store could
// not be written. The delta is applied to MySQL by the next flush.
func AddPending(ctx context.Context, feature string, userID uint, delta int64) error {
	key, _, ok := pendingKeyFor(feature)
	if !ok {
		return fmt.Errorf("unknown feature %q", feature)
	}
	field := strconv.FormatUint(uint64(userID), 10)
	return cache.GetClient().HIncrBy(ctx, key, field, delta).Err()
}

// FlushAll drains every pending hash into the subscriptions table.
func FlushAll() error {
	db := database.GetDB()
	for _, feature := range []string{models.FeatureScan, models.FeatureStoreAnalysis, models.FeatureCrossPlatformSearch} {
		key, column, _ := pendingKeyFor(feature)
		if err := flushHash(db, key, column); err != nil {
			return err
		}
	}
	return nil
}

// flushHash drains one pending hash atomically and applies batched increments
// to the subscriptions table. RENAME to a temp key keeps in-flight increments
// from being lost mid-drain; when the database write fails the drained deltas
// are credited back to the live hash so the next tick retries them.
func flushHash(db *gorm.DB, redisKey, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// Missing key means nothing is pending.
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		rdb.Del(ctx, tmpKey)
		return nil
	}

	pairs := make([]pendingPair, 0, len(data))
	for k, v := range data {
		userID, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pendingPair{userID: userID, inc: inc})
	}
	if len(pairs) == 0 {
		rdb.Del(ctx, tmpKey)
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].userID < pairs[j].userID })

	// UPDATE subscriptions SET <col> = <col> + CASE user_id WHEN ? THEN ? ... END WHERE user_id IN (...)
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	builder.WriteString("UPDATE subscriptions SET ")
	builder.WriteString(column)
	builder.WriteString(" = ")
	builder.WriteString(column)
	builder.WriteString(" + CASE user_id ")
	for _, p := range pairs {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, p.userID, p.inc)
	}
	builder.WriteString(" END WHERE user_id IN (")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, p.userID)
	}
	builder.WriteString(")")

	if db == nil {
		restorePending(ctx, redisKey, tmpKey, pairs)
		return fmt.Errorf("database unavailable, %d pending %s deltas kept", len(pairs), column)
	}
	if err := db.Exec(builder.String(), args...).Error; err != nil {
		restorePending(ctx, redisKey, tmpKey, pairs)
		return fmt.Errorf("failed to apply pending %s deltas: %w", column, err)
	}
	rdb.Del(ctx, tmpKey)
	return nil
}

// restorePending credits drained deltas back to the live hash after a failed
// database write. HIncrBy merges with increments that arrived meanwhile.
func restorePending(ctx context.Context, redisKey, tmpKey string, pairs []pendingPair) {
	rdb := cache.GetClient()
	pipe := rdb.Pipeline()
	for _, p := range pairs {
		pipe.HIncrBy(ctx, redisKey, strconv.FormatUint(p.userID, 10), p.inc)
	}
	pipe.Del(ctx, tmpKey)
	if _, err := pipe.Exec(ctx); err != nil {
		// The tmp key survives; a later flush can still pick it up by hand.
		log.Warnf("[UsageCounter] failed to restore %d pending deltas to %s: %v", len(pairs), redisKey, err)
	}
}

// Store adapts the package functions for injection into the entitlement
// evaluator.
type Store struct{}

// AddPending implements the pending-delta store.
func (Store) AddPending(ctx context.Context, feature string, userID uint, delta int64) error {
	return AddPending(ctx, feature, userID, delta)
}

// PendingFor implements the pending-delta store.
func (Store) PendingFor(ctx context.Context, feature string, userID uint) (int64, error) {
	return PendingFor(ctx, feature, userID)
}

// PendingFor reports the buffered delta for one user and feature. Used by
// entitlement reads so pending usage still counts against the quota.
func PendingFor(ctx context.Context, feature string, userID uint) (int64, error) {
	key, _, ok := pendingKeyFor(feature)
	if !ok {
		return 0, fmt.Errorf("unknown feature %q", feature)
	}
	field := strconv.FormatUint(uint64(userID), 10)
	raw, err := cache.GetClient().HGet(ctx, key, field).Result()
	if err != nil {
		if err.Error() == "redis: nil" {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}
