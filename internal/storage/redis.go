package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RedisStore keeps one sorted set per pool scored by epoch milliseconds.
// Alerts go to a capped list, newest first.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	maxAlerts int64
	nonce     func() string
}

// redisSample is the member encoding inside a pool's sorted set.
type redisSample struct {
	TS              int64   `json:"ts"`
	Token0          string  `json:"t0,omitempty"`
	Token1          string  `json:"t1,omitempty"`
	Price           string  `json:"p"`
	Liquidity       string  `json:"l"`
	PriceChange     *string `json:"pc,omitempty"`
	LiquidityChange *string `json:"lc,omitempty"`
	Nonce           string  `json:"n,omitempty"`
}

type redisAlert struct {
	Pool      string `json:"pool"`
	Metric    string `json:"metric"`
	Kind      string `json:"kind"`
	Direction string `json:"direction,omitempty"`
	Change    string `json:"change"`
	Threshold string `json:"threshold"`
	Value     string `json:"value"`
	FiredAt   int64  `json:"fired_at"`
}

// NewRedisStore wraps a redis client.
func NewRedisStore(client *redis.Client, prefix string, maxAlerts int64) *RedisStore {
	if prefix == "" {
		prefix = "poolwatch"
	}
	if maxAlerts <= 0 {
		maxAlerts = 1000
	}
	return &RedisStore{client: client, prefix: prefix, maxAlerts: maxAlerts, nonce: uuid.NewString}
}

// Close releases the client.
func (r *RedisStore) Close() {
	if r == nil || r.client == nil {
		return
	}
	_ = r.client.Close()
}

func (r *RedisStore) samplesKey(poolID string) string {
	return fmt.Sprintf("%s:samples:%s", r.prefix, NormalizePoolID(poolID))
}

func (r *RedisStore) alertsKey() string {
	return r.prefix + ":alerts"
}

// RecordSample appends a sample. Each member carries a nonce so identical
// samples stay distinct entries.
func (r *RedisStore) RecordSample(ctx context.Context, sample Sample) error {
	if r == nil || r.client == nil {
		return ErrNotConfigured
	}
	member, err := encodeSample(sample, r.nonce())
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	z := &redis.Z{Score: float64(toMillis(sample.Timestamp)), Member: member}
	if err := r.client.ZAdd(ctx, r.samplesKey(sample.PoolID), z).Err(); err != nil {
		return unavailable("record sample", err)
	}
	return nil
}

// SamplesBetween lists samples with from <= ts <= to.
func (r *RedisStore) SamplesBetween(ctx context.Context, poolID string, from, to time.Time) ([]Sample, error) {
	if r == nil || r.client == nil {
		return nil, ErrNotConfigured
	}
	members, err := r.client.ZRangeByScore(ctx, r.samplesKey(poolID), &redis.ZRangeBy{
		Min: strconv.FormatInt(toMillis(from), 10),
		Max: strconv.FormatInt(toMillis(to), 10),
	}).Result()
	if err != nil {
		return nil, unavailable("list samples between", err)
	}
	return decodeSamples(poolID, members)
}

// RecentSamples lists the newest samples, newest first.
func (r *RedisStore) RecentSamples(ctx context.Context, poolID string, limit int) ([]Sample, error) {
	if r == nil || r.client == nil {
		return nil, ErrNotConfigured
	}
	members, err := r.client.ZRevRange(ctx, r.samplesKey(poolID), 0, rangeStop(limit)).Result()
	if err != nil {
		return nil, unavailable("list recent samples", err)
	}
	return decodeSamples(poolID, members)
}

// PruneBefore removes samples strictly older than olderThan.
func (r *RedisStore) PruneBefore(ctx context.Context, poolID string, olderThan time.Time) error {
	if r == nil || r.client == nil {
		return ErrNotConfigured
	}
	max := "(" + strconv.FormatInt(toMillis(olderThan), 10)
	if err := r.client.ZRemRangeByScore(ctx, r.samplesKey(poolID), "-inf", max).Err(); err != nil {
		return unavailable("prune samples", err)
	}
	return nil
}

// InsertAlert pushes the alert onto the capped audit list.
func (r *RedisStore) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	if r == nil || r.client == nil {
		return AlertRecord{}, ErrNotConfigured
	}
	alert.PoolID = NormalizePoolID(alert.PoolID)
	payload, err := json.Marshal(redisAlert{
		Pool:      alert.PoolID,
		Metric:    alert.Metric,
		Kind:      alert.Kind,
		Direction: alert.Direction,
		Change:    alert.ChangePct.String(),
		Threshold: alert.ThresholdPct.String(),
		Value:     alert.Value.String(),
		FiredAt:   toMillis(alert.FiredAt),
	})
	if err != nil {
		return AlertRecord{}, fmt.Errorf("encode alert: %w", err)
	}

	length, err := r.client.LPush(ctx, r.alertsKey(), string(payload)).Result()
	if err != nil {
		return AlertRecord{}, unavailable("insert alert", err)
	}
	if err := r.client.LTrim(ctx, r.alertsKey(), 0, r.maxAlerts-1).Err(); err != nil {
		return AlertRecord{}, unavailable("trim alerts", err)
	}
	alert.ID = length
	return alert, nil
}

// ListRecentAlerts returns the newest alerts first.
func (r *RedisStore) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	if r == nil || r.client == nil {
		return nil, ErrNotConfigured
	}
	items, err := r.client.LRange(ctx, r.alertsKey(), 0, rangeStop(limit)).Result()
	if err != nil {
		return nil, unavailable("list recent alerts", err)
	}

	alerts := make([]AlertRecord, 0, len(items))
	for _, item := range items {
		var raw redisAlert
		if err := json.Unmarshal([]byte(item), &raw); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		rec := AlertRecord{
			PoolID:    raw.Pool,
			Metric:    raw.Metric,
			Kind:      raw.Kind,
			Direction: raw.Direction,
			FiredAt:   fromMillis(raw.FiredAt),
		}
		var convErr error
		if rec.ChangePct, convErr = decimal.NewFromString(raw.Change); convErr != nil {
			return nil, fmt.Errorf("parse change pct: %w", convErr)
		}
		if rec.ThresholdPct, convErr = decimal.NewFromString(raw.Threshold); convErr != nil {
			return nil, fmt.Errorf("parse threshold pct: %w", convErr)
		}
		if rec.Value, convErr = decimal.NewFromString(raw.Value); convErr != nil {
			return nil, fmt.Errorf("parse value: %w", convErr)
		}
		alerts = append(alerts, rec)
	}
	return alerts, nil
}

func encodeSample(sample Sample, nonce string) (string, error) {
	raw := redisSample{
		Nonce:     nonce,
		TS:        toMillis(sample.Timestamp),
		Token0:    sample.Token0Symbol,
		Token1:    sample.Token1Symbol,
		Price:     sample.Price.String(),
		Liquidity: sample.Liquidity.String(),
	}
	if sample.PriceChange != nil {
		v := sample.PriceChange.String()
		raw.PriceChange = &v
	}
	if sample.LiquidityChange != nil {
		v := sample.LiquidityChange.String()
		raw.LiquidityChange = &v
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func decodeSamples(poolID string, members []string) ([]Sample, error) {
	samples := make([]Sample, 0, len(members))
	for _, member := range members {
		var raw redisSample
		if err := json.Unmarshal([]byte(member), &raw); err != nil {
			return nil, fmt.Errorf("decode sample: %w", err)
		}
		price, err := decimal.NewFromString(raw.Price)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		liquidity, err := decimal.NewFromString(raw.Liquidity)
		if err != nil {
			return nil, fmt.Errorf("parse liquidity: %w", err)
		}
		sample := Sample{
			PoolID:       NormalizePoolID(poolID),
			Timestamp:    fromMillis(raw.TS),
			Token0Symbol: raw.Token0,
			Token1Symbol: raw.Token1,
			Price:        price,
			Liquidity:    liquidity,
		}
		if sample.PriceChange, err = parseNullable(raw.PriceChange); err != nil {
			return nil, fmt.Errorf("parse price change: %w", err)
		}
		if sample.LiquidityChange, err = parseNullable(raw.LiquidityChange); err != nil {
			return nil, fmt.Errorf("parse liquidity change: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

var _ Backend = (*RedisStore)(nil)
