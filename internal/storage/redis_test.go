package storage

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreRecordSample(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "test", 10)
	store.nonce = func() string { return "n1" }
	ctx := context.Background()

	sample := sampleAt(poolA, time.UnixMilli(1_700_000_000_000), 1.5)
	member, err := encodeSample(sample, "n1")
	require.NoError(t, err)

	key := "test:samples:0xabc0000000000000000000000000000000000001"
	mock.ExpectZAdd(key, &redis.Z{Score: 1_700_000_000_000, Member: member}).SetVal(1)

	require.NoError(t, store.RecordSample(ctx, sample))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreSamplesBetween(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "test", 10)
	ctx := context.Background()

	first := sampleAt(poolA, time.UnixMilli(1_000), 1)
	second := sampleAt(poolA, time.UnixMilli(2_000), 2)
	m1, err := encodeSample(first, "a")
	require.NoError(t, err)
	m2, err := encodeSample(second, "b")
	require.NoError(t, err)

	key := "test:samples:0xabc0000000000000000000000000000000000001"
	mock.ExpectZRangeByScore(key, &redis.ZRangeBy{Min: "1000", Max: "2000"}).SetVal([]string{m1, m2})

	got, err := store.SamplesBetween(ctx, poolA, time.UnixMilli(1_000), time.UnixMilli(2_000))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[1].Price.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, int64(2_000), got[1].Timestamp.UnixMilli())
	assert.Nil(t, got[0].PriceChange)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorePruneIsExclusive(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "test", 10)

	key := "test:samples:0xabc0000000000000000000000000000000000001"
	mock.ExpectZRemRangeByScore(key, "-inf", "(5000").SetVal(0)

	require.NoError(t, store.PruneBefore(context.Background(), poolA, time.UnixMilli(5_000)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreWrapsFailures(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "test", 10)

	key := "test:samples:0xabc0000000000000000000000000000000000001"
	mock.ExpectZRangeByScore(key, &redis.ZRangeBy{Min: "0", Max: "10"}).SetErr(errors.New("connection refused"))

	_, err := store.SamplesBetween(context.Background(), poolA, time.UnixMilli(0), time.UnixMilli(10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestRedisStoreInsertAlertTrimsList(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "test", 5)

	rec := AlertRecord{
		PoolID:       poolA,
		Metric:       "price",
		Kind:         "breach",
		Direction:    "increased",
		ChangePct:    decimal.NewFromInt(6),
		ThresholdPct: decimal.NewFromInt(5),
		Value:        decimal.RequireFromString("1.06"),
		FiredAt:      time.UnixMilli(1_000),
	}
	payload := `{"pool":"0xabc0000000000000000000000000000000000001","metric":"price","kind":"breach","direction":"increased","change":"6","threshold":"5","value":"1.06","fired_at":1000}`
	mock.ExpectLPush("test:alerts", payload).SetVal(1)
	mock.ExpectLTrim("test:alerts", 0, 4).SetVal("OK")

	saved, err := store.InsertAlert(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreKeepsIdenticalSamples(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "test", 10)
	seq := 0
	store.nonce = func() string {
		seq++
		return strconv.Itoa(seq)
	}
	ctx := context.Background()

	sample := sampleAt(poolA, time.UnixMilli(1_000), 2)
	first, err := encodeSample(sample, "1")
	require.NoError(t, err)
	second, err := encodeSample(sample, "2")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	key := "test:samples:0xabc0000000000000000000000000000000000001"
	mock.ExpectZAdd(key, &redis.Z{Score: 1_000, Member: first}).SetVal(1)
	mock.ExpectZAdd(key, &redis.Z{Score: 1_000, Member: second}).SetVal(1)
	mock.ExpectZRangeByScore(key, &redis.ZRangeBy{Min: "1000", Max: "1000"}).SetVal([]string{first, second})

	require.NoError(t, store.RecordSample(ctx, sample))
	require.NoError(t, store.RecordSample(ctx, sample))
	got, err := store.SamplesBetween(ctx, poolA, time.UnixMilli(1_000), time.UnixMilli(1_000))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Price.Equal(got[1].Price))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreNonPositiveLimitReadsEverything(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "test", 10)
	ctx := context.Background()

	m1, err := encodeSample(sampleAt(poolA, time.UnixMilli(2_000), 2), "")
	require.NoError(t, err)
	m2, err := encodeSample(sampleAt(poolA, time.UnixMilli(1_000), 1), "")
	require.NoError(t, err)

	key := "test:samples:0xabc0000000000000000000000000000000000001"
	mock.ExpectZRevRange(key, 0, -1).SetVal([]string{m1, m2})
	mock.ExpectZRevRange(key, 0, 0).SetVal([]string{m1})
	mock.ExpectLRange("test:alerts", 0, -1).SetVal(nil)

	all, err := store.RecentSamples(ctx, poolA, -3)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := store.RecentSamples(ctx, poolA, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	alerts, err := store.ListRecentAlerts(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	require.NoError(t, mock.ExpectationsWereMet())
}
