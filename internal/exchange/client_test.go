package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAPI struct {
	klines []*futures.Kline
	err    error
	calls  int
	// failFirst makes only the first N calls fail with a retryable error.
	failFirst int
}

func (s *stubAPI) Klines(_ context.Context, _, _ string, _ int) ([]*futures.Kline, error) {
	s.calls++
	if s.calls <= s.failFirst {
		return nil, errors.New("rate limit exceeded")
	}
	return s.klines, s.err
}

func kline(openMs int64, o, h, l, c, v string) *futures.Kline {
	return &futures.Kline{
		OpenTime: openMs, CloseTime: openMs + 900_000,
		Open: o, High: h, Low: l, Close: c, Volume: v,
	}
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestFetchKlinesAscendingOrder(t *testing.T) {
	api := &stubAPI{klines: []*futures.Kline{
		kline(2000, "101", "102", "100", "101.5", "10"),
		kline(1000, "100", "101", "99", "100.5", "12"),
	}}
	c := NewClientWithAPI(zerolog.Nop(), api, nil)

	series := c.FetchKlines(context.Background(), "BTCUSDT", "15m", 2)
	require.Len(t, series, 2)
	assert.True(t, series[0].OpenTime.Before(series[1].OpenTime))
	assert.Equal(t, 100.5, series[0].Close)
}

func TestFetchKlinesEmptyOnFailure(t *testing.T) {
	api := &stubAPI{err: errors.New("invalid symbol")}
	c := NewClientWithAPI(zerolog.Nop(), api, nil)
	c.retry = fastRetry()

	series := c.FetchKlines(context.Background(), "NOPE", "15m", 10)
	assert.Empty(t, series)
	// Non-retryable error aborts after the first attempt.
	assert.Equal(t, 1, api.calls)
}

func TestFetchKlinesRetriesTransientErrors(t *testing.T) {
	api := &stubAPI{
		failFirst: 2,
		klines:    []*futures.Kline{kline(1000, "100", "101", "99", "100.5", "12")},
	}
	c := NewClientWithAPI(zerolog.Nop(), api, nil)
	c.retry = fastRetry()

	series := c.FetchKlines(context.Background(), "BTCUSDT", "15m", 1)
	require.Len(t, series, 1)
	assert.Equal(t, 3, api.calls)
}

func TestFetchKlinesDropsMalformedBars(t *testing.T) {
	api := &stubAPI{klines: []*futures.Kline{
		kline(1000, "100", "101", "99", "100.5", "12"),
		kline(2000, "not-a-number", "101", "99", "100.5", "12"),
	}}
	c := NewClientWithAPI(zerolog.Nop(), api, nil)

	series := c.FetchKlines(context.Background(), "BTCUSDT", "15m", 2)
	assert.Len(t, series, 1)
}

func TestSeriesColumns(t *testing.T) {
	s := Series{
		{Close: 1, High: 2, Low: 0.5, Volume: 10},
		{Close: 3, High: 4, Low: 2.5, Volume: 20},
	}
	assert.Equal(t, []float64{1, 3}, s.Closes())
	assert.Equal(t, []float64{2, 4}, s.Highs())
	assert.Equal(t, []float64{0.5, 2.5}, s.Lows())
	assert.Equal(t, []float64{10, 20}, s.Volumes())

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, 3.0, last.Close)

	_, ok = Series{}.Last()
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("too many requests")))
	assert.True(t, IsRetryable(errors.New("code=-1021, timestamp outside recvWindow")))
	assert.False(t, IsRetryable(errors.New("invalid symbol")))
	assert.False(t, IsRetryable(nil))
}
