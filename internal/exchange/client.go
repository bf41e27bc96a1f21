package exchange

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"

	"github.com/marketvigil/vigil/internal/risk"
)

const fetchTimeout = 10 * time.Second

// KlineAPI is the slice of the futures REST API the client needs. The real
// implementation wraps go-binance; tests stub it.
type KlineAPI interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]*futures.Kline, error)
}

type binanceAPI struct {
	client *futures.Client
}

func (b *binanceAPI) Klines(ctx context.Context, symbol, interval string, limit int) ([]*futures.Kline, error) {
	return b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
}

// Client fetches candle series through the retry layer and the exchange
// circuit breaker.
type Client struct {
	log      zerolog.Logger
	api      KlineAPI
	breakers *risk.BreakerManager
	retry    RetryConfig
}

// NewClient builds a client against the public futures endpoints. Market
// data needs no credentials.
func NewClient(log zerolog.Logger, breakers *risk.BreakerManager) *Client {
	return &Client{
		log:      log.With().Str("component", "exchange").Logger(),
		api:      &binanceAPI{client: futures.NewClient("", "")},
		breakers: breakers,
		retry:    DefaultRetryConfig(),
	}
}

// NewClientWithAPI builds a client over a custom API implementation.
func NewClientWithAPI(log zerolog.Logger, api KlineAPI, breakers *risk.BreakerManager) *Client {
	return &Client{
		log:      log.With().Str("component", "exchange").Logger(),
		api:      api,
		breakers: breakers,
		retry:    DefaultRetryConfig(),
	}
}

// FetchKlines returns up to limit candles in ascending time order. On any
// failure it logs a warning and returns an empty series; the caller counts
// the miss, it does not abort the cycle.
func (c *Client) FetchKlines(ctx context.Context, symbol, interval string, limit int) Series {
	cctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	var raw []*futures.Kline
	err := WithRetry(cctx, c.retry, func() error {
		fetch := func() (interface{}, error) {
			return c.api.Klines(cctx, symbol, interval, limit)
		}
		var res interface{}
		var err error
		if c.breakers != nil {
			res, err = c.breakers.ExecuteExchange(fetch)
		} else {
			res, err = fetch()
		}
		if err != nil {
			return err
		}
		raw = res.([]*futures.Kline)
		return nil
	})
	if err != nil {
		c.log.Warn().
			Err(err).
			Str("symbol", symbol).
			Str("interval", interval).
			Msg("Kline fetch failed, returning empty series")
		return nil
	}

	series := make(Series, 0, len(raw))
	for _, k := range raw {
		candle, ok := convertKline(k)
		if !ok {
			c.log.Warn().Str("symbol", symbol).Msg("Dropping malformed kline")
			continue
		}
		series = append(series, candle)
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].OpenTime.Before(series[j].OpenTime)
	})
	return series
}

func convertKline(k *futures.Kline) (Candle, bool) {
	open, err1 := strconv.ParseFloat(k.Open, 64)
	high, err2 := strconv.ParseFloat(k.High, 64)
	low, err3 := strconv.ParseFloat(k.Low, 64)
	closePx, err4 := strconv.ParseFloat(k.Close, 64)
	volume, err5 := strconv.ParseFloat(k.Volume, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return Candle{}, false
	}
	return Candle{
		OpenTime:  time.UnixMilli(k.OpenTime),
		CloseTime: time.UnixMilli(k.CloseTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
	}, true
}
