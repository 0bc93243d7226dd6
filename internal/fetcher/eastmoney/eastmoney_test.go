package eastmoney_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockintel/internal/fetcher"
	"stockintel/internal/fetcher/eastmoney"
	"stockintel/internal/httpx"
)

const klinePayload = `{
	"data": {
		"code": "600519",
		"klines": [
			"2024-01-02,1685.00,1690.51,1696.00,1680.00,25930,4373265000.00,0.95,0.63,10.51",
			"2024-01-03,1690.00,1700.10,1703.33,1688.00,30121,5112480000.00,0.91,0.57,9.59"
		]
	}
}`

func TestFetchDaily(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1.600519", r.URL.Query().Get("secid"))
		require.Equal(t, "101", r.URL.Query().Get("klt"))
		require.Equal(t, "1", r.URL.Query().Get("fqt"))
		require.Equal(t, "20240101", r.URL.Query().Get("beg"))
		require.Equal(t, "20240131", r.URL.Query().Get("end"))
		require.NotEmpty(t, r.Header.Get("Referer"))
		_, _ = w.Write([]byte(klinePayload))
	}))
	defer srv.Close()

	f := eastmoney.New(eastmoney.Config{KlineURL: srv.URL}, httpx.New(5*time.Second))

	bars, err := f.FetchDaily(context.Background(), "600519", "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Len(t, bars, 2)

	// f51..f59 order is date,open,close,high,low,volume,amount,amplitude,pct_chg.
	first := bars[0]
	require.Equal(t, "600519", first.Code)
	require.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), first.Date)
	require.InEpsilon(t, 1685.00, first.Open, 1e-9)
	require.InEpsilon(t, 1690.51, first.Close, 1e-9)
	require.InEpsilon(t, 1696.00, first.High, 1e-9)
	require.InEpsilon(t, 1680.00, first.Low, 1e-9)
	require.InEpsilon(t, 25930.0, first.Volume, 1e-9)
	require.InEpsilon(t, 0.63, first.PctChg, 1e-9)
}

func TestFetchDaily_ShenzhenSecID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "0.000001", r.URL.Query().Get("secid"))
		_, _ = w.Write([]byte(`{"data":null}`))
	}))
	defer srv.Close()

	f := eastmoney.New(eastmoney.Config{KlineURL: srv.URL}, httpx.New(5*time.Second))

	_, err := f.FetchDaily(context.Background(), "000001", "2024-01-01", "2024-01-31")
	require.ErrorIs(t, err, fetcher.ErrNotFound)
}

func TestFetchDaily_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := eastmoney.New(eastmoney.Config{KlineURL: srv.URL}, httpx.New(5*time.Second))

	_, err := f.FetchDaily(context.Background(), "600519", "2024-01-01", "2024-01-31")
	require.ErrorIs(t, err, fetcher.ErrTransient)
}

func TestFetchDaily_ClientError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := eastmoney.New(eastmoney.Config{KlineURL: srv.URL}, httpx.New(5*time.Second))

	// 4xx is not worth retrying against the same host.
	_, err := f.FetchDaily(context.Background(), "600519", "2024-01-01", "2024-01-31")
	require.Error(t, err)
	require.NotErrorIs(t, err, fetcher.ErrTransient)
}

func TestStockName(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1.600519", r.URL.Query().Get("secid"))
		_, _ = w.Write([]byte(`{"data":{"f57":"600519","f58":"贵州茅台"}}`))
	}))
	defer srv.Close()

	f := eastmoney.New(eastmoney.Config{QuoteURL: srv.URL}, httpx.New(5*time.Second))

	name, err := f.StockName(context.Background(), "600519")
	require.NoError(t, err)
	require.Equal(t, "贵州茅台", name)
}

func TestStockName_Unknown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null}`))
	}))
	defer srv.Close()

	f := eastmoney.New(eastmoney.Config{QuoteURL: srv.URL}, httpx.New(5*time.Second))

	_, err := f.StockName(context.Background(), "999999")
	require.ErrorIs(t, err, fetcher.ErrNotFound)
}
