package tushare_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"stockintel/internal/fetcher"
	tushare "stockintel/internal/fetcher/tushare"
)

func jsonBody(t *testing.T, v any) io.ReadCloser {
	t.Helper()
	buffer := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buffer).Encode(v))
	return io.NopCloser(buffer)
}

func TestFetchDaily(t *testing.T) {
	t.Parallel()

	// Arrange: stub the daily endpoint, newest row first like the real API
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			require.Equal(t, "daily", body["api_name"])
			require.Equal(t, "tok-a", body["token"])
			params := body["params"].(map[string]any)
			require.Equal(t, "600519.SH", params["ts_code"])
			require.Equal(t, "20240101", params["start_date"])
			require.Equal(t, "20240131", params["end_date"])

			return &http.Response{
				StatusCode: http.StatusOK,
				Body: jsonBody(t, map[string]any{
					"code": 0,
					"data": map[string]any{
						"fields": []string{"trade_date", "open", "high", "low", "close", "vol", "amount", "pct_chg"},
						"items": [][]any{
							{"20240103", 1690.0, 1702.0, 1688.0, 1700.0, 30000.0, 5.1e9, 1.15},
							{"20240102", 1680.0, 1695.0, 1675.0, 1680.7, 28000.0, 4.7e9, -0.32},
						},
					},
				}),
			}, nil
		}).
		Times(1)

	client := tushare.NewClient(tushare.WithHTTPClient(httpClient))
	f := tushare.New(tushare.Config{Tokens: []string{"tok-a"}}, client, zerolog.Nop())
	require.True(t, f.Available())

	// Act
	bars, err := f.FetchDaily(context.Background(), "600519", "2024-01-01", "2024-01-31")
	require.NoError(t, err)

	// Assert: ascending dates, caller's code, fields mapped
	require.Len(t, bars, 2)
	require.Equal(t, "600519", bars[0].Code)
	require.True(t, bars[0].Date.Before(bars[1].Date))
	require.InEpsilon(t, 1680.0, bars[0].Open, 1e-9)
	require.InEpsilon(t, 1700.0, bars[1].Close, 1e-9)
	require.InEpsilon(t, -0.32, bars[0].PctChg, 1e-9)

	// Assert: the token got a success recorded
	stats := f.Pool().Stats()
	require.Len(t, stats, 1)
	require.Equal(t, 1, stats[0].Usage)
	require.Equal(t, 0, stats[0].Errors)
}

func TestFetchDaily_NoTokens(t *testing.T) {
	t.Parallel()

	f := tushare.New(tushare.Config{}, nil, zerolog.Nop())
	require.False(t, f.Available())

	bars, err := f.FetchDaily(context.Background(), "600519", "2024-01-01", "2024-01-31")
	require.Nil(t, bars)
	require.ErrorIs(t, err, fetcher.ErrAuth)
}

func TestFetchDaily_QuotaError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body: jsonBody(t, map[string]any{
					"code": 40203,
					"msg":  "抱歉，您每分钟最多访问该接口2次",
				}),
			}, nil
		}).
		Times(1)

	client := tushare.NewClient(tushare.WithHTTPClient(httpClient))
	f := tushare.New(tushare.Config{Tokens: []string{"tok-a"}}, client, zerolog.Nop())

	bars, err := f.FetchDaily(context.Background(), "600519", "2024-01-01", "2024-01-31")
	require.Nil(t, bars)
	require.ErrorIs(t, err, fetcher.ErrQuota)

	// Assert: the failure counted against the token
	stats := f.Pool().Stats()
	require.Equal(t, 1, stats[0].Errors)
}

func TestFetchDaily_AuthError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body: jsonBody(t, map[string]any{
					"code": 2002,
					"msg":  "token无效",
				}),
			}, nil
		}).
		Times(1)

	client := tushare.NewClient(tushare.WithHTTPClient(httpClient))
	f := tushare.New(tushare.Config{Tokens: []string{"bad-token"}}, client, zerolog.Nop())

	_, err := f.FetchDaily(context.Background(), "600519", "2024-01-01", "2024-01-31")
	require.ErrorIs(t, err, fetcher.ErrAuth)
}

func TestFetchDaily_TransportError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(nil, errors.New("dial tcp: i/o timeout")).
		Times(1)

	client := tushare.NewClient(tushare.WithHTTPClient(httpClient))
	f := tushare.New(tushare.Config{Tokens: []string{"tok-a"}}, client, zerolog.Nop())

	_, err := f.FetchDaily(context.Background(), "600519", "2024-01-01", "2024-01-31")
	require.ErrorIs(t, err, fetcher.ErrTransient)
	require.Equal(t, 1, f.Pool().Stats()[0].Errors)
}

func TestFetchDaily_MalformedBodyNotRetried(t *testing.T) {
	t.Parallel()

	// Arrange: a 200 whose body is not the API envelope
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(bytes.NewBufferString("<html>oops</html>")),
			}, nil
		}).
		Times(1)

	client := tushare.NewClient(tushare.WithHTTPClient(httpClient))
	f := tushare.New(tushare.Config{Tokens: []string{"tok-a"}}, client, zerolog.Nop())

	// Act
	_, err := f.FetchDaily(context.Background(), "600519", "2024-01-01", "2024-01-31")

	// Assert: decode failures are terminal, not transient
	require.Error(t, err)
	require.False(t, fetcher.Retryable(err))
	require.Equal(t, 1, f.Pool().Stats()[0].Errors)
}

func TestFetchDaily_HTTPStatusNotRetried(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusNotFound,
				Body:       io.NopCloser(bytes.NewBufferString("not found")),
			}, nil
		}).
		Times(1)

	client := tushare.NewClient(tushare.WithHTTPClient(httpClient))
	f := tushare.New(tushare.Config{Tokens: []string{"tok-a"}}, client, zerolog.Nop())

	_, err := f.FetchDaily(context.Background(), "600519", "2024-01-01", "2024-01-31")
	require.Error(t, err)
	require.False(t, fetcher.Retryable(err))
	require.Contains(t, err.Error(), "404")
	require.Equal(t, 1, f.Pool().Stats()[0].Errors)
}

func TestFetchDaily_EmptyResult(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body: jsonBody(t, map[string]any{
					"code": 0,
					"data": map[string]any{"fields": []string{}, "items": [][]any{}},
				}),
			}, nil
		}).
		Times(1)

	client := tushare.NewClient(tushare.WithHTTPClient(httpClient))
	f := tushare.New(tushare.Config{Tokens: []string{"tok-a"}}, client, zerolog.Nop())

	bars, err := f.FetchDaily(context.Background(), "600519", "2024-01-01", "2024-01-31")
	require.Nil(t, bars)
	require.ErrorIs(t, err, fetcher.ErrNotFound)

	// An empty window is still a successful API exchange.
	require.Equal(t, 1, f.Pool().Stats()[0].Usage)
	require.Equal(t, 0, f.Pool().Stats()[0].Errors)
}

func TestFetchDaily_TokenRotation(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	var tokens []string
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			tokens = append(tokens, body["token"].(string))
			return &http.Response{
				StatusCode: http.StatusOK,
				Body: jsonBody(t, map[string]any{
					"code": 0,
					"data": map[string]any{
						"fields": []string{"trade_date", "open", "high", "low", "close", "vol", "amount", "pct_chg"},
						"items":  [][]any{{"20240102", 10.0, 11.0, 9.0, 10.5, 1000.0, 1.0e7, 0.5}},
					},
				}),
			}, nil
		}).
		Times(3)

	client := tushare.NewClient(tushare.WithHTTPClient(httpClient))
	f := tushare.New(tushare.Config{Tokens: []string{"tok-a", "tok-b"}}, client, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := f.FetchDaily(context.Background(), "000001", "2024-01-01", "2024-01-31")
		require.NoError(t, err)
	}
	require.Equal(t, []string{"tok-a", "tok-b", "tok-a"}, tokens)
}

func TestStockName(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			require.Equal(t, "stock_basic", body["api_name"])
			return &http.Response{
				StatusCode: http.StatusOK,
				Body: jsonBody(t, map[string]any{
					"code": 0,
					"data": map[string]any{
						"fields": []string{"ts_code", "name"},
						"items":  [][]any{{"600519.SH", "贵州茅台"}},
					},
				}),
			}, nil
		}).
		Times(1)

	client := tushare.NewClient(tushare.WithHTTPClient(httpClient))
	f := tushare.New(tushare.Config{Tokens: []string{"tok-a"}}, client, zerolog.Nop())

	name, err := f.StockName(context.Background(), "600519")
	require.NoError(t, err)
	require.Equal(t, "贵州茅台", name)
}

func TestStockList(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			require.Equal(t, "stock_basic", body["api_name"])
			require.Equal(t, "L", body["params"].(map[string]any)["list_status"])
			return &http.Response{
				StatusCode: http.StatusOK,
				Body: jsonBody(t, map[string]any{
					"code": 0,
					"data": map[string]any{
						"fields": []string{"symbol", "name"},
						"items": [][]any{
							{"600519", "贵州茅台"},
							{"000001", "平安银行"},
						},
					},
				}),
			}, nil
		}).
		Times(1)

	client := tushare.NewClient(tushare.WithHTTPClient(httpClient))
	f := tushare.New(tushare.Config{Tokens: []string{"tok-a"}}, client, zerolog.Nop())

	listings, err := f.StockList(context.Background())
	require.NoError(t, err)
	require.Len(t, listings, 2)
	require.Equal(t, fetcher.Listing{Code: "600519", Name: "贵州茅台"}, listings[0])
}
