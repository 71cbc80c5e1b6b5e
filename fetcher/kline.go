package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultStockBaseURL   = "https://push2his.eastmoney.com"
	DefaultFuturesBaseURL = "https://stock2.finance.sina.com.cn"
)

// KLine K线数据
type KLine struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	Close  float64 `json:"close"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Volume float64 `json:"volume"`
}

// Valid reports whether every price is finite and positive and the volume
// is finite and not negative.
func (k KLine) Valid() bool {
	for _, p := range [...]float64{k.Open, k.High, k.Low, k.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			return false
		}
	}
	return !math.IsNaN(k.Volume) && !math.IsInf(k.Volume, 0) && k.Volume >= 0
}

// KLineFetcher K线数据拉取器
type KLineFetcher struct {
	client         *http.Client
	stockBaseURL   string
	futuresBaseURL string
}

// NewKLineFetcher 创建K线数据拉取器. An empty baseURL keeps the public
// endpoints; a non-empty one replaces both (used by tests and proxies).
func NewKLineFetcher(baseURL string) *KLineFetcher {
	f := &KLineFetcher{
		client:         &http.Client{Timeout: 15 * time.Second},
		stockBaseURL:   DefaultStockBaseURL,
		futuresBaseURL: DefaultFuturesBaseURL,
	}
	if u := strings.TrimRight(strings.TrimSpace(baseURL), "/"); u != "" {
		f.stockBaseURL = u
		f.futuresBaseURL = u
	}
	return f
}

// Fetch routes nf_ codes to the futures endpoint and everything else to the
// stock endpoint.
func (f *KLineFetcher) Fetch(ctx context.Context, code string, days int) ([]KLine, error) {
	if days <= 0 {
		days = 500
	}
	if strings.HasPrefix(strings.ToLower(code), "nf_") {
		return f.FetchFuturesKLine(ctx, code, days)
	}
	return f.FetchStockKLine(ctx, code, days)
}

// FetchStockKLine 获取股票日K线数据 (sh600000 -> secid 1.600000).
func (f *KLineFetcher) FetchStockKLine(ctx context.Context, code string, days int) ([]KLine, error) {
	secid, err := stockSecID(code)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf(
		"%s/api/qt/stock/kline/get?secid=%s&fields1=f1,f2,f3,f4,f5,f6&fields2=f51,f52,f53,f54,f55,f56,f57&klt=101&fqt=1&end=20500101&lmt=%d",
		f.stockBaseURL, secid, days,
	)
	body, err := f.get(ctx, url, "https://quote.eastmoney.com/")
	if err != nil {
		return nil, err
	}
	return parseStockKLine(body)
}

func stockSecID(code string) (string, error) {
	if len(code) <= 2 {
		return "", fmt.Errorf("股票代码格式错误: %s", code)
	}
	switch strings.ToLower(code[:2]) {
	case "sh":
		return "1." + code[2:], nil
	case "sz":
		return "0." + code[2:], nil
	default:
		return "", fmt.Errorf("未知的股票代码格式: %s", code)
	}
}

// parseStockKLine rows look like: 日期,开盘,收盘,最高,最低,成交量,成交额
func parseStockKLine(data []byte) ([]KLine, error) {
	var result struct {
		Data struct {
			Klines []string `json:"klines"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]KLine, 0, len(result.Data.Klines))
	for _, line := range result.Data.Klines {
		parts := strings.Split(line, ",")
		if len(parts) < 6 {
			continue
		}
		open, err1 := strconv.ParseFloat(parts[1], 64)
		closePx, err2 := strconv.ParseFloat(parts[2], 64)
		high, err3 := strconv.ParseFloat(parts[3], 64)
		low, err4 := strconv.ParseFloat(parts[4], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		volume, _ := strconv.ParseFloat(parts[5], 64)
		k := KLine{
			Date:   parts[0],
			Open:   open,
			Close:  closePx,
			High:   high,
			Low:    low,
			Volume: volume,
		}
		if !k.Valid() {
			continue
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// FetchFuturesKLine 获取期货日K线数据 (nf_AU0 -> AU0).
func (f *KLineFetcher) FetchFuturesKLine(ctx context.Context, code string, days int) ([]KLine, error) {
	symbol := code
	if len(code) > 3 && strings.EqualFold(code[:3], "nf_") {
		symbol = code[3:]
	}
	url := fmt.Sprintf(
		"%s/futures/api/jsonp.php/var=/InnerFuturesNewService.getDailyKLine?symbol=%s&_=%d",
		f.futuresBaseURL, symbol, time.Now().UnixMilli(),
	)
	body, err := f.get(ctx, url, "https://finance.sina.com.cn/")
	if err != nil {
		return nil, err
	}
	return parseFuturesKLine(body, days)
}

type futuresKLineRow struct {
	D string `json:"d"`
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
	V string `json:"v"`
}

// parseFuturesKLine unwraps the jsonp body var=([{...},...]) and keeps the
// last days rows.
func parseFuturesKLine(data []byte, days int) ([]KLine, error) {
	str := string(data)
	start := strings.IndexByte(str, '[')
	end := strings.LastIndexByte(str, ']')
	if start < 0 || end < 0 || start >= end {
		return nil, fmt.Errorf("无法解析期货K线数据")
	}

	var rows []futuresKLineRow
	if err := json.Unmarshal([]byte(str[start:end+1]), &rows); err != nil {
		return nil, fmt.Errorf("decode futures klines: %w", err)
	}
	if days > 0 && len(rows) > days {
		rows = rows[len(rows)-days:]
	}

	klines := make([]KLine, 0, len(rows))
	for _, row := range rows {
		open, err1 := strconv.ParseFloat(row.O, 64)
		high, err2 := strconv.ParseFloat(row.H, 64)
		low, err3 := strconv.ParseFloat(row.L, 64)
		closePx, err4 := strconv.ParseFloat(row.C, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		volume, _ := strconv.ParseFloat(row.V, 64)
		k := KLine{
			Date:   row.D,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePx,
			Volume: volume,
		}
		if !k.Valid() {
			continue
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func (f *KLineFetcher) get(ctx context.Context, url, referer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Referer", referer)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("kline http %d", resp.StatusCode)
	}
	return body, nil
}
