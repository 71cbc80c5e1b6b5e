package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseStockKLine(t *testing.T) {
	body := []byte(`{"data":{"klines":["2024-01-02,10.0,10.5,10.8,9.9,12345,1.2e8","bad","2024-01-03,x,1,1,1,1"]}}`)
	got, err := parseStockKLine(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	k := got[0]
	if k.Date != "2024-01-02" || k.Open != 10 || k.Close != 10.5 || k.High != 10.8 || k.Low != 9.9 || k.Volume != 12345 {
		t.Fatalf("unexpected row: %+v", k)
	}
}

func TestParseFuturesKLineKeepsTail(t *testing.T) {
	body := []byte(`var=([{"d":"2024-01-01","o":"1","h":"2","l":"0.5","c":"1.5","v":"10"},` +
		`{"d":"2024-01-02","o":"1.5","h":"2.5","l":"1","c":"2","v":"20"},` +
		`{"d":"2024-01-03","o":"2","h":"3","l":"1.5","c":"2.5","v":"30"}]);`)
	got, err := parseFuturesKLine(body, 2)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got[0].Date != "2024-01-02" || got[1].Close != 2.5 {
		t.Fatalf("unexpected rows: %+v", got)
	}
	if _, err := parseFuturesKLine([]byte("oops"), 0); err == nil {
		t.Fatalf("expected error for a body without rows")
	}
}

func TestParseKLineDropsNonFiniteRows(t *testing.T) {
	body := []byte(`{"data":{"klines":[` +
		`"2024-01-02,10,10.5,10.8,9.9,100,1",` +
		`"2024-01-03,10,+Inf,10.8,9.9,100,1",` +
		`"2024-01-04,NaN,10.5,10.8,9.9,100,1",` +
		`"2024-01-05,10,0,10.8,9.9,100,1",` +
		`"2024-01-08,10,10.5,10.8,9.9,NaN,1"]}}`)
	got, err := parseStockKLine(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 1 || got[0].Date != "2024-01-02" {
		t.Fatalf("expected only the finite row, got %+v", got)
	}

	fut := []byte(`var=([{"d":"2024-01-01","o":"1","h":"2","l":"0.5","c":"Inf","v":"10"},` +
		`{"d":"2024-01-02","o":"1.5","h":"2.5","l":"1","c":"2","v":"20"}]);`)
	rows, err := parseFuturesKLine(fut, 0)
	if err != nil {
		t.Fatalf("parse futures: %v", err)
	}
	if len(rows) != 1 || rows[0].Date != "2024-01-02" {
		t.Fatalf("expected only the finite futures row, got %+v", rows)
	}
}

func TestStockSecID(t *testing.T) {
	for code, want := range map[string]string{"sh600000": "1.600000", "SZ000001": "0.000001"} {
		got, err := stockSecID(code)
		if err != nil || got != want {
			t.Fatalf("%s: got %q err=%v", code, got, err)
		}
	}
	if _, err := stockSecID("hk00700"); err == nil {
		t.Fatalf("expected error for unknown market")
	}
}

func TestFetchRoutesByCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/qt/stock/kline/get"):
			if r.URL.Query().Get("secid") != "1.600519" || r.URL.Query().Get("lmt") != "30" {
				http.Error(w, "bad query", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"data":{"klines":["2024-01-02,1,2,3,0.5,100,0"]}}`))
		case strings.HasPrefix(r.URL.Path, "/futures/"):
			if r.URL.Query().Get("symbol") != "AU0" {
				http.Error(w, "bad symbol", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`var=([{"d":"2024-01-02","o":"1","h":"2","l":"0.5","c":"1.5","v":"10"}]);`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewKLineFetcher(srv.URL + "/")
	stock, err := f.Fetch(context.Background(), "sh600519", 30)
	if err != nil || len(stock) != 1 || stock[0].Close != 2 {
		t.Fatalf("stock fetch: %+v err=%v", stock, err)
	}
	fut, err := f.Fetch(context.Background(), "nf_AU0", 0)
	if err != nil || len(fut) != 1 || fut[0].Close != 1.5 {
		t.Fatalf("futures fetch: %+v err=%v", fut, err)
	}
}

func TestFetchSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewKLineFetcher(srv.URL).Fetch(context.Background(), "sz000001", 10); err == nil {
		t.Fatalf("expected error on 502")
	}
}
