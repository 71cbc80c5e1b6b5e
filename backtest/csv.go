package backtest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// ParseStats counts what ingestion kept and dropped.
type ParseStats struct {
	Rows       int  `json:"rows"`
	Kept       int  `json:"kept"`
	Dropped    int  `json:"dropped"`
	Duplicates int  `json:"duplicates"`
	HeaderSeen bool `json:"header_seen"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"20060102",
}

// ParseCandles reads time,open,high,low,close,volume rows. A header is
// detected when the first character of the input is a letter. Rows with
// fewer than 5 fields, unparseable time/prices, non-finite or non-positive
// prices, or a non-finite or negative volume are skipped; the result is
// sorted ascending and de-duplicated by time (first occurrence wins).
func ParseCandles(r io.Reader) ([]Candle, ParseStats, error) {
	var st ParseStats

	br := bufio.NewReader(r)
	skipBOM(br)
	st.HeaderSeen = startsWithLetter(br)
	if st.HeaderSeen {
		if _, err := br.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
			return nil, st, fmt.Errorf("read csv header: %w", err)
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var out []Candle
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				st.Rows++
				st.Dropped++
				continue
			}
			return nil, st, fmt.Errorf("read csv: %w", err)
		}
		st.Rows++
		c, ok := parseRow(rec)
		if !ok {
			st.Dropped++
			continue
		}
		out = append(out, c)
	}

	out, st.Duplicates = sortDedupe(out)
	st.Kept = len(out)
	return out, st, nil
}

// ParseCandlesEncoded is ParseCandles for inputs in a legacy encoding.
// "gbk" and "gb18030" are decoded; anything else is read as UTF-8.
func ParseCandlesEncoded(r io.Reader, encoding string) ([]Candle, ParseStats, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gbk", "gb2312", "gb18030":
		r = transform.NewReader(r, simplifiedchinese.GB18030.NewDecoder())
	}
	return ParseCandles(r)
}

func skipBOM(br *bufio.Reader) {
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}
}

func startsWithLetter(br *bufio.Reader) bool {
	b, _ := br.Peek(utf8.UTFMax)
	if len(b) == 0 {
		return false
	}
	r, _ := utf8.DecodeRune(b)
	return unicode.IsLetter(r)
}

func parseRow(rec []string) (Candle, bool) {
	if len(rec) < 5 {
		return Candle{}, false
	}
	t, err := parseTimestamp(rec[0])
	if err != nil {
		return Candle{}, false
	}
	var px [4]float64
	for i := range px {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return Candle{}, false
		}
		px[i] = v
	}
	vol := 0.0
	if len(rec) > 5 {
		if v, err := strconv.ParseFloat(strings.TrimSpace(rec[5]), 64); err == nil {
			vol = v
		}
	}
	c := Candle{Time: t, Open: px[0], High: px[1], Low: px[2], Close: px[3], Volume: vol}
	return c, c.valid()
}

// valid reports whether prices are finite and positive and volume is finite
// and not negative. strconv accepts "NaN" and "Inf", so parsing alone does
// not guarantee this.
func (c Candle) valid() bool {
	for _, p := range [...]float64{c.Open, c.High, c.Low, c.Close} {
		if !finite(p) || p <= 0 {
			return false
		}
	}
	return finite(c.Volume) && c.Volume >= 0
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) != 8 {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func sortDedupe(cs []Candle) ([]Candle, int) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Time.Before(cs[j].Time) })
	out := cs[:0]
	dups := 0
	for i, c := range cs {
		if i > 0 && c.Time.Equal(out[len(out)-1].Time) {
			dups++
			continue
		}
		out = append(out, c)
	}
	return out, dups
}

// WriteCandlesCSV writes candles so that ParseCandles reads them back
// unchanged.
func WriteCandlesCSV(w io.Writer, candles []Candle) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"time", "open", "high", "low", "close", "volume"})
	for _, c := range candles {
		_ = cw.Write([]string{
			c.Time.UTC().Format(time.RFC3339Nano),
			formatF(c.Open), formatF(c.High), formatF(c.Low), formatF(c.Close), formatF(c.Volume),
		})
	}
	cw.Flush()
	return cw.Error()
}

func WriteTradesCSV(w io.Writer, trades []Trade) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"side", "entry_time", "exit_time", "entry_price", "exit_price", "qty", "pnl"})
	for _, t := range trades {
		_ = cw.Write([]string{
			string(t.Side),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			formatF(t.EntryPrice), formatF(t.ExitPrice), formatF(t.Qty), formatF(t.PnL),
		})
	}
	cw.Flush()
	return cw.Error()
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// CSVSource reads candles from a file on disk.
type CSVSource struct {
	Path     string
	Encoding string
}

func (s CSVSource) Candles(_ context.Context) ([]Candle, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	candles, _, err := ParseCandlesEncoded(f, s.Encoding)
	return candles, err
}
