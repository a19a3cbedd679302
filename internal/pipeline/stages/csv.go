package stages

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/vuongtran/cardetl/internal/core/domain"
)

var csvColumns = []string{
	"price_date", "product_id", "sub_type_name",
	"market_price", "low_price", "mid_price", "high_price", "direct_low_price",
	"category_id", "group_id",
}

// writePriceCSV writes rows atomically: temp file then rename, so a
// crash mid-write never leaves a plausible-looking partial CSV.
func writePriceCSV(path string, rows []domain.PriceRow) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	writeErr := w.Write(csvColumns)
	for _, r := range rows {
		if writeErr != nil {
			break
		}
		writeErr = w.Write([]string{
			r.PriceDate,
			strconv.FormatInt(r.ProductID, 10),
			r.SubTypeName,
			formatPrice(r.MarketPrice),
			formatPrice(r.LowPrice),
			formatPrice(r.MidPrice),
			formatPrice(r.HighPrice),
			formatPrice(r.DirectLowPrice),
			strconv.FormatInt(r.CategoryID, 10),
			strconv.FormatInt(r.GroupID, 10),
		})
	}
	if writeErr == nil {
		w.Flush()
		writeErr = w.Error()
	}
	if cerr := f.Close(); writeErr == nil {
		writeErr = cerr
	}
	if writeErr != nil {
		_ = os.Remove(tmp)
		return writeErr
	}
	return os.Rename(tmp, path)
}

// readPriceCSV loads a processed CSV back into rows.
func readPriceCSV(path string) ([]domain.PriceRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvColumns)

	// Header first.
	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	var rows []domain.PriceRow
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv row: %w", err)
		}
		row, err := parseCSVRow(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// countCSVRecords counts data rows without materializing them.
func countCSVRecords(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	var n int64 = -1 // header does not count
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		n++
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

func parseCSVRow(rec []string) (domain.PriceRow, error) {
	productID, err := strconv.ParseInt(rec[1], 10, 64)
	if err != nil {
		return domain.PriceRow{}, fmt.Errorf("bad product_id %q: %w", rec[1], err)
	}
	categoryID, err := strconv.ParseInt(rec[8], 10, 64)
	if err != nil {
		return domain.PriceRow{}, fmt.Errorf("bad category_id %q: %w", rec[8], err)
	}
	groupID, err := strconv.ParseInt(rec[9], 10, 64)
	if err != nil {
		return domain.PriceRow{}, fmt.Errorf("bad group_id %q: %w", rec[9], err)
	}

	return domain.PriceRow{
		PriceDate:      rec[0],
		ProductID:      productID,
		SubTypeName:    rec[2],
		MarketPrice:    parsePrice(rec[3]),
		LowPrice:       parsePrice(rec[4]),
		MidPrice:       parsePrice(rec[5]),
		HighPrice:      parsePrice(rec[6]),
		DirectLowPrice: parsePrice(rec[7]),
		CategoryID:     categoryID,
		GroupID:        groupID,
	}, nil
}

func formatPrice(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
