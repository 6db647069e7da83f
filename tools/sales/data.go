package sales

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const dateLayout = "2006-01-02"

var header = []string{"store", "date", "sku", "units", "price", "on_promotion"}

// Row is one line of the store sales sample.
type Row struct {
	Store       int
	Date        time.Time
	SKU         int
	Units       int
	Price       float64
	OnPromotion bool
}

// Revenue is units times price.
func (x Row) Revenue() float64 { return float64(x.Units) * x.Price }

func date(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// Sample returns a small fixed slice of store sales, modelled on the store sales
// price elasticity promotions data.
func Sample() []Row {
	return []Row{
		{Store: 1320, Date: date("2021-11-01"), SKU: 6173050, Units: 1, Price: 2.49, OnPromotion: false},
		{Store: 1320, Date: date("2021-11-01"), SKU: 6176840, Units: 3, Price: 4.99, OnPromotion: true},
		{Store: 1320, Date: date("2021-11-01"), SKU: 6177970, Units: 2, Price: 1.99, OnPromotion: false},
		{Store: 1320, Date: date("2021-11-02"), SKU: 6173050, Units: 4, Price: 2.49, OnPromotion: true},
		{Store: 1320, Date: date("2021-11-15"), SKU: 6176840, Units: 1, Price: 4.99, OnPromotion: false},
		{Store: 1320, Date: date("2021-12-01"), SKU: 6177970, Units: 5, Price: 1.79, OnPromotion: true},
		{Store: 1650, Date: date("2021-11-01"), SKU: 6173050, Units: 6, Price: 2.29, OnPromotion: true},
		{Store: 1650, Date: date("2021-11-03"), SKU: 6176840, Units: 2, Price: 4.99, OnPromotion: false},
		{Store: 1650, Date: date("2021-11-20"), SKU: 6179210, Units: 7, Price: 3.49, OnPromotion: true},
		{Store: 1650, Date: date("2021-12-05"), SKU: 6173050, Units: 3, Price: 2.49, OnPromotion: false},
		{Store: 2970, Date: date("2021-11-01"), SKU: 6179210, Units: 2, Price: 3.49, OnPromotion: false},
		{Store: 2970, Date: date("2021-11-10"), SKU: 6177970, Units: 8, Price: 1.79, OnPromotion: true},
		{Store: 2970, Date: date("2021-11-28"), SKU: 6176840, Units: 1, Price: 5.49, OnPromotion: false},
		{Store: 2970, Date: date("2021-12-12"), SKU: 6179210, Units: 4, Price: 3.29, OnPromotion: true},
		{Store: 4410, Date: date("2022-01-04"), SKU: 6173050, Units: 9, Price: 2.19, OnPromotion: true},
		{Store: 4410, Date: date("2022-01-05"), SKU: 6177970, Units: 3, Price: 1.99, OnPromotion: false},
	}
}

// EncodeCSV renders rows with a header line.
func EncodeCSV(rows []Row) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return "", goerr.Wrap(err, "failed to write csv header")
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.Store),
			r.Date.Format(dateLayout),
			strconv.Itoa(r.SKU),
			strconv.Itoa(r.Units),
			strconv.FormatFloat(r.Price, 'f', 2, 64),
			strconv.FormatBool(r.OnPromotion),
		}
		if err := w.Write(rec); err != nil {
			return "", goerr.Wrap(err, "failed to write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", goerr.Wrap(err, "failed to flush csv")
	}
	return buf.String(), nil
}

// DecodeCSV parses what EncodeCSV writes.
func DecodeCSV(data string) ([]Row, error) {
	records, err := csv.NewReader(strings.NewReader(data)).ReadAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read csv")
	}
	if len(records) == 0 {
		return nil, nil
	}
	if strings.Join(records[0], ",") != strings.Join(header, ",") {
		return nil, goerr.New("unexpected csv header", goerr.V("header", records[0]))
	}

	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		row, err := decodeRecord(rec)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid csv row", goerr.V("line", i+2))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodeRecord(rec []string) (Row, error) {
	var (
		row Row
		err error
	)
	if row.Store, err = strconv.Atoi(rec[0]); err != nil {
		return row, goerr.Wrap(err, "invalid store")
	}
	if row.Date, err = time.Parse(dateLayout, rec[1]); err != nil {
		return row, goerr.Wrap(err, "invalid date")
	}
	if row.SKU, err = strconv.Atoi(rec[2]); err != nil {
		return row, goerr.Wrap(err, "invalid sku")
	}
	if row.Units, err = strconv.Atoi(rec[3]); err != nil {
		return row, goerr.Wrap(err, "invalid units")
	}
	if row.Price, err = strconv.ParseFloat(rec[4], 64); err != nil {
		return row, goerr.Wrap(err, "invalid price")
	}
	if row.OnPromotion, err = strconv.ParseBool(rec[5]); err != nil {
		return row, goerr.Wrap(err, "invalid on_promotion")
	}
	return row, nil
}
