package domain

// PriceRow is one flattened price observation for a product variant
// on a given date. Rows are validated at the transform boundary and
// published to the warehouse keyed by (date, product, variant).
type PriceRow struct {
	PriceDate      string  `db:"price_date"`
	ProductID      int64   `db:"product_id"`
	SubTypeName    string  `db:"sub_type_name"`
	MarketPrice    float64 `db:"market_price"`
	LowPrice       float64 `db:"low_price"`
	MidPrice       float64 `db:"mid_price"`
	HighPrice      float64 `db:"high_price"`
	DirectLowPrice float64 `db:"direct_low_price"`
	CategoryID     int64   `db:"category_id"`
	GroupID        int64   `db:"group_id"`
}
