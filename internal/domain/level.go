package domain

// PriceLevel is an aggregated volume at a discrete price tick.
// A level with volume 0 is logically absent and never published.
type PriceLevel struct {
	Tick   int64
	Side   Side
	Volume uint64
}
