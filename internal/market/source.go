package market

import "context"

// Source fetches closed history for one symbol in canonical "BASE/QUOTE" form.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}
