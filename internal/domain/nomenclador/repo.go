package nomenclador

import "context"

// Repository is the backend view of the nomenclador and the clinic's price
// factor (currency per UB).
type Repository interface {
	ListAll(ctx context.Context) ([]Entry, error)
	GetPriceFactor(ctx context.Context) (int64, error)
	SetPriceFactor(ctx context.Context, factor int64) (int64, error)
}
