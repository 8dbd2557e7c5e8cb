package port

import (
	"context"

	"github.com/rl1809/stock-allocation/internal/core/domain"
)

// ItemDirectory resolves item ids to display names and display names back to
// items. Allocation logic never consults it.
type ItemDirectory interface {
	GetItem(ctx context.Context, id int64) (*domain.Item, error)
	FindItemByName(ctx context.Context, name string) (*domain.Item, error)
}
