package port

import (
	"context"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

type ReceiptEmitter interface {
	// Emit renders and hands the receipt to the printer
	Emit(ctx context.Context, receipt domain.Receipt) error
}
