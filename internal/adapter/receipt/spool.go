package receipt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/pharmacy-pos/internal/core/domain"
)

// SpoolEmitter writes each rendered receipt to a text file named after the
// sale number. A print daemon picks the files up from the spool directory.
type SpoolEmitter struct {
	dir      string
	renderer *Renderer
	logger   *zap.Logger
}

func NewSpoolEmitter(dir string, renderer *Renderer, logger *zap.Logger) (*SpoolEmitter, error) {
	if renderer == nil {
		renderer = NewRenderer(DefaultWidth, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create receipt spool %s: %w", dir, err)
	}
	return &SpoolEmitter{dir: dir, renderer: renderer, logger: logger}, nil
}

func (e *SpoolEmitter) Emit(ctx context.Context, rc domain.Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := spoolName(rc.Sale)
	path := filepath.Join(e.dir, name)

	tmp, err := os.CreateTemp(e.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create receipt file: %w", err)
	}
	if _, err := tmp.WriteString(e.renderer.Render(rc)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write receipt file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close receipt file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish receipt file: %w", err)
	}

	e.logger.Info("receipt spooled", zap.String("sale_number", rc.Sale.Number), zap.String("path", path))
	return nil
}

func spoolName(sale domain.Sale) string {
	id := sale.Number
	if id == "" {
		id = sale.ID
	}
	id = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, id)
	return id + ".txt"
}
