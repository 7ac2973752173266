package ports

import (
	"context"

	"github.com/alejandrodnm/propamm/internal/domain"
)

// ResultStorage persiste los resultados de evaluación.
type ResultStorage interface {
	// SaveBatch persiste el resumen de un batch y los resultados de cada simulación.
	SaveBatch(ctx context.Context, report domain.BatchReport) error

	// GetBatch carga un batch con sus resultados por ID.
	GetBatch(ctx context.Context, id string) (domain.BatchReport, error)

	// ListBatches devuelve los resúmenes de una estrategia, el más reciente primero, sin resultados.
	ListBatches(ctx context.Context, strategy string, limit int) ([]domain.BatchReport, error)

	// SaveValidation persiste un reporte de validación.
	SaveValidation(ctx context.Context, report domain.ValidationReport) error

	// LatestValidation devuelve el reporte de validación más reciente de una estrategia.
	LatestValidation(ctx context.Context, strategy string) (domain.ValidationReport, error)

	// Close cierra la base de datos limpiamente.
	Close() error
}
