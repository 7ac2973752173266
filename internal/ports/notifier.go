package ports

import (
	"context"

	"github.com/alejandrodnm/propamm/internal/domain"
)

// ReportSink recibe los resultados de evaluación como datos estructurados.
type ReportSink interface {
	// PublishValidation recibe un reporte de validación terminado, pase o no.
	PublishValidation(ctx context.Context, report domain.ValidationReport) error

	// PublishBatch recibe el agregado de un batch de simulaciones.
	PublishBatch(ctx context.Context, report domain.BatchReport) error
}

// Recorder observa las simulaciones a medida que terminan. Las implementaciones deben
// ser seguras para uso concurrente.
type Recorder interface {
	ObserveSimulation(strategy string, result domain.SimResult)
	ObserveValidation(report domain.ValidationReport)
}
