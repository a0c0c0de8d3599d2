package solver

import (
	"context"

	"go.uber.org/zap"

	"github.com/thyrook/shogisolver/internal/vision"
)

// Watch solves every record arriving on events and sends the results to
// out. It returns when events is closed or ctx is done; out is not closed.
func (s *Solver) Watch(ctx context.Context, events <-chan vision.RecordEvent, out chan<- *Result) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			result, err := s.SolveRecord(ctx, event.Record)
			if err != nil {
				return err
			}
			result.Geometry = event.Geometry
			if event.Image != nil && event.Geometry != nil {
				result.Trimmed = vision.CropImage(event.Image, event.Geometry.TrimmedBox())
			}
			s.logger.Debug("Watched position solved",
				zap.Int("changed_cells", len(event.Changes)),
				zap.String("status", string(result.Status)),
			)

			select {
			case out <- result:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
