package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span represents a named unit of work within a request, such as a service
// operation or a call to the chat provider.
type Span struct {
	name   string
	logger *slog.Logger
	start  time.Time
}

// StartSpan derives a child span from ctx. The returned context carries a
// logger tagged with the span and its parent.
func StartSpan(ctx context.Context, name string, attrs ...slog.Attr) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	spanID := uuid.NewString()
	args := []any{slog.String("span_id", spanID), slog.String("span_name", name)}
	if parent := spanIDFromContext(ctx); parent != "" {
		args = append(args, slog.String("parent_span_id", parent))
	}
	for _, attr := range attrs {
		args = append(args, attr)
	}

	logger := FromContext(ctx).With(args...)
	ctx = WithLogger(withSpanID(ctx, spanID), logger)

	return ctx, &Span{name: name, logger: logger, start: time.Now()}
}

// Logger returns the span-scoped logger.
func (s *Span) Logger() *slog.Logger {
	if s == nil {
		return slog.Default()
	}
	return s.logger
}

// End emits a completion entry. A non-nil err is logged at warn level.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	elapsed := slog.Duration("duration", time.Since(s.start))
	if err != nil {
		s.logger.Warn("span failed", elapsed, slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("span completed", elapsed)
}
