package tools

import "context"

// ProgressFunc receives progress updates of a running tool.
type ProgressFunc func(progress, total float64, message string)

type progressKey struct{}

// WithProgress attaches a progress sink to the context of a tool call.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress sends a progress update if the caller asked for one.
func ReportProgress(ctx context.Context, progress, total float64, message string) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok && fn != nil {
		fn(progress, total, message)
	}
}
