package log

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
)

// stackHandler は "error" 属性を持つレコードに、cockroachdb/errors が
// 記録した発生箇所を "stacktrace" 属性として追加します。
type stackHandler struct {
	next slog.Handler
}

// WrapByErrFmtHandler wraps h so error records also carry a stacktrace
// attribute. Wrapping twice is a no-op.
func WrapByErrFmtHandler(h slog.Handler) slog.Handler {
	if _, ok := h.(*stackHandler); ok {
		return h
	}
	return &stackHandler{next: h}
}

func (h *stackHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *stackHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := recordError(r); err != nil {
		if st := originOf(err); st != "" {
			r.AddAttrs(slog.String(StacktraceAttrKey, st))
		}
	}
	return h.next.Handle(ctx, r)
}

func (h *stackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &stackHandler{next: h.next.WithAttrs(attrs)}
}

func (h *stackHandler) WithGroup(name string) slog.Handler {
	return &stackHandler{next: h.next.WithGroup(name)}
}

// recordError returns the first error-valued "error" attribute of r.
func recordError(r slog.Record) error {
	var found error
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != ErrAttrKey {
			return true
		}
		found, _ = a.Value.Any().(error)
		return false
	})
	return found
}

// originOf は最外層の safe details を優先し、なければ最内層の
// 報告可能なスタックの先頭フレームを返します。
func originOf(err error) string {
	if details := errors.GetSafeDetails(err).SafeDetails; len(details) > 0 && details[0] != "" {
		return details[0]
	}
	st := errors.GetReportableStackTrace(err)
	if st == nil || len(st.Frames) == 0 {
		return ""
	}
	top := st.Frames[len(st.Frames)-1]
	return top.Function + " " + top.Filename
}
