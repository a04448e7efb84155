// Package errors provides error handling utilities for taxifare.
//
// このファイルはパニック回復を扱います。メトリクス報告やオブザーバーのような
// 副次的な処理がトライアル全体を落とさないようにするためのものです。

package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError は回復したパニックをエラーとして表します。
type PanicError struct {
	// Operation はパニックを回復した処理の名前 (例: "report rmse")
	Operation string

	// PanicValue は panic() に渡された値
	PanicValue interface{}

	// StackTrace は回復時点のゴルーチンのスタック
	StackTrace string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// Unwrap returns the panic value when it was itself an error, so callers can
// match a reporter that panicked with a sentinel.
func (e *PanicError) Unwrap() error {
	if err, ok := e.PanicValue.(error); ok {
		return err
	}
	return nil
}

// String はスタックトレースを含む詳細を返します。
func (e *PanicError) String() string {
	return e.Error() + "\nStack trace:\n" + e.StackTrace
}

// NewPanicError は現在のスタックを記録した PanicError を作成します。
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		Operation:  operation,
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
	}
}

// Recover は defer から呼び出し、パニックを *err に変換します。
//
//	func (t *Trainer) notify() (err error) {
//	    defer errors.Recover(&err, "notify")
//	    ...
//	}
//
// *err が既に設定されている場合は、元のエラーを %w で保持したまま
// パニック情報を付け加えます。
func Recover(err *error, operation string) {
	r := recover()
	if r == nil {
		return
	}
	if prev := *err; prev != nil {
		*err = fmt.Errorf("panic in %s: %v (original error: %w)", operation, r, prev)
		return
	}
	*err = NewPanicError(operation, r)
}

// SafeExecute は fn を実行し、パニックを PanicError として返します。
//
//	err := errors.SafeExecute("report rmse", func() error {
//	    return reporter.Report("rmse", 3.2, 0)
//	})
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}
