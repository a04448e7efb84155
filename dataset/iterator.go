package dataset

import (
	"context"
	"io"

	"github.com/YuminosukeSato/taxifare/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Iterator はバッチの遅延シーケンスです。次のバッチは1つだけ先読みされます。
// 単一のゴルーチンから使ってください。
type Iterator struct {
	batches chan *Batch
	cancel  context.CancelFunc
	group   *errgroup.Group

	done bool
	err  error
}

// Next は次のバッチを返します。データが尽きると io.EOF を返します。
// 読み込み中のエラー（ParseError など）はここで返されます。
func (it *Iterator) Next(ctx context.Context) (*Batch, error) {
	if it.done {
		return nil, it.err
	}
	select {
	case b, ok := <-it.batches:
		if ok {
			return b, nil
		}
		it.finish(it.group.Wait())
		return nil, it.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close は先読みを停止し、ゴルーチンの終了を待ちます。複数回呼んでも安全です。
func (it *Iterator) Close() error {
	if it.done {
		return nil
	}
	it.cancel()
	for range it.batches {
	}
	err := it.group.Wait()
	it.finish(err)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (it *Iterator) finish(err error) {
	it.done = true
	it.cancel()
	if err == nil {
		err = io.EOF
	}
	it.err = err
}
