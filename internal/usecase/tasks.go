package usecase

import (
	"context"
	"sync"
	"sync/atomic"
)

// taskGroup はレスポンスを返した後も続くバックグラウンド処理を追跡する
type taskGroup struct {
	wg      sync.WaitGroup
	running atomic.Int64
}

func newTaskGroup() *taskGroup {
	return &taskGroup{}
}

// Go は呼び出し元のキャンセルに影響されないコンテキストで fn を実行する
func (g *taskGroup) Go(ctx context.Context, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	g.wg.Add(1)
	g.running.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.running.Add(-1)
		fn(ctx)
	}()
}

// pending は実行中の処理の数を返す
func (g *taskGroup) pending() int64 {
	return g.running.Load()
}

// Wait はすべての処理の完了か ctx の終了を待つ
func (g *taskGroup) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
