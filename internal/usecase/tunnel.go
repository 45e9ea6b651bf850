package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"assetcache/internal/domain"
)

// TunnelUseCase は CONNECT リクエストを傍受せずに中継する
// 暗号化されたトンネルはワーカーが処理できないため、そのまま通過させる
type TunnelUseCase struct {
	metrics domain.MetricsCollector
	logger  domain.Logger
	dialer  *net.Dialer
}

// NewTunnelUseCase は新しいTunnelUseCaseインスタンスを作成
func NewTunnelUseCase(metrics domain.MetricsCollector, logger domain.Logger) *TunnelUseCase {
	return &TunnelUseCase{
		metrics: metrics,
		logger:  logger,
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
	}
}

// Dial はトンネル先のサーバーに接続する
func (uc *TunnelUseCase) Dial(ctx context.Context, host string) (net.Conn, error) {
	conn, err := uc.dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		uc.metrics.RecordError()
		return nil, &domain.FetchError{URL: host, Err: err}
	}
	return conn, nil
}

// HandleTunnel は確立済みの接続間でデータを双方向にコピーする
func (uc *TunnelUseCase) HandleTunnel(
	ctx context.Context, clientConn, serverConn net.Conn, host string,
) error {
	defer serverConn.Close()

	uc.metrics.RecordPassThrough()
	uc.metrics.IncrementConnections()
	defer uc.metrics.DecrementConnections()

	var wg sync.WaitGroup
	wg.Add(2)

	// エラーチャネル
	errc := make(chan error, 2)

	// クライアント → サーバー
	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024) // 32KB buffer
		n, err := io.CopyBuffer(serverConn, clientConn, buf)
		uc.metrics.AddBytesTransferred(n)
		if err != nil && !isConnectionClosed(err) {
			uc.logger.Error("Client to server copy failed", err, map[string]interface{}{"host": host})
			errc <- err
		}
		// 送信側のコネクションをシャットダウン
		if tc, ok := serverConn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	// サーバー → クライアント
	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024) // 32KB buffer
		n, err := io.CopyBuffer(clientConn, serverConn, buf)
		uc.metrics.AddBytesTransferred(n)
		if err != nil && !isConnectionClosed(err) {
			uc.logger.Error("Server to client copy failed", err, map[string]interface{}{"host": host})
			errc <- err
		}
		if tc, ok := clientConn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	// ゴルーチンの完了を待つ
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// エラーまたは完了を待つ
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return fmt.Errorf("tunnel %s: %w", host, err)
	case <-done:
		return nil
	}
}

// isConnectionClosed は接続が正常に閉じられたかを判断
func isConnectionClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
