package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// proxyIdleTimeout 代理轉發的收包逾時。代理不做認證，
// 一律採寬鬆的單一逾時。
const proxyIdleTimeout = 24 * time.Hour

// Proxy 除錯代理：攔截用戶端連線、轉連上游大廳伺服器，
// 雙向轉發封包並逐一傾印到日誌。
type Proxy struct {
	upstream string
	logger   *slog.Logger
}

// NewProxy 建立指向 upstream（host:port）的除錯代理
func NewProxy(upstream string, logger *slog.Logger) *Proxy {
	return &Proxy{upstream: upstream, logger: logger}
}

// Run 在 addr 上監聽並服務，直到 ctx 取消
func (p *Proxy) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("監聽失敗: %w", err)
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	p.logger.Info("除錯代理開始監聽", "addr", listener.Addr().String(), "upstream", p.upstream)

	var clients sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			p.logger.Error("接受連線失敗", "error", err)
			continue
		}
		clients.Add(1)
		go func() {
			defer clients.Done()
			p.handleClient(ctx, conn)
		}()
	}
	clients.Wait()
	return nil
}

// handleClient 為一條用戶端連線建立上游連線並開始雙向轉發
func (p *Proxy) handleClient(ctx context.Context, clientConn net.Conn) {
	defer clientConn.Close()

	var dialer net.Dialer
	upstreamConn, err := dialer.DialContext(ctx, "tcp", p.upstream)
	if err != nil {
		p.logger.Error("連線上游失敗", "upstream", p.upstream, "error", err)
		return
	}
	defer upstreamConn.Close()

	client := NewPacketConnection(clientConn, 0)
	upstream := NewPacketConnection(upstreamConn, 0)
	p.logger.Info("用戶端連線", "remote", client.RemoteAddr().String())

	// 任一方向結束就取消另一方向
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var directions sync.WaitGroup
	directions.Add(2)
	go func() {
		defer directions.Done()
		defer cancel()
		p.forward(ctx, client, upstream, true)
	}()
	go func() {
		defer directions.Done()
		defer cancel()
		p.forward(ctx, upstream, client, false)
	}()
	directions.Wait()
}

// forward 單方向轉發：收一個封包、傾印、原樣送往另一端
func (p *Proxy) forward(ctx context.Context, from, to *PacketConnection, fromClient bool) {
	direction := "<<"
	if fromClient {
		direction = ">>"
	}
	for {
		packet, err := from.Receive(ctx, proxyIdleTimeout)
		if err != nil {
			p.logger.Info("轉發結束", "remote", from.RemoteAddr().String(), "reason", err)
			return
		}
		p.logger.Info("轉發封包",
			"direction", direction,
			"remote", from.RemoteAddr().String(),
			"packet", packet.String())
		if err := to.Send(packet); err != nil {
			p.logger.Warn("轉發封包失敗", "error", err)
			return
		}
	}
}
