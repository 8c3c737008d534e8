package internal

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// PacketConnection 包裝一條與用戶端的雙工位元組流，
// 讀側掛上 FrameParser、寫側掛上 Wire Codec，對外提供
// 「收一個封包」與「送一個封包」兩個操作。
type PacketConnection struct {
	conn   net.Conn
	parser *FrameParser

	// 收發各自序列化：同一連線上的並發送出絕不交錯，
	// 一個封包的位元組不會被另一個封包從中切開
	recvMu sync.Mutex
	sendMu sync.Mutex

	writeTimeout time.Duration
	readBuf      []byte

	// loggedIn 由 Login 處理器在成功後設定，讀取迴圈據此
	// 決定採用未認證（短）或已認證（長）的逾時
	loggedIn atomic.Bool
}

// NewPacketConnection 包裝一條已接受的連線
func NewPacketConnection(conn net.Conn, writeTimeout time.Duration) *PacketConnection {
	return &PacketConnection{
		conn:         conn,
		parser:       NewFrameParser(),
		writeTimeout: writeTimeout,
		readBuf:      make([]byte, 4096),
	}
}

// RemoteAddr 回傳對端位址
func (c *PacketConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// RemoteIP 回傳對端 IP（CreateGame 的位址驗證用）
func (c *PacketConnection) RemoteIP() net.IP {
	if addr, ok := c.conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	return nil
}

// SetLoggedIn 標記連線已完成登入
func (c *PacketConnection) SetLoggedIn() {
	c.loggedIn.Store(true)
}

// LoggedIn 回報連線是否已完成登入
func (c *PacketConnection) LoggedIn() bool {
	return c.loggedIn.Load()
}

// Receive 阻塞直到解出一個完整封包，或流結束、逾時、ctx 取消。
//
// 取消與逾時以讀取期限實現：ctx 一旦取消就把期限設為過去，讓正在
// 阻塞的 Read 立刻醒來。取消回報 ctx.Err()，與流結束可以區分。
func (c *PacketConnection) Receive(ctx context.Context, timeout time.Duration) (*Packet, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("設定讀取期限失敗: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		// 先讓已緩衝的位元組有機會湊成完整封包，再向流要更多
		packet, err := c.parser.Next()
		if err != nil {
			return nil, err
		}
		if packet != nil {
			return packet, nil
		}

		n, err := c.conn.Read(c.readBuf)
		if n > 0 {
			c.parser.Feed(c.readBuf[:n])
		}
		if err != nil {
			if n > 0 {
				if packet, perr := c.parser.Next(); perr != nil {
					return nil, perr
				} else if packet != nil {
					return packet, nil
				}
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
	}
}

// Send 序列化並送出一個封包，阻塞直到被傳輸層接受
func (c *PacketConnection) Send(packet *Packet) error {
	data := packet.Encode()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("設定寫入期限失敗: %w", err)
		}
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("送出封包失敗: %w", err)
	}
	return nil
}

// Close 關閉底層連線；會喚醒正在阻塞的 Receive
func (c *PacketConnection) Close() error {
	return c.conn.Close()
}
