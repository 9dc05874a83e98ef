package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/protocol"
)

// KCPServer - транспорт поверх надёжного UDP (KCP) для нативных клиентов.
// Поток байтов режется на кадры protocol.FrameCodec; внутри кадра тот же
// JSON-конверт, что и в WebSocket.
type KCPServer struct {
	addr        string
	handler     *GameHandler
	codec       *protocol.FrameCodec
	idleTimeout time.Duration

	listener *kcp.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewKCPServer создаёт сервер; idleTimeout: разрыв при молчании клиента
func NewKCPServer(addr string, handler *GameHandler, idleTimeout time.Duration) (*KCPServer, error) {
	codec, err := protocol.NewFrameCodec()
	if err != nil {
		return nil, err
	}
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	return &KCPServer{addr: addr, handler: handler, codec: codec, idleTimeout: idleTimeout}, nil
}

// Start начинает приём соединений
func (ks *KCPServer) Start() error {
	listener, err := kcp.ListenWithOptions(ks.addr, nil, 10, 3)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ks.addr, err)
	}
	ks.listener = listener
	ks.ctx, ks.cancel = context.WithCancel(context.Background())

	ks.wg.Add(1)
	go ks.acceptLoop()

	logging.Info("🚀 KCP сервер запущен на %s", listener.Addr())
	return nil
}

// Addr - фактический адрес (полезно при порте 0)
func (ks *KCPServer) Addr() net.Addr {
	if ks.listener == nil {
		return nil
	}
	return ks.listener.Addr()
}

// Stop закрывает слушателя и ждёт завершения соединений
func (ks *KCPServer) Stop() error {
	if ks.cancel != nil {
		ks.cancel()
	}
	var err error
	if ks.listener != nil {
		err = ks.listener.Close()
	}
	ks.wg.Wait()
	ks.codec.Close()
	logging.Info("🛑 KCP сервер остановлен")
	return err
}

func (ks *KCPServer) acceptLoop() {
	defer ks.wg.Done()
	for {
		conn, err := ks.listener.AcceptKCP()
		if err != nil {
			select {
			case <-ks.ctx.Done():
				return
			default:
			}
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Error("❌ KCP accept: %v", err)
			continue
		}

		conn.SetStreamMode(true)
		conn.SetWriteDelay(false)
		conn.SetNoDelay(1, 20, 2, 1) // игровой режим: без задержек, быстрый ретрансмит
		conn.SetWindowSize(512, 512)
		conn.SetMtu(1400)

		ks.wg.Add(1)
		go ks.serve(conn)
	}
}

// kcpConn - Transport поверх KCP-сессии
type kcpConn struct {
	sess  *kcp.UDPSession
	codec *protocol.FrameCodec
}

func (k *kcpConn) WriteMessage(data []byte) error {
	return k.codec.WriteFrame(k.sess, data)
}

func (k *kcpConn) Close() error { return k.sess.Close() }

func (k *kcpConn) RemoteAddr() string { return k.sess.RemoteAddr().String() }

func (ks *KCPServer) serve(sess *kcp.UDPSession) {
	defer ks.wg.Done()

	client := ks.handler.Accept(&kcpConn{sess: sess, codec: ks.codec}, "kcp")
	defer ks.handler.OnClientDisconnect(client)

	// Stop должен разбудить заблокированное чтение
	go func() {
		select {
		case <-ks.ctx.Done():
			client.Close()
		case <-client.Done():
		}
	}()

	reader := bufio.NewReader(sess)
	for {
		_ = sess.SetReadDeadline(time.Now().Add(ks.idleTimeout))
		payload, err := ks.codec.ReadFrame(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && ks.ctx.Err() == nil {
				logging.Debug("🔌 KCP %s: %v", client.ID(), err)
			}
			return
		}
		ks.handler.HandleRaw(client, payload)
	}
}
