package control

import (
	"context"
	"sync"
	"time"

	C "github.com/FlechetteLabs/Tollbooth/constant"
	"github.com/FlechetteLabs/Tollbooth/option"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/json"
	"github.com/sagernet/sing/common/logger"

	"github.com/gorilla/websocket"
)

// CommandHandler consumes inbound operator commands, in the order they
// arrive on the single inbound stream.
type CommandHandler interface {
	HandleCommand(ctx context.Context, command Command)
}

// Link owns the single logical connection to the operator backend.
// Connections are established lazily, writes are serialized, and a
// background reader demultiplexes inbound commands. Transport failures
// are logged and swallowed: the proxy fails open.
type Link struct {
	ctx          context.Context
	logger       logger.ContextLogger
	url          string
	handler      CommandHandler
	pingInterval time.Duration
	pingTimeout  time.Duration
	access       sync.Mutex
	writeAccess  sync.Mutex
	conn         *websocket.Conn
}

func NewLink(ctx context.Context, logger logger.ContextLogger, options option.ControlOptions) *Link {
	pingInterval := options.PingInterval.Build()
	if pingInterval == 0 {
		pingInterval = C.DefaultPingInterval
	}
	pingTimeout := options.PingTimeout.Build()
	if pingTimeout == 0 {
		pingTimeout = C.DefaultPingTimeout
	}
	return &Link{
		ctx:          ctx,
		logger:       logger,
		url:          options.BackendURL,
		pingInterval: pingInterval,
		pingTimeout:  pingTimeout,
	}
}

func (l *Link) SetHandler(handler CommandHandler) {
	l.handler = handler
}

// EnsureConnected idempotently establishes the backend connection. Only
// one connect attempt is ever in flight. A fresh connection waits a
// short bounded interval so the operator can push its current mode and
// rules state before any message is written.
func (l *Link) EnsureConnected(ctx context.Context) error {
	l.access.Lock()
	defer l.access.Unlock()
	if l.conn != nil {
		return nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return E.Cause(err, "connect to backend at ", l.url)
	}
	l.conn = conn
	l.logger.InfoContext(ctx, "connected to backend at ", l.url)
	go l.loopRead(conn)
	go l.loopKeepalive(conn)
	time.Sleep(C.InitialStateSyncWait)
	return nil
}

// Send writes one message to the backend, reconnecting first if needed.
// Failures never propagate to the caller.
func (l *Link) Send(ctx context.Context, message any) {
	err := l.EnsureConnected(ctx)
	if err != nil {
		l.logger.ErrorContext(ctx, err)
		return
	}
	content, err := json.Marshal(message)
	if err != nil {
		l.logger.ErrorContext(ctx, E.Cause(err, "encode message"))
		return
	}
	l.access.Lock()
	conn := l.conn
	l.access.Unlock()
	if conn == nil {
		return
	}
	l.writeAccess.Lock()
	err = conn.WriteMessage(websocket.TextMessage, content)
	l.writeAccess.Unlock()
	if err != nil {
		l.logger.ErrorContext(ctx, E.Cause(err, "send to backend"))
		l.closeConn(conn)
	}
}

func (l *Link) Start() error {
	return nil
}

func (l *Link) Close() error {
	l.access.Lock()
	conn := l.conn
	l.conn = nil
	l.access.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (l *Link) closeConn(conn *websocket.Conn) {
	l.access.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.access.Unlock()
	_ = conn.Close()
}

func (l *Link) loopRead(conn *websocket.Conn) {
	defer l.closeConn(conn)
	for {
		_, content, err := conn.ReadMessage()
		if err != nil {
			if E.IsClosed(err) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Info("backend connection closed")
			} else {
				l.logger.Info("backend connection closed: ", err)
			}
			return
		}
		var command Command
		err = json.Unmarshal(content, &command)
		if err != nil {
			l.logger.Error(E.Cause(err, "decode command"))
			continue
		}
		if l.handler != nil {
			l.handler.HandleCommand(l.ctx, command)
		}
	}
}

func (l *Link) loopKeepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		l.access.Lock()
		current := l.conn == conn
		l.access.Unlock()
		if !current {
			return
		}
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(l.pingTimeout))
		if err != nil {
			l.closeConn(conn)
			return
		}
	}
}
