package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Peer is one registered endpoint of the channel.
type Peer interface {
	// ID is unique among currently registered peers.
	ID() string
	Send(payload []byte) error
	Close() error
}

// wsPeer adapts a gorilla connection. gorilla allows one concurrent writer,
// so Send is serialised.
type wsPeer struct {
	conn         *websocket.Conn
	info         ConnInfo
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSPeer(conn *websocket.Conn, info ConnInfo, writeTimeout time.Duration) *wsPeer {
	return &wsPeer{conn: conn, info: info, writeTimeout: writeTimeout}
}

func (p *wsPeer) ID() string {
	return p.info.ConnID
}

func (p *wsPeer) Send(payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

// ping may run concurrently with Send; WriteControl is safe for that.
func (p *wsPeer) ping() error {
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.writeTimeout))
}

func (p *wsPeer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.conn.Close()
	})
	return p.closeErr
}
