// network/connection.go
package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	headerSize = 6

	// DefaultSendQueue is the number of outgoing packets buffered per connection.
	DefaultSendQueue = 256

	writeWait = 10 * time.Second
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendQueueFull means the peer does not read fast enough.
	ErrSendQueueFull  = errors.New("send queue full")
	ErrPacketTooLarge = errors.New("packet too large")
)

type Packet struct {
	MsgID  uint16
	Data   []byte
	Length uint32
}

// Encode 封包: 2字节消息ID + 4字节数据长度 + 数据
func Encode(msgID uint16, data []byte) ([]byte, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return nil, ErrPacketTooLarge
	}
	packet := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint32(packet[2:6], uint32(len(data)))
	copy(packet[headerSize:], data)
	return packet, nil
}

// Decode 解包
func Decode(data []byte) (*Packet, error) {
	if len(data) < headerSize {
		return nil, io.ErrShortBuffer
	}

	msgID := binary.BigEndian.Uint16(data[0:2])
	length := binary.BigEndian.Uint32(data[2:6])

	if uint64(len(data)) < uint64(headerSize)+uint64(length) {
		return nil, io.ErrShortBuffer
	}

	return &Packet{
		MsgID:  msgID,
		Length: length,
		Data:   data[headerSize : headerSize+int(length)],
	}, nil
}

type Connection interface {
	Send(msgID uint16, data []byte) error
	SendJSON(msgID uint16, v interface{}) error
	Close() error
	RemoteAddr() net.Addr
	SetHeartbeat(interval time.Duration)
	Touch()
	ReadPacket() (*Packet, error)
}

// WSConnection frames packets over websocket binary messages. Writes go
// through a queue drained by one goroutine, so Send never blocks the caller.
type WSConnection struct {
	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	pings     chan time.Duration
	heartbeat time.Duration
	mutex     sync.Mutex
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	return NewWSConnectionSize(conn, DefaultSendQueue)
}

func NewWSConnectionSize(conn *websocket.Conn, queue int) *WSConnection {
	if queue <= 0 {
		queue = DefaultSendQueue
	}
	c := &WSConnection{
		conn:   conn,
		send:   make(chan []byte, queue),
		closed: make(chan struct{}),
		pings:  make(chan time.Duration, 1),
	}
	go c.writePump()
	return c
}

func (c *WSConnection) Send(msgID uint16, data []byte) error {
	packet, err := Encode(msgID, data)
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- packet:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	default:
		return ErrSendQueueFull
	}
}

func (c *WSConnection) SendJSON(msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(msgID, data)
}

func (c *WSConnection) writePump() {
	var (
		ticker *time.Ticker
		ping   <-chan time.Time
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-c.closed:
			return
		case interval := <-c.pings:
			if ticker != nil {
				ticker.Stop()
			}
			ticker = time.NewTicker(interval)
			ping = ticker.C
		case packet := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, packet); err != nil {
				c.Close()
				return
			}
		case <-ping:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *WSConnection) ReadPacket() (*Packet, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		return Decode(data)
	}
}

// SetHeartbeat expects traffic from the peer at least every other interval
// and pings it once per interval. Call it before the first ReadPacket.
func (c *WSConnection) SetHeartbeat(interval time.Duration) {
	c.mutex.Lock()
	c.heartbeat = interval
	c.mutex.Unlock()

	if interval <= 0 {
		return
	}
	select {
	case c.pings <- interval:
	default:
	}

	c.conn.SetReadDeadline(time.Now().Add(interval * 2))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(interval * 2))
	})
}

// Touch extends the read deadline after application level traffic.
func (c *WSConnection) Touch() {
	c.mutex.Lock()
	interval := c.heartbeat
	c.mutex.Unlock()
	if interval > 0 {
		c.conn.SetReadDeadline(time.Now().Add(interval * 2))
	}
}

func (c *WSConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
