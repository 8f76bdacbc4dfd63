package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/snakes/geometry"
	"github.com/wfunc/snakes/network"
)

var commands = map[string]uint16{
	"state": network.MsgTypeGetCurrentState,
	"lobby": network.MsgTypeGetLobbyState,
	"init":  network.MsgTypeInitializeNewGame,
	"join":  network.MsgTypeJoinGame,
	"start": network.MsgTypeStartGame,
	"a":     network.MsgTypeTurnLeft,
	"d":     network.MsgTypeTurnRight,
	"sub":   network.MsgTypeSubscribe,
	"unsub": network.MsgTypeUnsubscribe,
}

// send formats and sends a message to the WebSocket server.
func send(c *websocket.Conn, msgID uint16, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	packet, err := network.Encode(msgID, data)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, packet)
}

func request(cmd string, seq uint32, name string, players int) interface{} {
	switch cmd {
	case "init":
		return network.InitializeNewGameRequest{
			Request:         network.Request{Seq: seq},
			BoardSize:       geometry.DefaultBoardSize,
			ExpectedPlayers: players,
		}
	case "join":
		return network.JoinGameRequest{Request: network.Request{Seq: seq}, Name: name}
	default:
		return network.Request{Seq: seq}
	}
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	roomID := flag.String("room", "default", "room to play in")
	name := flag.String("name", "", "player name")
	players := flag.Int("players", 2, "expected players for init")
	flag.Parse()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws", RawQuery: url.Values{"room": {*roomID}}.Encode()}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			packet, err := network.Decode(message)
			if err != nil {
				log.Printf("Received invalid packet of size %d", len(message))
				continue
			}
			if packet.MsgID == network.MsgTypeNewRound {
				continue // 太多了
			}
			log.Printf("<- RECV (ID: %d): %s", packet.MsgID, string(packet.Data))
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	var seq uint32
	if err := send(c, network.MsgTypeGetCurrentState, request("state", seq, "", 0)); err != nil {
		log.Println("Write error:", err)
		return
	}

	log.Println("Client started. Commands: state lobby init join start sub unsub, a/d to turn.")

	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return
		case <-heartbeat.C:
			if err := send(c, network.MsgTypeHeartbeat, nil); err != nil {
				log.Println("Write error:", err)
				return
			}
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case text := <-lines:
			msgID, ok := commands[text]
			if !ok {
				log.Printf("unknown command %q", text)
				continue
			}
			seq++
			if err := send(c, msgID, request(text, seq, *name, *players)); err != nil {
				log.Println("Write error:", err)
				return
			}
			log.Printf("-> SENT: %s (seq %d)", text, seq)
		}
	}
}
