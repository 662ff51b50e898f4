package broker

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/tesfam/bingo-engine/internal/comm"
)

type Broker struct {
	Conn           *nats.Conn
	GetConnection  func(string) (*websocket.Conn, bool)
	GetRoomSockets func(string) ([]string, bool)
}

func NewBroker(conn *nats.Conn, fncGetConnection func(string) (*websocket.Conn, bool), fncGetRoomSockets func(string) ([]string, bool)) *Broker {
	return &Broker{
		Conn:           conn,
		GetConnection:  fncGetConnection,
		GetRoomSockets: fncGetRoomSockets,
	}
}

// consume messages published by the engine
func (b *Broker) Subscribe(topic string) (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(topic, b.handleMessages)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// publish message to the engine
func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}

// handleMessages relays engine messages to web clients: direct
// responses go to one socket, room events fan out to every socket in
// the room.
func (b *Broker) handleMessages(msgNats *nats.Msg) {
	message := &comm.WSMessage{}
	err := json.Unmarshal(msgNats.Data, &message)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	switch message.Type {
	case "balance-resp", "board-issued", "insufficient-balance-response",
		"create-room-response", "join-room-response", "mark-number-response",
		"bingo-claim-rejected", "room-state-response",
		"deposit-res", "withdrawal-res":
		b.sendMessage(message)
	case "bingo-call", "game-finished", "room-state-broadcast":
		b.broadcastRoom(message)
	default:
		log.Errorf("Unknown message type %s", message.Type)
	}
}

// send socket message to the web client
func (b *Broker) sendMessage(m *comm.WSMessage) {
	socketId := m.SocketId
	if conn, ok := b.GetConnection(socketId); ok {
		if err := conn.WriteJSON(m); err != nil {
			log.Println(err)
		}
	}
}

// broadcastRoom fans a room event out to every connected socket that
// joined the room. The room id rides inside the payload.
func (b *Broker) broadcastRoom(m *comm.WSMessage) {
	var payload struct {
		RoomId string `json:"room_id"`
	}
	if err := json.Unmarshal(m.Data, &payload); err != nil || payload.RoomId == "" {
		log.Errorf("broadcast without room id, type %s", m.Type)
		return
	}

	sockets, ok := b.GetRoomSockets(payload.RoomId)
	if !ok {
		return
	}
	for _, socketId := range sockets {
		if conn, ok := b.GetConnection(socketId); ok {
			if err := conn.WriteJSON(m); err != nil {
				log.Println(err)
			}
		}
	}
}
