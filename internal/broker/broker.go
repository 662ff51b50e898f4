package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/tesfam/bingo-engine/internal/comm"
	"github.com/tesfam/bingo-engine/internal/engine"
	"github.com/tesfam/bingo-engine/internal/ledger"
)

// Broker bridges the messaging front-end and the session engine: it
// consumes player commands from the socket gateway, drives the registry
// and ledger, and publishes responses and room broadcasts back. It also
// implements engine.Notifier so sessions can push calls and results
// without knowing about NATS.
type Broker struct {
	Conn     *nats.Conn
	Registry *engine.Registry
	Ledger   ledger.Ledger
}

func NewBroker(nc *nats.Conn) *Broker {
	return &Broker{Conn: nc}
}

// handles commands coming from the socket gateway
func (b *Broker) handleMessage(msgNat *nats.Msg) {
	msg := &comm.WSMessage{}
	err := json.Unmarshal(msgNat.Data, &msg)
	if err != nil {
		log.Errorf("Error nats message %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch msg.Type {
	case "get-balance":
		var request struct {
			UserID int64 `json:"user_id"`
		}
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			log.Errorf("Error decoding get-balance: %s", err)
			return
		}

		balance, err := b.Ledger.Balance(ctx, request.UserID)
		if err != nil {
			log.Errorf("Error [Ledger.Balance] %s", err)
			return
		}

		b.PublishBalance(comm.PlayerData{
			UserId:  request.UserID,
			Balance: balance.StringFixed(2),
		}, msg.SocketId)
	case "create-room":
		var request comm.CreateRoomRequest
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			log.Errorf("Error decoding create-room: %s", err)
			return
		}

		price, err := decimal.NewFromString(request.EntryPrice)
		if err != nil || !price.IsPositive() {
			b.PublishRes("create-room-response", comm.Res{Status: false, Message: "invalid entry price"}, msg.SocketId)
			return
		}

		s := b.Registry.CreateRoom(price)
		b.PublishRoomState("create-room-response", s.Snapshot(), msg.SocketId)
	case "join-room":
		var request comm.JoinRequest
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			log.Errorf("Error decoding join-room: %s", err)
			return
		}

		s, err := b.Registry.GetRoom(request.RoomId)
		if err != nil {
			b.PublishRes("join-room-response", comm.Res{Status: false, Message: "room not found"}, msg.SocketId)
			return
		}

		board, err := s.Join(ctx, request.UserId)
		if err != nil {
			switch {
			case errors.Is(err, ledger.ErrInsufficientBalance):
				b.PublishInsufficientBalance(comm.BalanceStatus{
					Status:    false,
					Timestamp: time.Now().UnixMilli(),
				}, msg.SocketId)
			case errors.Is(err, engine.ErrAlreadyJoined):
				// rejoin: hand the original board back
				if board, berr := s.PlayerBoard(request.UserId); berr == nil {
					b.PublishBoard(request.RoomId, request.UserId, board, msg.SocketId)
				}
			default:
				log.Errorf("Error join room %s user %d: %s", request.RoomId, request.UserId, err)
				b.PublishRes("join-room-response", comm.Res{Status: false, Message: err.Error()}, msg.SocketId)
			}
			return
		}

		b.PublishBoard(request.RoomId, request.UserId, board, msg.SocketId)
		// broadcast the grown room to everyone in it
		b.PublishRoomState("room-state-broadcast", s.Snapshot(), "")
	case "mark-number":
		var request comm.MarkRequest
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			log.Errorf("Error decoding mark-number: %s", err)
			return
		}

		s, err := b.Registry.GetRoom(request.RoomId)
		if err != nil {
			b.PublishRes("mark-number-response", comm.Res{Status: false, Message: "room not found"}, msg.SocketId)
			return
		}

		if request.Unmark {
			err = s.Unmark(request.UserId, request.Number)
		} else {
			err = s.Mark(request.UserId, request.Number)
		}
		if err != nil {
			b.PublishRes("mark-number-response", comm.Res{Status: false, Message: err.Error()}, msg.SocketId)
			return
		}
		b.PublishRes("mark-number-response", comm.Res{Status: true}, msg.SocketId)
	case "claim-bingo":
		var request comm.ClaimRequest
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			log.Errorf("Error decoding claim-bingo: %s", err)
			return
		}

		s, err := b.Registry.GetRoom(request.RoomId)
		if err != nil {
			b.PublishRes("bingo-claim-rejected", comm.Res{Status: false, Message: "room not found"}, msg.SocketId)
			return
		}

		if _, err := s.ClaimWin(ctx, request.UserId); err != nil {
			msgText := "claim rejected"
			switch {
			case errors.Is(err, engine.ErrSessionAlreadyWon):
				msgText = "too late, session already won"
			case errors.Is(err, engine.ErrClaimRejected):
				msgText = "no winning pattern on this board"
			case errors.Is(err, engine.ErrPlayerNotEnrolled):
				msgText = "not enrolled in this room"
			case errors.Is(err, engine.ErrInvalidState):
				msgText = "room is not active"
			default:
				log.Errorf("Error claim room %s user %d: %s", request.RoomId, request.UserId, err)
			}
			b.PublishRes("bingo-claim-rejected", comm.Res{Status: false, Message: msgText}, msg.SocketId)
			return
		}
		// the win broadcast goes out via SessionFinished
	case "room-state":
		var request comm.RoomStateRequest
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			log.Errorf("Error decoding room-state: %s", err)
			return
		}

		s, err := b.Registry.GetRoom(request.RoomId)
		if err != nil {
			b.PublishRes("room-state-response", comm.Res{Status: false, Message: "room not found"}, msg.SocketId)
			return
		}
		b.PublishRoomState("room-state-response", s.Snapshot(), msg.SocketId)
	default:
		log.Errorf("Unknown message type %s", msg.Type)
	}
}

// NumberCalled implements engine.Notifier: broadcast one call with the
// full history to the room.
func (b *Broker) NumberCalled(sessionID string, number int, history []int) {
	c := comm.CallMessage{
		RoomId:  sessionID,
		Number:  number,
		Label:   engine.FormatCall(number),
		History: history,
	}

	data, err := json.Marshal(c)
	if err != nil {
		log.Errorf("error [NumberCalled] marshaling call: %v", err)
		return
	}

	b.publishEnvelope("bingo-call", data, "")
}

// SessionFinished implements engine.Notifier: broadcast the terminal
// outcome (winner and payout, or refunds).
func (b *Broker) SessionFinished(sessionID string, outcome engine.Outcome) {
	over := comm.GameOver{
		RoomId:   sessionID,
		WinnerId: outcome.WinnerID,
	}
	if outcome.WinnerID != 0 {
		over.Payout = outcome.Payout.StringFixed(2)
	}
	if len(outcome.Refunds) > 0 {
		over.Refunds = make(map[int64]string, len(outcome.Refunds))
		for uid, amt := range outcome.Refunds {
			over.Refunds[uid] = amt.StringFixed(2)
		}
	}

	data, err := json.Marshal(over)
	if err != nil {
		log.Errorf("error [SessionFinished] marshaling outcome: %v", err)
		return
	}

	b.publishEnvelope("game-finished", data, "")
}

func (b *Broker) PublishBalance(p comm.PlayerData, socketId string) {
	data, err := json.Marshal(p)
	if err != nil {
		log.Errorf("PublishBalance unable to marshal playerData")
		return
	}
	b.publishEnvelope("balance-resp", data, socketId)
}

func (b *Broker) PublishInsufficientBalance(p comm.BalanceStatus, socketId string) {
	data, err := json.Marshal(p)
	if err != nil {
		log.Errorf("[insufficient-balance] unable to marshal status")
		return
	}
	b.publishEnvelope("insufficient-balance-response", data, socketId)
}

func (b *Broker) PublishBoard(roomID string, userID int64, board *engine.Board, socketId string) {
	cells := board.Cells()
	p := comm.BoardData{
		RoomId: roomID,
		UserId: userID,
		Cells:  cells[:],
	}

	data, err := json.Marshal(p)
	if err != nil {
		log.Errorf("[PublishBoard] unable to marshal board data")
		return
	}
	b.publishEnvelope("board-issued", data, socketId)
}

func (b *Broker) PublishRoomState(msgType string, snap engine.Snapshot, socketId string) {
	p := comm.RoomData{
		RoomId:     snap.ID,
		Status:     string(snap.Status),
		EntryPrice: snap.EntryPrice.StringFixed(2),
		Pool:       snap.Pool.StringFixed(2),
		Players:    snap.Players,
		Calls:      snap.Calls,
		WinnerId:   snap.WinnerID,
	}

	data, err := json.Marshal(p)
	if err != nil {
		log.Errorf("error [PublishRoomState] unable to marshal room %s", snap.ID)
		return
	}
	b.publishEnvelope(msgType, data, socketId)
}

func (b *Broker) PublishRes(msgType string, p comm.Res, socketId string) {
	data, err := json.Marshal(p)
	if err != nil {
		log.Errorf("[%s] unable to marshal response", msgType)
		return
	}
	b.publishEnvelope(msgType, data, socketId)
}

func (b *Broker) publishEnvelope(msgType string, data []byte, socketId string) {
	msg := &comm.WSMessage{
		Type:     msgType,
		Data:     data,
		SocketId: socketId,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	b.Publish(comm.SubjectGame, payload)
}

// consume commands from the socket gateway
func (b *Broker) SubscribeSocketService(topic string) (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(topic, b.handleMessage)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}
