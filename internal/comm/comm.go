package comm

import "encoding/json"

// WSMessage is the envelope every command and notification travels in,
// both over the websocket and across NATS. SocketId identifies the
// originating client connection; broadcasts leave it empty.
type WSMessage struct {
	Type     string          `json:"type"` // e.g. "join-room", "bingo-call"
	Data     json.RawMessage `json:"data"`
	SocketId string          `json:"socketid"`
}

// NATS subjects shared between the services.
const (
	SubjectSocket  = "socket.service"  // gateway -> engine commands
	SubjectGame    = "game.service"    // engine -> gateway responses and broadcasts
	SubjectPayment = "payment.service" // provider confirmations -> paysvc
)

type PlayerData struct {
	UserId  int64  `json:"user_id"`
	Balance string `json:"balance"`
}

type CreateRoomRequest struct {
	EntryPrice string `json:"entry_price"`
}

type JoinRequest struct {
	UserId int64  `json:"user_id"`
	RoomId string `json:"room_id"`
}

type MarkRequest struct {
	UserId int64  `json:"user_id"`
	RoomId string `json:"room_id"`
	Number int    `json:"number"`
	Unmark bool   `json:"unmark,omitempty"`
}

type ClaimRequest struct {
	UserId int64  `json:"user_id"`
	RoomId string `json:"room_id"`
}

type RoomStateRequest struct {
	RoomId string `json:"room_id"`
}

// RoomData is the read-only room view pushed to clients.
type RoomData struct {
	RoomId     string  `json:"room_id"`
	Status     string  `json:"status"`
	EntryPrice string  `json:"entry_price"`
	Pool       string  `json:"pool"`
	Players    []int64 `json:"players"`
	Calls      []int   `json:"calls"`
	WinnerId   int64   `json:"winner_id,omitempty"`
}

// BoardData carries the 25 cells issued to one player, row-major,
// free center as 0.
type BoardData struct {
	RoomId string `json:"room_id"`
	UserId int64  `json:"user_id"`
	Cells  []int  `json:"cells"`
}

// CallMessage announces one drawn number together with the full call
// history so late or reconnecting clients can catch up.
type CallMessage struct {
	RoomId  string `json:"room_id"`
	Number  int    `json:"number"`
	Label   string `json:"label"` // e.g. "N-34"
	History []int  `json:"history"`
}

// GameOver announces session termination: a winner and payout, or an
// exhausted game with per-player refunds.
type GameOver struct {
	RoomId   string           `json:"room_id"`
	WinnerId int64            `json:"winner_id,omitempty"`
	Payout   string           `json:"payout,omitempty"`
	Refunds  map[int64]string `json:"refunds,omitempty"`
}

type Res struct {
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
}

type BalanceStatus struct {
	Status    bool  `json:"status"`
	Timestamp int64 `json:"timestamp"`
}

// PaymentConfirmation is the provider-side confirmation of a deposit or
// withdrawal. Ref is the provider transaction identity and doubles as
// the ledger idempotency key.
type PaymentConfirmation struct {
	UserId int64  `json:"user_id"`
	Amount string `json:"amount"`
	Ref    string `json:"ref"`
}

type PaymentRes struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Balance   string `json:"balance,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
