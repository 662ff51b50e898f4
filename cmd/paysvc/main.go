package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	config "github.com/tesfam/bingo-engine/configs"
	"github.com/tesfam/bingo-engine/internal/comm"
	"github.com/tesfam/bingo-engine/internal/db"
	"github.com/tesfam/bingo-engine/internal/ledger"
	natscli "github.com/tesfam/bingo-engine/internal/nats"
)

const SERVICE_NAME = "pay"

var instanceId string

func init() {
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

func main() {
	// pg connection
	dbpool, err := db.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.ClosePool()
	log.Printf("pg connection established successfully")

	lg := ledger.NewPostgres(dbpool)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := lg.EnsureSchema(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ensure ledger schema: %v", err)
	}
	cancel()

	// Connect to NATS
	nc, err := natscli.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Conn.Close()
	log.Infof("NATS connected at %s", nc.Url)

	// Subscribe to payment service
	_, err = nc.Conn.Subscribe(comm.SubjectPayment, func(m *nats.Msg) {
		handlePaymentService(nc, lg, m)
	})
	if err != nil {
		log.Fatalf("Subscribe %s error: %v", comm.SubjectPayment, err)
	}

	select {}
}

// handlePaymentService maps provider confirmations onto ledger entries.
// The provider transaction reference is the idempotency key, so a
// confirmation delivered twice applies exactly once.
func handlePaymentService(nc *natscli.Nats, lg ledger.Ledger, msg *nats.Msg) {
	var ws comm.WSMessage
	if err := json.Unmarshal(msg.Data, &ws); err != nil {
		log.Errorf("invalid WSMessage: %v", err)
		return
	}

	switch ws.Type {
	case "deposit":
		handleDeposit(nc, lg, ws)
	case "withdrawal":
		handleWithdrawal(nc, lg, ws)
	default:
		log.Warnf("unknown message type: %s", ws.Type)
	}
}

func handleDeposit(nc *natscli.Nats, lg ledger.Ledger, ws comm.WSMessage) {
	req, amount, ok := decodeConfirmation(nc, ws, "deposit-res")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	entry := ledger.Entry{
		Ref:    req.Ref,
		UserID: req.UserId,
		Kind:   ledger.Deposit,
		Amount: amount,
	}
	if _, err := lg.Apply(ctx, entry); err != nil {
		log.Errorf("apply deposit %s: %v", req.Ref, err)
		publishPaymentRes(nc, "deposit-res", comm.PaymentRes{
			Status:    "server-error",
			Message:   "Failed to process deposit. Please try again",
			Timestamp: time.Now().Unix(),
		}, ws.SocketId)
		return
	}

	balance, err := lg.Balance(ctx, req.UserId)
	if err != nil {
		log.Errorf("balance after deposit %s: %v", req.Ref, err)
	}

	publishPaymentRes(nc, "deposit-res", comm.PaymentRes{
		Status:    "success",
		Message:   "Deposit processed successfully",
		Balance:   balance.StringFixed(2),
		Timestamp: time.Now().Unix(),
	}, ws.SocketId)
}

func handleWithdrawal(nc *natscli.Nats, lg ledger.Ledger, ws comm.WSMessage) {
	req, amount, ok := decodeConfirmation(nc, ws, "withdrawal-res")
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	entry := ledger.Entry{
		Ref:    req.Ref,
		UserID: req.UserId,
		Kind:   ledger.Withdrawal,
		Amount: amount.Neg(),
	}
	if _, err := lg.Apply(ctx, entry); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			publishPaymentRes(nc, "withdrawal-res", comm.PaymentRes{
				Status:    "insufficient-balance",
				Message:   "Balance does not cover this withdrawal",
				Timestamp: time.Now().Unix(),
			}, ws.SocketId)
			return
		}
		log.Errorf("apply withdrawal %s: %v", req.Ref, err)
		publishPaymentRes(nc, "withdrawal-res", comm.PaymentRes{
			Status:    "server-error",
			Message:   "Failed to process withdrawal. Please try again",
			Timestamp: time.Now().Unix(),
		}, ws.SocketId)
		return
	}

	balance, err := lg.Balance(ctx, req.UserId)
	if err != nil {
		log.Errorf("balance after withdrawal %s: %v", req.Ref, err)
	}

	publishPaymentRes(nc, "withdrawal-res", comm.PaymentRes{
		Status:    "success",
		Message:   "Withdrawal processed successfully",
		Balance:   balance.StringFixed(2),
		Timestamp: time.Now().Unix(),
	}, ws.SocketId)
}

func decodeConfirmation(nc *natscli.Nats, ws comm.WSMessage, resType string) (comm.PaymentConfirmation, decimal.Decimal, bool) {
	var req comm.PaymentConfirmation
	if err := json.Unmarshal(ws.Data, &req); err != nil {
		log.Errorf("invalid PaymentConfirmation: %v", err)
		publishPaymentRes(nc, resType, comm.PaymentRes{
			Status:    "invalid-request",
			Message:   "Invalid request format",
			Timestamp: time.Now().Unix(),
		}, ws.SocketId)
		return req, decimal.Zero, false
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() || req.Ref == "" || req.UserId == 0 {
		publishPaymentRes(nc, resType, comm.PaymentRes{
			Status:    "invalid-request",
			Message:   "Missing required fields or invalid amount",
			Timestamp: time.Now().Unix(),
		}, ws.SocketId)
		return req, decimal.Zero, false
	}

	return req, amount, true
}

func publishPaymentRes(n *natscli.Nats, resType string, p comm.PaymentRes, socketId string) {
	data, err := json.Marshal(p)
	if err != nil {
		log.Errorf("unable to marshal payment response: %v", err)
		return
	}

	msg := &comm.WSMessage{
		Type:     resType,
		Data:     data,
		SocketId: socketId,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Error marshaling WSMessage: %v", err)
		return
	}

	n.Conn.Publish(comm.SubjectGame, payload)
}
