package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"orderbooks/internal/common"
	obNet "orderbooks/internal/net"
)

func main() {
	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	owner := flag.String("owner", "", "Owner username (compulsory)")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'top', 'heartbeat']")

	// Order Parameters
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	typeStr := flag.String("type", "limit", "Order type: 'limit' or 'market'")
	price := flag.Float64("price", 100.0, "Limit price")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")

	// Cancel Parameters
	orderID := flag.String("id", "", "Id of the order to cancel")

	flag.Parse()

	// Validation
	if *owner == "" {
		fmt.Println("Error: -owner is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverAddr).Msg("failed to connect to server")
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *owner)

	// Start Listening for Reports (Async)
	go readReports(conn, stop)

	side := common.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = common.Sell
	}

	orderType := common.LimitOrder
	if strings.ToLower(*typeStr) == "market" {
		orderType = common.MarketOrder
	}

	// Execute Action
	switch strings.ToLower(*action) {
	case "place":
		for _, q := range parseQuantities(*qtyStr) {
			msg := obNet.NewOrderMessage{
				OrderType:  orderType,
				Side:       side,
				LimitPrice: *price,
				Quantity:   q,
				Username:   *owner,
			}
			if err := obNet.WriteFrame(conn, msg.Serialize()); err != nil {
				log.Error().Err(err).Uint64("qty", q).Msg("failed to place order")
				continue
			}
			fmt.Printf("-> Sent %s Order: %d @ %.2f\n", side, q, *price)
		}

	case "cancel":
		if *orderID == "" {
			log.Fatal().Msg("-id is required for cancellation")
		}
		msg := obNet.CancelOrderMessage{OrderID: *orderID}
		if err := obNet.WriteFrame(conn, msg.Serialize()); err != nil {
			log.Error().Err(err).Msg("failed to send cancel request")
		} else {
			fmt.Printf("-> Sent Cancel Request for id: %s\n", *orderID)
		}

	case "top", "heartbeat":
		typeOf := obNet.QueryTop
		if strings.ToLower(*action) == "heartbeat" {
			typeOf = obNet.Heartbeat
		}
		if err := obNet.WriteFrame(conn, obNet.BaseMessage{TypeOf: typeOf}.Serialize()); err != nil {
			log.Error().Err(err).Msg("failed to send request")
		}

	default:
		log.Fatal().Str("action", *action).Msg("unknown action")
	}

	// Keep the client alive to receive execution reports
	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	<-ctx.Done()
}

// parseQuantities splits a comma-separated string into a slice of uint64
func parseQuantities(input string) []uint64 {
	parts := strings.Split(input, ",")
	var result []uint64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Warn().Str("qty", p).Msg("invalid quantity, skipping")
		}
	}
	return result
}

// readReports continuously reads and prints reports from the server until the
// connection is lost.
func readReports(conn net.Conn, stop context.CancelFunc) {
	defer stop()
	for {
		payload, err := obNet.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error().Err(err).Msg("connection lost")
			}
			return
		}
		report, err := obNet.ParseReport(payload)
		if err != nil {
			log.Error().Err(err).Msg("unable to parse report")
			continue
		}
		fmt.Println(formatReport(report))
	}
}

func formatReport(r obNet.Report) string {
	switch r.ReportType {
	case obNet.HeartbeatReport:
		return "[HEARTBEAT]"
	case obNet.AckReport:
		return fmt.Sprintf("[ACK] %s %d @ %.2f | id: %s", r.Side, r.Quantity, r.Price, r.OrderID)
	case obNet.ExecutionReport:
		return fmt.Sprintf("[EXECUTION] Trade %d: %s %d @ %.2f | vs: %s | id: %s",
			r.TradeID, r.Side, r.Quantity, r.Price, r.Counterparty, r.OrderID)
	case obNet.CancelReport:
		return fmt.Sprintf("[CANCEL] %s | id: %s", common.CancelStatus(r.Status), r.OrderID)
	case obNet.TopReport:
		bid, ask := "-", "-"
		if r.Status&obNet.FlagHasBid != 0 {
			bid = fmt.Sprintf("%d @ %.2f", r.Quantity, r.Price)
		}
		if r.Status&obNet.FlagHasAsk != 0 {
			ask = fmt.Sprintf("%d @ %.2f", r.AltQuantity, r.AltPrice)
		}
		return fmt.Sprintf("[TOP] bid: %s | ask: %s", bid, ask)
	case obNet.ErrorReport:
		return fmt.Sprintf("[SERVER ERROR] %s %s", r.Err, r.OrderID)
	}
	return fmt.Sprintf("[UNKNOWN] report type %d", r.ReportType)
}
