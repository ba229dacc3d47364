package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	. "orderbooks/internal/common"
	"orderbooks/internal/factory"
)

const (
	defaultNWorkers     = 10
	defaultIdleTimeout  = time.Minute
	defaultWriteTimeout = time.Second
	outboxSize          = 1024
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
	ErrNotOrderOwner      = errors.New("order belongs to another session")
)

// Engine is the part of the matching engine the server drives.
type Engine interface {
	AddOrder(order Order) (string, error)
	CancelOrder(id string) CancelStatus
	TopOfBook() TopOfBook
}

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	conn net.Conn
}

// ClientMessage links a message, or the error parsing it, to the client
// sending it.
type ClientMessage struct {
	clientAddress string
	message       Message
	err           error
}

// orderOwner is the session an order was submitted from, along with what is
// left of the order.
type orderOwner struct {
	clientAddress string
	username      string
	side          Side
	remaining     uint64
}

type outboundReport struct {
	clientAddress string
	report        Report
}

type Server struct {
	address     string
	port        int
	engine      Engine
	orders      *factory.OrderFactory
	pool        WorkerPool
	idleTimeout time.Duration

	cancel     context.CancelFunc
	ready      chan struct{}
	done       chan struct{}
	listenAddr net.Addr

	// Guards clientSessions, owners and cancel.
	clientSessionsLock sync.Mutex
	clientSessions     map[string]ClientSession
	owners             map[string]orderOwner

	clientMessages chan ClientMessage
	outbox         chan outboundReport
}

type Option func(*Server)

// WithWorkers sets how many connections are served at once.
func WithWorkers(n int) Option {
	return func(s *Server) {
		s.pool = NewWorkerPool(n)
	}
}

// WithIdleTimeout sets how long a client may stay silent before it is
// disconnected.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

func New(address string, port int, eng Engine, orders *factory.OrderFactory, opts ...Option) *Server {
	s := &Server{
		address:        address,
		port:           port,
		engine:         eng,
		orders:         orders,
		pool:           NewWorkerPool(defaultNWorkers),
		idleTimeout:    defaultIdleTimeout,
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		clientSessions: make(map[string]ClientSession),
		owners:         make(map[string]orderOwner),
		clientMessages: make(chan ClientMessage, 1),
		outbox:         make(chan outboundReport, outboxSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr blocks until the server is listening and returns the bound address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.listenAddr
}

func (s *Server) Shutdown() {
	s.clientSessionsLock.Lock()
	cancel := s.cancel
	s.clientSessionsLock.Unlock()

	if cancel != nil {
		log.Info().Msg("server shutting down")
		cancel()
	}
}

// Run serves clients until ctx is canceled or Shutdown is called. It may only
// be called once.
func (s *Server) Run(ctx context.Context) error {
	defer s.Shutdown()

	// Setup a cancel on the context for future shutdown.
	ctx, cancel := context.WithCancel(ctx)
	s.clientSessionsLock.Lock()
	s.cancel = cancel
	s.clientSessionsLock.Unlock()
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		close(s.done)
		return fmt.Errorf("unable to start listener: %w", err)
	}
	s.listenAddr = listener.Addr()
	close(s.ready)

	// Start the worker pool.
	s.pool.Setup(t, s.handleConnection)

	// Start the session handler and the report writer.
	t.Go(func() error {
		return s.sessionHandler(t)
	})
	t.Go(func() error {
		return s.reportWriter(t)
	})

	// Start accepting connections.
	t.Go(func() error {
		return s.acceptLoop(t, listener)
	})

	// Unblock everything waiting on the network once we are dying.
	t.Go(func() error {
		<-t.Dying()
		close(s.done)
		s.closeClientSessions()
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("unable to close listener: %w", err)
		}
		return nil
	})

	log.Info().Str("address", s.listenAddr.String()).Msg("server running")

	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) acceptLoop(t *tomb.Tomb, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-t.Dying():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		address := conn.RemoteAddr().String()
		log.Info().
			Str("address", address).
			Msg("new client added")
		// Add the client to client sessions we are tracking.
		// We expect to potentially maintain a long TCP session.
		s.addClientSession(conn)

		// Pass over the connection to be read from.
		if !s.pool.AddTask(conn) {
			log.Warn().
				Str("address", address).
				Msg("connection queue full, dropping client")
			s.deleteClientSession(address)
			_ = conn.Close()
		}
	}
}

// Report writes a report to a connected client. A client that cannot be
// written to is dropped.
func (s *Server) Report(clientAddress string, report Report) error {
	s.clientSessionsLock.Lock()
	client, ok := s.clientSessions[clientAddress]
	s.clientSessionsLock.Unlock()
	if !ok {
		return ErrClientDoesNotExist
	}

	err := client.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err == nil {
		err = WriteFrame(client.conn, report.Serialize())
	}
	if err != nil {
		s.deleteClientSession(clientAddress)
		_ = client.conn.Close()
		return fmt.Errorf("unable to send report: %w", err)
	}

	return nil
}

// OnTrade routes an execution report to the session owning each side of the
// trade. It runs inside the engine's critical section, so it only queues.
func (s *Server) OnTrade(trade Trade) {
	s.clientSessionsLock.Lock()
	taker, takerOK := s.fill(trade.Taker, trade.Size)
	maker, makerOK := s.fill(trade.Maker, trade.Size)
	s.clientSessionsLock.Unlock()

	if takerOK {
		s.enqueue(taker.clientAddress, executionReport(trade, trade.Taker, taker.side, maker.username))
	}
	if makerOK {
		s.enqueue(maker.clientAddress, executionReport(trade, trade.Maker, maker.side, taker.username))
	}
}

func executionReport(trade Trade, orderID string, side Side, counterparty string) Report {
	return Report{
		ReportType:   ExecutionReport,
		Side:         side,
		Timestamp:    uint64(trade.Timestamp.UnixNano()),
		TradeID:      trade.ID,
		Quantity:     trade.Size,
		Price:        trade.Price,
		OrderID:      orderID,
		Counterparty: counterparty,
	}
}

// fill takes size off a tracked order and forgets it once nothing is left.
// Callers hold clientSessionsLock.
func (s *Server) fill(orderID string, size uint64) (orderOwner, bool) {
	owner, ok := s.owners[orderID]
	if !ok {
		return orderOwner{}, false
	}
	if size >= owner.remaining {
		delete(s.owners, orderID)
	} else {
		owner.remaining -= size
		s.owners[orderID] = owner
	}
	return owner, true
}

func (s *Server) enqueue(clientAddress string, report Report) {
	select {
	case s.outbox <- outboundReport{clientAddress: clientAddress, report: report}:
	case <-s.done:
	}
}

// reportWriter is the only writer to client connections.
func (s *Server) reportWriter(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case out := <-s.outbox:
			if err := s.Report(out.clientAddress, out.report); err != nil {
				log.Warn().
					Err(err).
					Str("address", out.clientAddress).
					Msg("unable to deliver report")
			}
		}
	}
}

// sessionHandler reads off incoming messages from clients and handles high-level
// session logic. Messages are received from the pool of workers, so the engine
// sees requests one at a time in arrival order.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			s.handleMessage(message)
		}
	}
}

func (s *Server) handleMessage(m ClientMessage) {
	if m.err != nil {
		s.reportError(m.clientAddress, "", m.err)
		return
	}

	switch msg := m.message.(type) {
	case NewOrderMessage:
		s.handleNewOrder(m.clientAddress, msg)
	case CancelOrderMessage:
		s.handleCancelOrder(m.clientAddress, msg)
	case BaseMessage:
		switch msg.TypeOf {
		case Heartbeat:
			s.enqueue(m.clientAddress, Report{
				ReportType: HeartbeatReport,
				Timestamp:  uint64(time.Now().UnixNano()),
			})
		case QueryTop:
			s.handleQueryTop(m.clientAddress)
		}
	}
}

// handleNewOrder acknowledges the order before submitting it so the ack always
// precedes the executions it triggers. An engine rejection follows the ack as
// an error report carrying the order id.
func (s *Server) handleNewOrder(clientAddress string, msg NewOrderMessage) {
	order, err := s.orders.Create(msg.Side, msg.OrderType, msg.LimitPrice, msg.Quantity)
	if err != nil {
		s.reportError(clientAddress, "", err)
		return
	}

	s.setOwner(order.ID, orderOwner{
		clientAddress: clientAddress,
		username:      msg.Username,
		side:          order.Side,
		remaining:     order.Size,
	})
	s.enqueue(clientAddress, Report{
		ReportType:   AckReport,
		Side:         order.Side,
		Timestamp:    uint64(order.Timestamp.UnixNano()),
		Quantity:     order.Size,
		Price:        order.Price,
		OrderID:      order.ID,
		Counterparty: msg.Username,
	})

	if _, err := s.engine.AddOrder(order); err != nil {
		s.deleteOwner(order.ID)
		s.reportError(clientAddress, order.ID, err)
	}
}

func (s *Server) handleCancelOrder(clientAddress string, msg CancelOrderMessage) {
	s.clientSessionsLock.Lock()
	owner, ok := s.owners[msg.OrderID]
	s.clientSessionsLock.Unlock()

	if ok && owner.clientAddress != clientAddress {
		s.reportError(clientAddress, msg.OrderID, ErrNotOrderOwner)
		return
	}

	// Orders this server is not tracking are either gone or were never ours.
	status := NotExists
	if ok {
		status = s.engine.CancelOrder(msg.OrderID)
	}
	if status == Canceled {
		s.deleteOwner(msg.OrderID)
	}
	s.enqueue(clientAddress, Report{
		ReportType: CancelReport,
		Side:       owner.side,
		Status:     uint8(status),
		OrderID:    msg.OrderID,
	})
}

func (s *Server) handleQueryTop(clientAddress string) {
	top := s.engine.TopOfBook()
	var flags uint8
	if top.HasBid {
		flags |= FlagHasBid
	}
	if top.HasAsk {
		flags |= FlagHasAsk
	}
	s.enqueue(clientAddress, Report{
		ReportType:  TopReport,
		Status:      flags,
		Timestamp:   uint64(time.Now().UnixNano()),
		Quantity:    top.BidSize,
		Price:       top.BidPrice,
		AltQuantity: top.AskSize,
		AltPrice:    top.AskPrice,
	})
}

func (s *Server) reportError(clientAddress, orderID string, err error) {
	log.Debug().
		Err(err).
		Str("address", clientAddress).
		Str("order", orderID).
		Msg("request rejected")
	s.enqueue(clientAddress, Report{
		ReportType: ErrorReport,
		Timestamp:  uint64(time.Now().UnixNano()),
		OrderID:    orderID,
		Err:        err.Error(),
	})
}

// handleConnection serves one client until it disconnects, goes idle or the
// server stops. Each frame is parsed and passed forward to sessionHandler.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	address := conn.RemoteAddr().String()
	defer func() {
		s.deleteClientSession(address)
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error().Str("address", address).Err(err).Msg("unable to close connection")
		}
	}()

	for {
		// Set max idle timeout.
		if err := conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			log.Error().
				Str("address", address).
				Err(err).
				Msg("failed setting deadline for connection")
			return nil
		}

		payload, err := ReadFrame(conn)
		if err != nil {
			select {
			case <-t.Dying():
				return nil
			default:
			}
			if errors.Is(err, io.EOF) {
				log.Info().Str("address", address).Msg("client disconnected")
			} else {
				log.Error().
					Err(err).
					Str("address", address).
					Msg("error reading from connection")
			}
			return nil
		}

		message, err := ParseMessage(payload)
		if err != nil {
			log.Error().
				Err(err).
				Str("address", address).
				Msg("error parsing message")
		}

		// Pass over to the message handling buffer.
		select {
		case <-t.Dying():
			return nil
		case s.clientMessages <- ClientMessage{
			clientAddress: address,
			message:       message,
			err:           err,
		}:
		}
	}
}

func (s *Server) setOwner(orderID string, owner orderOwner) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	s.owners[orderID] = owner
}

func (s *Server) deleteOwner(orderID string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	delete(s.owners, orderID)
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	s.clientSessions[conn.RemoteAddr().String()] = ClientSession{
		conn: conn,
	}
}

// deleteClientSession is an atomic map remove
func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	delete(s.clientSessions, address)
}

func (s *Server) closeClientSessions() {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	for address, client := range s.clientSessions {
		_ = client.conn.Close()
		delete(s.clientSessions, address)
	}
}
