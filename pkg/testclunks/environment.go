package testclunks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/udisondev/clunks/pkg/broker"
	"github.com/udisondev/clunks/pkg/client"
	"github.com/udisondev/clunks/pkg/protocol"
	"github.com/udisondev/clunks/pkg/server"
)

// Environment представляет тестовое окружение clunks.
type Environment struct {
	// NATSUrl URL для подключения к NATS.
	NATSUrl string
	// Server сервер clunks, слушающий на 127.0.0.1.
	Server *server.Server
	// Broker соединение с NATS, через которое работает мост.
	Broker *broker.Broker

	nats       *natsContainer
	bufferSize int
	serverErr  chan error
	cancelCtx  context.CancelFunc
}

// Option опция конфигурации окружения.
type Option func(*options)

type options struct {
	bufferSize        int
	maxClients        int
	rateLimitPerSec   float64
	rateLimitBurst    int
	heartbeatInterval time.Duration
	requestTimeout    time.Duration
}

func defaultOptions() *options {
	return &options{
		bufferSize:        8192,
		maxClients:        100,
		heartbeatInterval: server.DefaultHeartbeatInterval,
		requestTimeout:    5 * time.Second,
	}
}

// WithBufferSize устанавливает размер буфера приёма.
func WithBufferSize(n int) Option {
	return func(o *options) { o.bufferSize = n }
}

// WithMaxClients устанавливает максимальное количество клиентов.
func WithMaxClients(n int) Option {
	return func(o *options) { o.maxClients = n }
}

// WithRateLimit устанавливает лимиты для rate limiter.
func WithRateLimit(perSec float64, burst int) Option {
	return func(o *options) {
		o.rateLimitPerSec = perSec
		o.rateLimitBurst = burst
	}
}

// WithHeartbeatInterval устанавливает период heartbeat сервера.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.heartbeatInterval = d }
}

// WithRequestTimeout устанавливает ожидание ответа хранилища.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// Start запускает тестовое окружение: NATS контейнер, мост и сервер clunks.
func Start(ctx context.Context, opts ...Option) (*Environment, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	// 1. Запускаем NATS
	nats, err := startNATS(ctx)
	if err != nil {
		return nil, fmt.Errorf("start NATS: %w", err)
	}

	// 2. Подключаем брокер
	b, err := broker.New(broker.Config{
		URLs:           []string{nats.URL()},
		Name:           "testclunks",
		ReconnectWait:  time.Second,
		MaxReconnects:  5,
		RequestTimeout: o.requestTimeout,
	})
	if err != nil {
		nats.Terminate(ctx)
		return nil, fmt.Errorf("connect broker: %w", err)
	}

	// 3. Сервер на случайных портах
	bridge := broker.NewBridge(broker.NewRequester(b))
	srv, err := server.Listen(o.bufferSize, "127.0.0.1", 0, 0,
		server.WithMaxClients(o.maxClients),
		server.WithRateLimit(o.rateLimitPerSec, o.rateLimitBurst),
		server.WithHeartbeatInterval(o.heartbeatInterval),
		server.WithOnDispatch(bridge.Dispatch),
	)
	if err != nil {
		_ = b.Close()
		nats.Terminate(ctx)
		return nil, fmt.Errorf("listen: %w", err)
	}
	bridge.Attach(srv)

	// 4. Запускаем сервер в горутине
	serverCtx, cancelCtx := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Serve(serverCtx)
	}()

	return &Environment{
		NATSUrl:    nats.URL(),
		Server:     srv,
		Broker:     b,
		nats:       nats,
		bufferSize: o.bufferSize,
		serverErr:  serverErr,
		cancelCtx:  cancelCtx,
	}, nil
}

// Close останавливает тестовое окружение.
func (e *Environment) Close(ctx context.Context) error {
	// Останавливаем сервер
	if e.cancelCtx != nil {
		e.cancelCtx()
	}

	// Ждём завершения сервера
	select {
	case <-e.serverErr:
	case <-time.After(5 * time.Second):
	}

	var errs []error

	if e.Broker != nil {
		if err := e.Broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
	}

	if e.nats != nil {
		if err := e.nats.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("terminate NATS: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Respond регистрирует обработчик хранилища для пакетов типа id.
func (e *Environment) Respond(id protocol.DataID, handler broker.Handler) (*broker.Responder, error) {
	r, err := broker.NewResponder(e.Broker, id, "testclunks", handler)
	if err != nil {
		return nil, err
	}
	// Подписка должна дойти до сервера NATS раньше первого запроса.
	if err := e.Broker.Conn().Flush(); err != nil {
		_ = r.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}
	return r, nil
}

// NewClient создаёт клиента, выполняет handshake и запускает его.
// Вызывающий код отвечает за Close.
func (e *Environment) NewClient(strength protocol.Strength, opts ...client.Option) (*Client, error) {
	tc := &Client{recv: make(chan protocol.Packet, 64)}

	opts = append(opts, client.WithOnDispatch(func(p protocol.Packet) {
		select {
		case tc.recv <- p:
		case <-tc.Done():
		}
	}))

	c, err := client.Connect(e.bufferSize, "127.0.0.1", e.Server.TCPAddr().Port, e.Server.UDPAddr().Port, strength, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to clunks: %w", err)
	}
	tc.Client = c

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("start client: %w", err)
	}
	return tc, nil
}

// Client обёртка над клиентом clunks для тестов.
type Client struct {
	*client.Client
	recv chan protocol.Packet
}

// Recv возвращает канал полученных пакетов. Heartbeat в него не попадает.
func (c *Client) Recv() <-chan protocol.Packet {
	return c.recv
}

// Send ставит пакет в очередь отправки.
func (c *Client) Send(id protocol.DataID, body ...string) {
	c.Add(protocol.NewPacket(id, c.UserID(), body...))
}
