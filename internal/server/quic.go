package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/json"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
)

// NextProto is the ALPN token for the pose stream.
const NextProto = "cylinderworks-pose"

// quicIdleTimeout bounds how long a silent peer keeps its session.
const quicIdleTimeout = 30 * time.Second

type quicClient struct {
	id   string
	conn *quic.Conn
	send chan []byte
	once sync.Once
}

func (c *quicClient) close() {
	c.once.Do(func() { close(c.send) })
}

// QUICSink streams frames over one unidirectional stream per session. Each
// frame is a 4-byte big-endian length followed by the JSON body.
type QUICSink struct {
	logger     log.Log
	engine     *Engine
	maxClients int
	sendBuffer int

	listener *quic.Listener
	running  atomic.Bool

	mu      sync.Mutex
	clients map[*quicClient]struct{}
	wg      sync.WaitGroup

	dropped atomic.Uint64
}

func NewQUICSink(engine *Engine, maxClients, sendBuffer int, logger log.Log) *QUICSink {
	if sendBuffer < 1 {
		sendBuffer = 1
	}
	return &QUICSink{
		logger:     logger.With(log.String("component", "quic")),
		engine:     engine,
		maxClients: maxClients,
		sendBuffer: sendBuffer,
		clients:    make(map[*quicClient]struct{}),
	}
}

// Start listens on addr with tlsConfig, or a self-signed certificate when
// tlsConfig is nil.
func (q *QUICSink) Start(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	if !q.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	if tlsConfig == nil {
		var err error
		if tlsConfig, err = GenerateSelfSignedTLS(); err != nil {
			q.running.Store(false)
			return errors.Wrap(err, "failed to create TLS config")
		}
	}

	listener, err := quic.ListenAddr(addr, tlsConfig, &quic.Config{
		MaxIdleTimeout:  quicIdleTimeout,
		KeepAlivePeriod: quicIdleTimeout / 2,
	})
	if err != nil {
		q.running.Store(false)
		return errors.Wrap(ErrListenerFailed, err.Error())
	}
	q.listener = listener
	q.logger.Info("QUIC stream listening", log.String("addr", listener.Addr().String()))

	q.wg.Add(1)
	go q.acceptConnections(ctx)
	return nil
}

func (q *QUICSink) Addr() net.Addr {
	if q.listener == nil {
		return nil
	}
	return q.listener.Addr()
}

func (q *QUICSink) acceptConnections(ctx context.Context) {
	defer q.wg.Done()

	for {
		conn, err := q.listener.Accept(ctx)
		if err != nil {
			if q.running.Load() {
				q.logger.Error("Failed to accept connection", log.Error(err))
			}
			return
		}

		q.mu.Lock()
		full := len(q.clients) >= q.maxClients
		q.mu.Unlock()
		if full {
			q.logger.Warn("Maximum clients reached, rejecting connection",
				log.String("remote_addr", conn.RemoteAddr().String()))
			_ = conn.CloseWithError(1, ErrMaxClientsReached.Error())
			continue
		}

		q.wg.Add(1)
		go q.handleConnection(ctx, conn)
	}
}

func (q *QUICSink) handleConnection(ctx context.Context, conn *quic.Conn) {
	defer q.wg.Done()

	c := &quicClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, q.sendBuffer)}
	clientLogger := q.logger.With(log.String("client_id", c.id))

	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		clientLogger.Debug("Failed to open stream", log.Error(err))
		_ = conn.CloseWithError(0, "")
		return
	}

	scene, err := json.Marshal(q.engine.Scene())
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return
	}
	c.send <- scene

	q.mu.Lock()
	q.clients[c] = struct{}{}
	q.mu.Unlock()
	clientLogger.Info("Client connected", log.String("remote_addr", conn.RemoteAddr().String()))

	defer func() {
		q.remove(c)
		_ = stream.Close()
		_ = conn.CloseWithError(0, "")
		clientLogger.Info("Client disconnected")
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err = writeFrame(stream, data); err != nil {
				clientLogger.Debug("Failed to write frame", log.Error(err))
				return
			}
		case <-conn.Context().Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (q *QUICSink) remove(c *quicClient) {
	q.mu.Lock()
	delete(q.clients, c)
	q.mu.Unlock()
	c.close()
}

// Broadcast queues data for every session, dropping it for sessions whose
// buffer is full.
func (q *QUICSink) Broadcast(data []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for c := range q.clients {
		select {
		case c.send <- data:
		default:
			q.dropped.Add(1)
		}
	}
}

func (q *QUICSink) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.clients)
}

func (q *QUICSink) Dropped() uint64 {
	return q.dropped.Load()
}

// Stop closes the listener and every session.
func (q *QUICSink) Stop() error {
	if !q.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}
	err := q.listener.Close()

	q.mu.Lock()
	for c := range q.clients {
		delete(q.clients, c)
		c.close()
	}
	q.mu.Unlock()

	q.wg.Wait()
	return err
}

func writeFrame(w io.Writer, data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame reads one length-prefixed frame written by the sink.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	data := make([]byte, binary.BigEndian.Uint32(header[:]))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// GenerateSelfSignedTLS generates a self-signed TLS certificate for development
func GenerateSelfSignedTLS() (*tls.Config, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"cylinderworks"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{certDER}, PrivateKey: privateKey}},
		NextProtos:   []string{NextProto},
		MinVersion:   tls.VersionTLS13,
	}, nil
}
