package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shinkai-node/crypto"
	"github.com/opd-ai/shinkai-node/identity"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultSendTimeout      = 5 * time.Second
	defaultQueueSize        = 64
	nonceBytes              = 16
)

// Resolver resolves a claimed identity to its signing key, the subset of
// identity.Client the relay depends on.
type Resolver interface {
	Resolve(ctx context.Context, name string) (identity.OnchainRecord, error)
}

// Options configures a Server's timeouts and per-client queue depth.
type Options struct {
	HandshakeTimeout time.Duration
	SendTimeout      time.Duration
	QueueSize        int
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	return o
}

// client is one authenticated connection: its identity, socket, and
// bounded outbound frame queue.
type client struct {
	identity string
	conn     net.Conn
	outbox   chan *Frame
	closeOnc sync.Once
}

func (c *client) close() {
	c.closeOnc.Do(func() {
		close(c.outbox)
		c.conn.Close()
	})
}

// Server is the relay's TCP listener: it authenticates each connecting
// client by ed25519 challenge/response against C1, then forwards frames
// between authenticated clients by identity.
type Server struct {
	listener net.Listener
	resolver Resolver
	opts     Options

	mu      sync.RWMutex
	clients map[string]*client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Listen opens addr and returns a Server ready to Serve.
func Listen(addr string, resolver Resolver, opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("relay: listen %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		listener: ln,
		resolver: resolver,
		opts:     opts.withDefaults(),
		clients:  make(map[string]*client),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until Close is called. It blocks; call it
// from its own goroutine.
func (s *Server) Serve() {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"package":  "relay",
		"addr":     s.listener.Addr().String(),
	})
	logger.Info("relay server accepting connections")

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				logger.WithFields(logrus.Fields{
					"error": err.Error(),
				}).Warn("accept failed")
				return
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Close stops accepting connections and closes every registered client.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()

	s.mu.Lock()
	for id, c := range s.clients {
		c.close()
		delete(s.clients, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// handleConnection runs the handshake, then the forwarding loop, for one
// accepted socket.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	logger := logrus.WithFields(logrus.Fields{
		"function": "handleConnection",
		"package":  "relay",
		"remote":   conn.RemoteAddr().String(),
	})

	c, err := s.handshake(conn, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("handshake failed, closing connection")
		conn.Close()
		return
	}

	s.register(c)
	defer s.unregister(c)

	go s.drainOutbox(c)
	s.forwardLoop(c, logger)
}

// handshake reads the claimant's identity frame, sends a random nonce,
// and verifies the signature returned over it against the identity
// resolved through the resolver.
func (s *Server) handshake(conn net.Conn, logger *logrus.Entry) (*client, error) {
	conn.SetDeadline(time.Now().Add(s.opts.HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	first, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("read identity frame: %w", err)
	}
	claimed := first.Identity

	nonce := make([]byte, nonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	if err := writeLengthPrefixed(conn, nonce); err != nil {
		return nil, fmt.Errorf("send nonce: %w", err)
	}

	sigHex, err := readLengthPrefixed(conn)
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}
	sigBytes, err := hex.DecodeString(string(sigHex))
	if err != nil || len(sigBytes) != crypto.SignatureSize {
		logger.WithFields(crypto.SecureFieldHash(sigBytes, "signature")).Warn("malformed signature")
		return nil, fmt.Errorf("malformed signature for %q", claimed)
	}
	var sig crypto.Signature
	copy(sig[:], sigBytes)

	record, err := s.resolver.Resolve(s.ctx, claimed)
	if err != nil {
		return nil, fmt.Errorf("resolve identity %q: %w", claimed, err)
	}

	ok, err := crypto.Verify(nonce, sig, record.SigningPublicKey)
	if err != nil || !ok {
		logger.WithFields(crypto.SecureFieldHash(sigBytes, "signature")).Warn("signature verification failed")
		return nil, fmt.Errorf("signature verification failed for %q", claimed)
	}

	logger.WithFields(crypto.OperationFields("handshake", "authenticated", logrus.Fields{
		"identity": claimed,
	})).Info("relay client authenticated")

	return &client{
		identity: claimed,
		conn:     conn,
		outbox:   make(chan *Frame, s.opts.QueueSize),
	}, nil
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, exists := s.clients[c.identity]; exists {
		old.close()
	}
	s.clients[c.identity] = c
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	if s.clients[c.identity] == c {
		delete(s.clients, c.identity)
	}
	s.mu.Unlock()
	c.close()
}

// drainOutbox writes every frame enqueued for c to its socket until the
// outbox is closed.
func (s *Server) drainOutbox(c *client) {
	for f := range c.outbox {
		c.conn.SetWriteDeadline(time.Now().Add(s.opts.SendTimeout))
		if err := writeFrame(c.conn, f); err != nil {
			return
		}
	}
}

// forwardLoop reads frames from c and enqueues each to its recipient's
// outbox, applying back-pressure: if the recipient's queue is full, c's
// own read is paused until the queue drains or the send timeout expires,
// at which point c is disconnected.
func (s *Server) forwardLoop(c *client, logger *logrus.Entry) {
	for {
		f, err := readFrame(c.conn)
		if err != nil {
			return
		}

		recipient := s.lookup(f.Identity)
		if recipient == nil {
			logger.WithFields(logrus.Fields{
				"sender":    c.identity,
				"recipient": f.Identity,
			}).Debug("dropping frame for unknown recipient")
			continue
		}

		select {
		case recipient.outbox <- f:
		case <-time.After(s.opts.SendTimeout):
			logger.WithFields(logrus.Fields{
				"sender":    c.identity,
				"recipient": f.Identity,
			}).Warn("recipient queue full, disconnecting sender")
			return
		}
	}
}

func (s *Server) lookup(identityName string) *client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[identityName]
}
