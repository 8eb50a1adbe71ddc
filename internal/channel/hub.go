// Package channel implements the websocket transport between an agent and
// its viewers.
package channel

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	internalerrors "github.com/rcourtman/healthdash/internal/errors"
)

const (
	pingPeriod       = 54 * time.Second
	pongWait         = 60 * time.Second
	writeWait        = 10 * time.Second
	peerQueueSize    = 256
	broadcastBacklog = 256
)

var errBroadcastFull = errors.New("broadcast queue full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024 * 16,
	CheckOrigin:     checkOrigin,
}

// Peer is one connected viewer.
type Peer struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// ID returns the peer identifier.
func (p *Peer) ID() string {
	return p.id
}

// Hub maintains connected peers and fans published messages out to them.
type Hub struct {
	logger     zerolog.Logger
	peers      map[*Peer]struct{}
	broadcast  chan []byte
	register   chan *Peer
	unregister chan *Peer
	onPeers    func(int)

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	pumps  sync.WaitGroup
}

// NewHub creates a hub. onPeers, when set, is called with the peer count
// whenever a peer joins or leaves.
func NewHub(logger zerolog.Logger, onPeers func(int)) *Hub {
	return &Hub{
		logger:     logger,
		peers:      make(map[*Peer]struct{}),
		broadcast:  make(chan []byte, broadcastBacklog),
		register:   make(chan *Peer),
		unregister: make(chan *Peer),
		onPeers:    onPeers,
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns when ctx ends or the hub is
// closed; a cancelled ctx closes the hub.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return

		case <-h.done:
			return

		case peer := <-h.register:
			h.mu.Lock()
			if h.closed {
				h.mu.Unlock()
				close(peer.send)
				continue
			}
			h.peers[peer] = struct{}{}
			count := len(h.peers)
			h.mu.Unlock()
			h.logger.Info().Str("peer", peer.id).Int("peers", count).Msg("Viewer connected")
			h.notifyPeers(count)

		case peer := <-h.unregister:
			h.mu.Lock()
			_, ok := h.peers[peer]
			if ok {
				delete(h.peers, peer)
				close(peer.send)
			}
			count := len(h.peers)
			h.mu.Unlock()
			if ok {
				h.logger.Info().Str("peer", peer.id).Int("peers", count).Msg("Viewer disconnected")
				h.notifyPeers(count)
			}

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

func (h *Hub) fanOut(message []byte) {
	h.mu.Lock()
	dropped := 0
	for peer := range h.peers {
		select {
		case peer.send <- message:
		default:
			// Queue full, the peer is not keeping up
			delete(h.peers, peer)
			close(peer.send)
			dropped++
			h.logger.Warn().Str("peer", peer.id).Msg("Dropping slow viewer")
		}
	}
	count := len(h.peers)
	h.mu.Unlock()

	if dropped > 0 {
		h.notifyPeers(count)
	}
}

func (h *Hub) notifyPeers(count int) {
	if h.onPeers != nil {
		h.onPeers(count)
	}
}

// Publish queues data under topic for every connected peer. Peers that
// connect later never see it.
func (h *Hub) Publish(topic string, data interface{}) error {
	message, err := Encode(topic, data)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return internalerrors.ErrClosed
	}

	select {
	case h.broadcast <- message:
		return nil
	default:
		h.logger.Warn().Str("topic", topic).Msg("Broadcast queue full, dropping message")
		return internalerrors.WrapConnectionError("publish", topic, errBroadcastFull)
	}
}

// Close disconnects every peer, stops the hub and waits for the peer pumps
// to exit. Safe to call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.pumps.Wait()
		return
	}
	h.closed = true
	close(h.done)
	for peer := range h.peers {
		delete(h.peers, peer)
		close(peer.send)
	}
	h.mu.Unlock()

	h.notifyPeers(0)
	h.pumps.Wait()
}

// Closed reports whether Close has been called.
func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// PeerCount returns the number of connected peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// HandleWebSocket upgrades a request and attaches the connection as a peer.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.Closed() {
		http.Error(w, "agent shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Failed to upgrade viewer connection")
		return
	}

	peer := &Peer{
		hub:  h,
		conn: conn,
		send: make(chan []byte, peerQueueSize),
		id:   uuid.NewString(),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.pumps.Add(2)
	h.mu.Unlock()

	select {
	case h.register <- peer:
	case <-h.done:
		conn.Close()
		h.pumps.Add(-2)
		return
	}

	go peer.writePump()
	go peer.readPump()
}

// readPump only services control frames; viewers never send payloads.
func (p *Peer) readPump() {
	defer p.hub.pumps.Done()
	defer func() {
		select {
		case p.hub.unregister <- p:
		case <-p.hub.done:
		}
		p.conn.Close()
	}()

	p.conn.SetReadLimit(4096)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				p.hub.logger.Debug().Err(err).Str("peer", p.id).Msg("Viewer read error")
			}
			return
		}
	}
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
		p.hub.pumps.Done()
	}()

	for {
		select {
		case message, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				p.hub.logger.Debug().Err(err).Str("peer", p.id).Msg("Failed to write to viewer")
				return
			}

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// checkOrigin accepts non-browser clients, same-host pages and loopback pages.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return isLoopbackHost(u.Hostname())
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
