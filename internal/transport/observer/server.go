package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"guardsim.ai/internal/observerproto"
	"guardsim.ai/internal/sim/rank"
	"guardsim.ai/internal/sim/threat"
	"guardsim.ai/internal/sim/world"
)

const (
	BootstrapPath = "/admin/v1/guards/bootstrap"
	WSPath        = "/admin/v1/guards/ws"

	sessionQueue = 256
)

type Server struct {
	world *world.World
	hub   *Hub
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		hub:   NewHub(logger),
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see isLoopbackRemote
		},
	}
}

// Hub is the world.Sink that feeds connected sessions.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc(BootstrapPath, s.BootstrapHandler())
	mux.HandleFunc(WSPath, s.WSHandler())
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		info := s.world.Info()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         info.WorldID,
			Tick:            info.Tick,
			TickRateHz:      info.TickRateHz,
			CatalogDigest:   info.CatalogDigest,
			Threats:         info.Threats,
			Scheduled:       info.Scheduled,
			Ranks:           rankInfos(s.world.Ranks().Graph()),
		}
		if rep, ok := s.world.Monitor().Last(); ok {
			resp.LastReport = &rep
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func rankInfos(g *rank.Graph) []observerproto.RankInfo {
	nodes := g.Nodes()
	out := make([]observerproto.RankInfo, 0, len(nodes))
	for _, n := range nodes {
		ri := observerproto.RankInfo{
			ID:       string(n.ID),
			Label:    n.Label,
			Tier:     n.Tier,
			Path:     n.Path.String(),
			Cost:     n.Cost,
			Previous: string(n.Previous),
		}
		ri.CostTo, _ = g.CostTo(n.ID)
		if n.Ability != nil {
			ri.Ability = n.Ability.Name
		}
		out = append(out, ri)
	}
	return out
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sess := &session{
			id:  fmt.Sprintf("O%d", s.nextID.Add(1)),
			out: make(chan []byte, sessionQueue),
		}
		sess.configure(sub)
		s.hub.add(sess)
		defer s.hub.remove(sess.id)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE updates and operator PURCHASE commands.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var base struct {
				Type            string `json:"type"`
				ProtocolVersion string `json:"protocol_version"`
			}
			if err := json.Unmarshal(msg, &base); err != nil || base.ProtocolVersion != observerproto.Version {
				continue
			}
			switch base.Type {
			case observerproto.TypeSubscribe:
				var sub observerproto.SubscribeMsg
				if err := json.Unmarshal(msg, &sub); err == nil {
					sess.configure(sub)
				}
			case observerproto.TypePurchase:
				var p observerproto.PurchaseMsg
				if err := json.Unmarshal(msg, &p); err == nil {
					s.purchase(sess, p)
				}
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// purchase runs an operator purchase. The result reaches purchase subscribers
// through the hub; a session that is not subscribed gets a direct reply.
func (s *Server) purchase(sess *session, p observerproto.PurchaseMsg) {
	agent, err1 := uuid.Parse(strings.TrimSpace(p.AgentID))
	actor, err2 := uuid.Parse(strings.TrimSpace(p.ActorID))
	if err1 != nil || err2 != nil {
		s.reply(sess, world.PurchaseEvent{
			WorldID: s.world.ID(),
			Rank:    p.Rank,
			Reason:  "E_BAD_REQUEST",
		})
		return
	}
	err := s.world.Purchase(agent, actor, rank.ID(p.Rank))
	if s.log != nil && err != nil {
		s.log.Printf("observer: purchase %s for %s by %s: %v", p.Rank, agent, actor, err)
	}
	if sess.wants(observerproto.StreamPurchase, threat.None) {
		return
	}
	ev := world.PurchaseEvent{
		WorldID: s.world.ID(),
		AgentID: agent,
		ActorID: actor,
		Rank:    p.Rank,
		OK:      err == nil,
		Reason:  rank.Reason(err),
	}
	if err == nil {
		n := s.world.Ranks().Get(agent).Current()
		ev.Tier, ev.Path, ev.Cost = n.Tier, n.Path.String(), n.Cost
		ev.Spent = s.world.Ranks().Get(agent).Spent()
	}
	s.reply(sess, ev)
}

func (s *Server) reply(sess *session, ev world.PurchaseEvent) {
	b, err := json.Marshal(observerproto.PurchaseResultMsg{
		Type:            observerproto.TypePurchaseResult,
		ProtocolVersion: observerproto.Version,
		Event:           ev,
	})
	if err != nil {
		return
	}
	select {
	case sess.out <- b:
	default:
		sess.dropped.Add(1)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
