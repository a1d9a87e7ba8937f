// Package gateway accepts bidirectional streaming connections from
// agents and customers, authenticates them, and demultiplexes inbound
// frames to the dispatcher. One goroutine per connection reads frames
// in order; a second owns all writes.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goatkit/goatchat/internal/dispatch"
	"github.com/goatkit/goatchat/internal/models"
	"github.com/goatkit/goatchat/internal/registry"
	"github.com/goatkit/goatchat/internal/repository"
)

var openConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "goatchat",
	Subsystem: "gateway",
	Name:      "open_connections",
	Help:      "Open websocket connections by principal kind",
}, []string{"kind"})

// TokenVerifier authenticates agent bearer tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (int64, error)
}

// Dispatcher is the slice of the dispatch façade the gateway routes
// inbound frames into.
type Dispatcher interface {
	HandleCustomerMessage(ctx context.Context, customerID int64, kind models.ContentKind, body string) error
	HandleAgentMessage(ctx context.Context, agentID, conversationID int64, kind models.ContentKind, body string) error
	HandleTyping(ctx context.Context, from registry.Principal, conversationID int64, isTyping bool) error
	HandleRead(ctx context.Context, from registry.Principal, conversationID int64) error
	CloseConversation(ctx context.Context, actorID, conversationID int64, force bool) error
	DrainWaitingFor(ctx context.Context, agentID int64) int
	OfflineHistory(ctx context.Context, customerID int64) (int64, []dispatch.MessagePayload, error)
}

// Gateway upgrades and serves websocket sessions.
type Gateway struct {
	reg        *registry.Registry
	dispatcher Dispatcher
	verifier   TokenVerifier
	agents     repository.AgentRepository
	customers  repository.CustomerRepository
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// New creates a gateway. The widget embeds on arbitrary customer
// sites, so cross-origin upgrades are accepted.
func New(reg *registry.Registry, dispatcher Dispatcher, verifier TokenVerifier,
	agents repository.AgentRepository, customers repository.CustomerRepository, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		reg:        reg,
		dispatcher: dispatcher,
		verifier:   verifier,
		agents:     agents,
		customers:  customers,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleWS is the gin handler for the /ws endpoint. The handshake
// carries type ∈ {agent, customer} and either token or uuid.
func (g *Gateway) HandleWS(c *gin.Context) {
	connType := c.Query("type")
	if connType != "agent" && connType != "customer" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown connection type"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := newClient(conn)
	go client.writePump()

	switch connType {
	case "agent":
		g.serveAgent(c, client)
	case "customer":
		g.serveCustomer(c, client)
	}
}

func (g *Gateway) serveAgent(c *gin.Context, client *Client) {
	ctx := c.Request.Context()
	token := c.Query("token")

	agentID, err := g.verifier.Verify(ctx, token)
	if err != nil {
		client.pushMessage(frameError, "authentication failed")
		client.shutdown()
		return
	}
	agent, err := g.agents.GetByID(ctx, agentID)
	if err != nil || !agent.Enabled {
		client.pushMessage(frameError, "account unavailable")
		client.shutdown()
		return
	}

	g.reg.BindAgent(agentID, client)
	client.Push(frameConnected, gin.H{
		"agent_id": agentID,
		"name":     agent.DisplayName,
		"status":   registry.StatusOnline.String(),
	})

	// Service anything already queued before the first frame arrives.
	if n := g.dispatcher.DrainWaitingFor(context.WithoutCancel(ctx), agentID); n > 0 {
		g.logger.Info("drained waiting queue on agent connect", "agent_id", agentID, "assigned", n)
	}

	openConnections.WithLabelValues("agent").Inc()
	defer openConnections.WithLabelValues("agent").Dec()

	g.readPump(client, registry.Principal{Kind: registry.PrincipalAgent, ID: agentID})
}

func (g *Gateway) serveCustomer(c *gin.Context, client *Client) {
	ctx := c.Request.Context()
	uuid := c.Query("uuid")
	if uuid == "" {
		client.pushMessage(frameError, "uuid required")
		client.shutdown()
		return
	}

	customer, err := g.customers.GetOrCreate(ctx, uuid, models.Customer{
		RemoteAddr: c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		Locale:     c.GetHeader("Accept-Language"),
		SourcePage: c.Query("source"),
	})
	if err != nil {
		g.logger.Error("customer admission failed", "uuid", uuid, "error", err)
		client.pushMessage(frameError, "admission failed")
		client.shutdown()
		return
	}

	g.reg.BindCustomer(customer.ID, client)
	client.Push(frameConnected, gin.H{"customer_id": customer.ID, "uuid": customer.UUID})

	if convID, missed, err := g.dispatcher.OfflineHistory(ctx, customer.ID); err == nil && len(missed) > 0 {
		client.Push(frameOffline, gin.H{"conversation_id": convID, "messages": missed})
	}

	openConnections.WithLabelValues("customer").Inc()
	defer openConnections.WithLabelValues("customer").Dec()

	g.readPump(client, registry.Principal{Kind: registry.PrincipalCustomer, ID: customer.ID})
}

// readPump consumes inbound frames in order until the transport
// closes, then unbinds. Agents are not reassigned here; the heartbeat
// sweep handles an offline that persists, which keeps transient
// reconnects from thrashing conversations.
func (g *Gateway) readPump(client *Client, p registry.Principal) {
	defer func() {
		g.reg.UnbindBySession(client.Handle())
		client.shutdown()
	}()

	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.logger.Debug("websocket read error", "handle", client.Handle(), "error", err)
			}
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		g.handleFrame(client, p, raw)
	}
}

// handleFrame decodes and routes one inbound frame. A handler that
// fails internally logs and keeps the connection alive; malformed
// input is dropped.
func (g *Gateway) handleFrame(client *Client, p registry.Principal, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}
	ctx := context.Background()

	switch frame.Type {
	case frameTypePing:
		if p.Kind == registry.PrincipalAgent {
			g.reg.Heartbeat(p.ID)
		}
		client.Push(framePong, nil)

	case frameTypeMsg:
		var data messageData
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.Body == "" {
			return
		}
		kind := models.ParseContentKind(data.ContentKind)
		var err error
		if p.Kind == registry.PrincipalAgent {
			err = g.dispatcher.HandleAgentMessage(ctx, p.ID, data.ConversationID, kind, data.Body)
		} else {
			err = g.dispatcher.HandleCustomerMessage(ctx, p.ID, kind, data.Body)
		}
		g.logHandlerError("message", p, err)

	case frameTypeTyping:
		var data typingData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		g.logHandlerError("typing", p, g.dispatcher.HandleTyping(ctx, p, data.ConversationID, data.IsTyping))

	case frameTypeRead:
		var data readData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		g.logHandlerError("read", p, g.dispatcher.HandleRead(ctx, p, data.ConversationID))

	case frameTypeClose:
		if p.Kind != registry.PrincipalAgent {
			return
		}
		var data closeData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		g.logHandlerError("close", p, g.dispatcher.CloseConversation(ctx, p.ID, data.ConversationID, false))

	case frameTypeStatus:
		if p.Kind != registry.PrincipalAgent {
			return
		}
		var data statusData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return
		}
		status, ok := parseStatus(data.Status)
		if !ok {
			return
		}
		g.reg.SetStatus(p.ID, status)
		client.Push(frameStatusChanged, gin.H{"status": status.String()})

	default:
		// Unrecognized frame types are dropped.
	}
}

// logHandlerError keeps permission and ownership violations at debug;
// they are malformed clients, not incidents.
func (g *Gateway) logHandlerError(op string, p registry.Principal, err error) {
	if err == nil {
		return
	}
	g.logger.Debug("frame handler error", "op", op, "kind", p.Kind.String(), "id", p.ID, "error", err)
}

func parseStatus(s string) (registry.Status, bool) {
	switch s {
	case "online":
		return registry.StatusOnline, true
	case "busy":
		return registry.StatusBusy, true
	case "offline":
		return registry.StatusOffline, true
	}
	return registry.StatusOffline, false
}
