package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/observability/metrics"
	"github.com/aryan0dhankhar/fleetdesk/internal/security/middleware"
)

const (
	eventBuffer    = 64
	pingInterval   = 15 * time.Second
	writeDeadline  = 5 * time.Second
	tenantQueryKey = "tenant"
)

// EventsHandler streams credential changes and order transitions over a websocket
type EventsHandler struct {
	bus            domain.EventBus
	memberships    domain.MembershipRepository
	logger         *slog.Logger
	allowedOrigins []string
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(bus domain.EventBus, memberships domain.MembershipRepository, logger *slog.Logger, allowedOrigins []string) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{bus: bus, memberships: memberships, logger: logger, allowedOrigins: allowedOrigins}
}

// upgrader is initialized per-request to use instance's allowed origins
func (h *EventsHandler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Allow requests with no origin (e.g., non-browser clients)
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if allowed == "*" || origin == allowed {
					return true
				}
			}
			h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
}

// subjects resolves what the caller may listen to: its own credential
// changes, plus order transitions of its home tenant or of ?tenant= when it
// holds a membership there.
func (h *EventsHandler) subjects(r *http.Request, id *middleware.Identity) ([]string, error) {
	out := []string{domain.CredentialSubject(id.Token.IdentityID)}

	tenantID := r.URL.Query().Get(tenantQueryKey)
	if tenantID == "" {
		if id.Token.Provisioned() {
			out = append(out, domain.OrderSubject(id.Token.Claims.TenantID))
		}
		return out, nil
	}
	if id.Token.Provisioned() && id.Token.Claims.TenantID == tenantID {
		return append(out, domain.OrderSubject(tenantID)), nil
	}
	if _, err := h.memberships.Get(r.Context(), id.Token.IdentityID, tenantID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrForbidden
		}
		return nil, err
	}
	return append(out, domain.OrderSubject(tenantID)), nil
}

// ServeHTTP handles GET /ws/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	if id == nil {
		writeMessage(w, http.StatusUnauthorized, "missing auth")
		return
	}
	subjects, err := h.subjects(r, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	logger := h.logger.With(slog.String("identity_id", id.Token.IdentityID))
	out := make(chan domain.EventEnvelope, eventBuffer)
	for _, subject := range subjects {
		unsub, err := h.bus.Subscribe(subject, func(subject string, payload []byte) {
			env := domain.EventEnvelope{Type: eventType(subject), Subject: subject, Data: json.RawMessage(payload)}
			select {
			case out <- env:
			default:
				logger.Warn("dropping event for slow subscriber", slog.String("subject", subject))
			}
		})
		if err != nil {
			writeError(w, h.logger, r, err)
			return
		}
		defer unsub()
	}

	// Subscribed before the upgrade so nothing published after the
	// handshake is missed.
	upgrader := h.getUpgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	metrics.SubscriberConnected()
	defer metrics.SubscriberDisconnected()
	logger.Debug("event subscriber connected", slog.Any("subjects", subjects))

	if err := h.stream(ws, out); err != nil {
		logger.Debug("event streaming ended", slog.String("reason", err.Error()))
	}
}

// stream forwards envelopes until the peer goes away.
func (h *EventsHandler) stream(ws *websocket.Conn, out <-chan domain.EventEnvelope) error {
	// The read loop only drains control frames and notices the close.
	closed := make(chan error, 1)
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				closed <- err
				return
			}
		}
	}()

	// Heartbeat ping to keep connection alive
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-closed:
			return err
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeDeadline)); err != nil {
				return err
			}
		case env := <-out:
			_ = ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := ws.WriteJSON(env); err != nil {
				return err
			}
		}
	}
}

func eventType(subject string) string {
	if strings.HasSuffix(subject, ".credentials") {
		return domain.EventCredentialChanged
	}
	return domain.EventOrderTransitioned
}
