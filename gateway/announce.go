package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/semtrust/errors"
	"github.com/c360/semtrust/transport"
)

// Paths of the announcement exchange
const (
	AnnouncementPath = "get_announcement_id"
	SubscribePath    = "subscribe"
)

const (
	malformedRequest     = "Malformed json request"
	defaultMaxBodySize   = 64 << 10
	defaultHandleTimeout = 10 * time.Second
)

// Default POST /subscribe admission: 10 requests per second with a burst of 5
const (
	DefaultSubscribeRate  = rate.Limit(10)
	DefaultSubscribeBurst = 5
)

// Author is the stream side the exchange needs; *transport.Endpoint satisfies it
type Author interface {
	StreamAddress() transport.Address
	AcceptSubscription(ctx context.Context, addr transport.Address, identifier, topic string) (transport.Address, error)
}

// AnnouncementResponse is returned by GET /get_announcement_id
type AnnouncementResponse struct {
	AnnouncementID string `json:"announcement_id"`
}

// SubscriptionRequest is the body of POST /subscribe
type SubscriptionRequest struct {
	Address    string `json:"address"`
	Identifier string `json:"identifier"`
	IDType     uint8  `json:"idType"`
	Topic      string `json:"topic"`
}

// SubscriptionResponse is the success body of POST /subscribe
type SubscriptionResponse struct {
	Message string `json:"message"`
}

// PublisherAPI serves the announcement exchange for one author stream
type PublisherAPI struct {
	author  Author
	timeout time.Duration
	maxBody int64
	limiter *rate.Limiter
	logger  *slog.Logger
}

// APIOption configures a PublisherAPI
type APIOption func(*PublisherAPI)

// WithSubscribeLimit bounds how fast subscriptions are accepted
func WithSubscribeLimit(r rate.Limit, burst int) APIOption {
	return func(p *PublisherAPI) {
		p.limiter = rate.NewLimiter(r, burst)
	}
}

// NewPublisherAPI returns the handler set for author. logger may be nil.
func NewPublisherAPI(author Author, logger *slog.Logger, opts ...APIOption) *PublisherAPI {
	if logger == nil {
		logger = slog.Default()
	}
	p := &PublisherAPI{
		author:  author,
		timeout: defaultHandleTimeout,
		maxBody: defaultMaxBodySize,
		limiter: rate.NewLimiter(DefaultSubscribeRate, DefaultSubscribeBurst),
		logger:  logger.With("component", "publisher-api"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterHTTPHandlers implements HTTPHandler
func (p *PublisherAPI) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	prefix = normalizePrefix(prefix)
	mux.HandleFunc(prefix+AnnouncementPath, p.handleAnnouncement)
	mux.HandleFunc(prefix+SubscribePath, p.handleSubscribe)
}

func (p *PublisherAPI) handleAnnouncement(w http.ResponseWriter, r *http.Request) {
	allowAnyOrigin(w)
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed", p.logger)
		return
	}

	addr := p.author.StreamAddress()
	if addr == "" {
		writeError(w, http.StatusServiceUnavailable, "stream not created", p.logger)
		return
	}
	writeJSON(w, http.StatusOK, AnnouncementResponse{AnnouncementID: addr.String()}, p.logger)
}

func (p *PublisherAPI) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	allowAnyOrigin(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed", p.logger)
		return
	}

	id := requestID(r)
	w.Header().Set("X-Request-ID", id)
	logger := p.logger.With("request_id", id)

	if !p.limiter.Allow() {
		logger.Warn("subscription rate limited")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded", logger)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, p.maxBody+1))
	if err != nil || int64(len(body)) > p.maxBody {
		writeError(w, http.StatusBadRequest, malformedRequest, logger)
		return
	}

	req, ok := decodeSubscription(body)
	if !ok {
		logger.Warn("malformed subscription request")
		writeError(w, http.StatusBadRequest, malformedRequest, logger)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	keyload, err := p.author.AcceptSubscription(ctx, transport.Address(req.Address), req.Identifier, req.Topic)
	if err != nil {
		if errors.IsInvalid(err) {
			logger.Warn("subscription rejected", "address", req.Address, "error", err)
			writeError(w, http.StatusBadRequest, "invalid subscription", logger)
			return
		}
		logger.Error("subscription failed", "address", req.Address, "error", err)
		writeError(w, http.StatusInternalServerError, "subscription failed", logger)
		return
	}

	logger.Info("subscription processed", "topic", req.Topic, "keyload", keyload)
	writeJSON(w, http.StatusOK, SubscriptionResponse{
		Message: "Subscription processed, keyload link: " + keyload.String(),
	}, logger)
}

// decodeSubscription requires a JSON object with an address and a topic
func decodeSubscription(body []byte) (SubscriptionRequest, bool) {
	var req SubscriptionRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&req); err != nil {
		return SubscriptionRequest{}, false
	}
	if dec.More() || req.Address == "" || req.Topic == "" {
		return SubscriptionRequest{}, false
	}
	return req, true
}

func allowAnyOrigin(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
