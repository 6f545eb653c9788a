// Package p2p carries signing requests between wallets and validators over
// HTTP. A Node serves one validator; a Client fans requests out to all of
// them.
package p2p

import (
	"context"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"privwallet/internal/health"
	"privwallet/internal/metrics"
	"privwallet/internal/signer"
	"privwallet/internal/transactions"
	"privwallet/internal/transactions/register"
	"privwallet/internal/utt"
)

const requestIDHeader = "X-Request-ID"

// Node is a validator's HTTP endpoint.
type Node struct {
	ID      string
	signer  *signer.CoinsSigner
	app     *fiber.App
	log     zerolog.Logger
	health  *health.Checker
	metrics *metrics.Collector
	timeout time.Duration

	rateMax    int
	rateWindow time.Duration
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithNodeLogger sets the node's logger.
func WithNodeLogger(l zerolog.Logger) NodeOption { return func(n *Node) { n.log = l } }

// WithHealth serves c on GET /health.
func WithHealth(c *health.Checker) NodeOption { return func(n *Node) { n.health = c } }

// WithNodeMetrics serves c in the Prometheus text format on GET /metrics.
func WithNodeMetrics(c *metrics.Collector) NodeOption { return func(n *Node) { n.metrics = c } }

// WithRateLimit allows max requests per client address in any sliding window
// of the given length. max <= 0 disables limiting.
func WithRateLimit(max int, window time.Duration) NodeOption {
	return func(n *Node) { n.rateMax, n.rateWindow = max, window }
}

// WithRequestTimeout bounds how long a single signing request may take.
func WithRequestTimeout(d time.Duration) NodeOption { return func(n *Node) { n.timeout = d } }

// NewNode builds the HTTP app for s. Call Listen or Serve to start it.
func NewNode(id string, s *signer.CoinsSigner, opts ...NodeOption) *Node {
	n := &Node{ID: id, signer: s, log: zerolog.Nop(), timeout: 30 * time.Second}
	for _, o := range opts {
		o(n)
	}
	n.log = n.log.With().Str("node", id).Logger()
	n.app = fiber.New(fiber.Config{
		AppName:               "validatord " + id,
		ReadTimeout:           n.timeout,
		WriteTimeout:          n.timeout,
		DisableStartupMessage: true,
	})
	n.app.Use(n.requestID)
	n.app.Use(healthcheck.New(healthcheck.Config{ReadinessProbe: n.ready}))
	if n.rateMax > 0 {
		n.app.Use(limiter.New(limiter.Config{
			Max:               n.rateMax,
			Expiration:        n.rateWindow,
			KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
			LimiterMiddleware: limiter.SlidingWindow{},
			LimitReached:      n.rateLimited,
		}))
	}
	n.app.Post("/v1/messages", n.messageHandler)
	n.app.Get("/health", n.healthHandler)
	if n.metrics != nil {
		n.app.Get("/metrics", adaptor.HTTPHandler(n.metrics.Handler()))
	}
	return n
}

// App exposes the fiber app, mostly for app.Test.
func (n *Node) App() *fiber.App { return n.app }

// Listen serves on addr until Shutdown.
func (n *Node) Listen(addr string) error {
	n.log.Info().Str("addr", addr).Msg("validator listening")
	return n.app.Listen(addr)
}

// Serve serves on an existing listener until Shutdown.
func (n *Node) Serve(ln net.Listener) error {
	n.log.Info().Str("addr", ln.Addr().String()).Msg("validator listening")
	return n.app.Listener(ln)
}

// Shutdown stops the server, waiting for in-flight requests.
func (n *Node) Shutdown(ctx context.Context) error {
	return n.app.ShutdownWithContext(ctx)
}

func (n *Node) requestID(c *fiber.Ctx) error {
	id := c.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
		c.Set(requestIDHeader, id)
	}
	c.Locals(requestIDHeader, id)
	return c.Next()
}

func (n *Node) rateLimited(c *fiber.Ctx) error {
	n.log.Warn().Str("client", c.IP()).Msg("rate limit exceeded")
	return c.Status(fiber.StatusTooManyRequests).JSON(Reply{
		Validator: n.signer.Index(),
		Error:     &ErrorBody{Code: "rate_limited", Message: "too many requests"},
	})
}

// ready backs GET /readyz: the node takes requests unless a component is
// unhealthy.
func (n *Node) ready(*fiber.Ctx) bool {
	return n.health == nil || n.health.Check().Status != health.Unhealthy
}

// httpStatus maps a signing failure to a response code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, utt.ErrNullifierReused), errors.Is(err, utt.ErrAlreadyRegistered):
		return fiber.StatusConflict
	case errors.Is(err, utt.ErrInvalidArgument):
		return fiber.StatusBadRequest
	}
	switch utt.KindOf(err) {
	case utt.KindValidation, utt.KindConfiguration:
		return fiber.StatusUnprocessableEntity
	case utt.KindCollaborator:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (n *Node) messageHandler(c *fiber.Ctx) error {
	var msg Message
	if err := c.BodyParser(&msg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(Reply{
			Validator: n.signer.Index(),
			Error:     errorBody(errors.Wrap(utt.ErrInvalidArgument, "invalid request body")),
		})
	}
	log := n.log.With().
		Str("type", msg.Type).
		Str("sender", msg.SenderID).
		Interface("request_id", c.Locals(requestIDHeader)).
		Logger()

	ctx, cancel := context.WithTimeout(c.UserContext(), n.timeout)
	defer cancel()
	payload, err := n.dispatch(ctx, msg)
	if err != nil {
		code := httpStatus(err)
		body := errorBody(err)
		if code == fiber.StatusInternalServerError {
			log.Error().Err(err).Msg("request failed")
			body = &ErrorBody{Message: "internal error"}
		} else {
			log.Warn().Err(err).Int("status", code).Msg("request rejected")
		}
		return c.Status(code).JSON(Reply{Validator: n.signer.Index(), Error: body})
	}
	log.Debug().Int("bytes", len(payload)).Msg("request served")
	return c.JSON(Reply{Validator: n.signer.Index(), Payload: payload})
}

func (n *Node) dispatch(ctx context.Context, msg Message) ([]byte, error) {
	switch msg.Type {
	case MsgSignTx:
		tx, err := transactions.Unmarshal(msg.Payload)
		if err != nil {
			return nil, err
		}
		shares, err := n.signer.Sign(ctx, tx)
		if err != nil {
			return nil, err
		}
		return cbor.Marshal(shares)
	case MsgSignRegistration:
		req, err := register.UnmarshalRequest(msg.Payload)
		if err != nil {
			return nil, err
		}
		resp, err := n.signer.SignRegistration(ctx, req)
		if err != nil {
			return nil, err
		}
		return cbor.Marshal(resp)
	default:
		return nil, errors.Wrapf(utt.ErrInvalidArgument, "unknown message type %q", msg.Type)
	}
}

func (n *Node) healthHandler(c *fiber.Ctx) error {
	if n.health == nil {
		return c.JSON(fiber.Map{"status": health.Healthy})
	}
	report := n.health.Check()
	status := fiber.StatusOK
	if report.Status == health.Unhealthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(report)
}
