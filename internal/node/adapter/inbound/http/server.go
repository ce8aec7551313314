package http_handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/anthanhphan/go-distributed-kv/internal/node/domain"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/go-distributed-kv/internal/node/service"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	sdklogger "github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Server is the administrative HTTP surface of a node.
type Server struct {
	app     *fiber.App
	addr    string
	service port.ManagementService
}

func NewServer(addr string, svc port.ManagementService) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{
		app:     app,
		addr:    addr,
		service: svc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/ring/token", s.handleToken)
	s.app.Put("/ring/token", s.handleMoveToken)
	s.app.Get("/ring/ranges", s.handleRanges)
	s.app.Get("/ring/splits", s.handleSplits)
	s.app.Get("/ring/endpoints", s.handleKeyEndpoints)
	s.app.Delete("/ring/endpoints/:host", s.handleRemoveEndpoint)

	s.app.Get("/nodes/live", s.handleLiveNodes)
	s.app.Get("/nodes/unreachable", s.handleUnreachableNodes)
	s.app.Get("/nodes/load", s.handleLoad)
	s.app.Get("/node/generation", s.handleGeneration)
	s.app.Get("/node/state", s.handleState)

	s.app.Get("/repair/stats", s.handleRepairStats)
	s.app.Get("/stages", s.handleStages)
	s.app.Get("/peers/breakers", s.handlePeerBreakers)

	s.app.Post("/tables/cleanup", s.handleCleanup)
	s.app.Post("/tables/compact", s.handleCompact)
	s.app.Post("/tables/:table/flush", s.handleFlush)
	s.app.Post("/tables/:table/snapshot", s.handleSnapshot)
	s.app.Post("/snapshots", s.handleSnapshotAll)
	s.app.Delete("/snapshots", s.handleClearSnapshots)
	s.app.Post("/handoff", s.handleHandoff)

	s.app.Put("/data/:table/:key", s.handleInsert)
	s.app.Get("/data/:table/:key", s.handleRead)
}

// App exposes the fiber app for in-process requests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Start() error {
	return s.app.Listen(s.addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) sendJSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

// sendServiceError maps service failures to HTTP statuses.
func (s *Server) sendServiceError(c *fiber.Ctx, op string, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, port.ErrTableNotFound), errors.Is(err, port.ErrRowNotFound), errors.Is(err, service.ErrUnknownEndPoint):
		status = fiber.StatusNotFound
	case errors.Is(err, service.ErrUnavailable), errors.Is(err, service.ErrNotStarted), errors.Is(err, service.ErrEmptyRing):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, service.ErrInvalidSplitCount), errors.Is(err, domain.ErrEmptyMutation), errors.Is(err, service.ErrNothingToHandoff):
		status = fiber.StatusBadRequest
	case errors.Is(err, service.ErrLocalEndPoint):
		status = fiber.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = fiber.StatusGatewayTimeout
	}
	if status >= fiber.StatusInternalServerError {
		sdklogger.Warnw("Admin operation failed", "op", op, "status", status, "error", err.Error())
	}
	return s.sendJSONError(c, status, fmt.Sprintf("%s failed: %v", op, err))
}

func (s *Server) handleToken(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"token": s.service.Token().String()})
}

type moveTokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleMoveToken(c *fiber.Ctx) error {
	var req moveTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	token, err := ring.ParseToken(req.Token)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, fmt.Sprintf("Invalid token: %v", err))
	}
	if err := s.service.UpdateToken(token); err != nil {
		return s.sendServiceError(c, "Token move", err)
	}
	return c.JSON(fiber.Map{"token": token.String()})
}

func (s *Server) handleRanges(c *fiber.Ctx) error {
	return c.JSON(s.service.RangeToEndPointMap())
}

func (s *Server) handleSplits(c *fiber.Ctx) error {
	n := c.QueryInt("n", 2)
	tokens, err := s.service.GetSplits(n)
	if err != nil {
		return s.sendServiceError(c, "Split listing", err)
	}
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.String()
	}
	return c.JSON(fiber.Map{"tokens": out})
}

func (s *Server) handleKeyEndpoints(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Missing 'key' query parameter")
	}
	primary, err := s.service.PrimaryOwner([]byte(key))
	if err != nil {
		return s.sendServiceError(c, "Owner lookup", err)
	}
	return c.JSON(fiber.Map{
		"primary":  primary,
		"replicas": s.service.ReadEndpoints([]byte(key)),
	})
}

func (s *Server) handleRemoveEndpoint(c *fiber.Ctx) error {
	host := c.Params("host")
	if err := s.service.RemoveTokenState(host); err != nil {
		return s.sendServiceError(c, "Endpoint removal", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleLiveNodes(c *fiber.Ctx) error {
	return c.JSON(s.service.LiveNodes())
}

func (s *Server) handleUnreachableNodes(c *fiber.Ctx) error {
	return c.JSON(s.service.UnreachableNodes())
}

func (s *Server) handleLoad(c *fiber.Ctx) error {
	return c.JSON(s.service.LoadMap())
}

func (s *Server) handleGeneration(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"generation": s.service.Generation()})
}

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"state": s.service.State()})
}

func (s *Server) handleRepairStats(c *fiber.Ctx) error {
	return c.JSON(s.service.RepairStats())
}

func (s *Server) handleStages(c *fiber.Ctx) error {
	return c.JSON(s.service.StageStats())
}

func (s *Server) handlePeerBreakers(c *fiber.Ctx) error {
	return c.JSON(s.service.PeerBreakers())
}

func (s *Server) handleCleanup(c *fiber.Ctx) error {
	if err := s.service.ForceTableCleanup(c.UserContext()); err != nil {
		return s.sendServiceError(c, "Cleanup", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleCompact(c *fiber.Ctx) error {
	if err := s.service.ForceTableCompaction(c.UserContext()); err != nil {
		return s.sendServiceError(c, "Compaction", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleFlush(c *fiber.Ctx) error {
	if err := s.service.ForceTableFlush(c.Params("table")); err != nil {
		return s.sendServiceError(c, "Flush", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func snapshotTag(c *fiber.Ctx) string {
	if tag := c.Query("tag"); tag != "" {
		return tag
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	tag := snapshotTag(c)
	if err := s.service.TakeSnapshot(c.Params("table"), tag); err != nil {
		return s.sendServiceError(c, "Snapshot", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"table": c.Params("table"), "tag": tag})
}

func (s *Server) handleSnapshotAll(c *fiber.Ctx) error {
	tag := snapshotTag(c)
	if err := s.service.TakeAllSnapshot(tag); err != nil {
		return s.sendServiceError(c, "Snapshot", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"tag": tag})
}

func (s *Server) handleClearSnapshots(c *fiber.Ctx) error {
	if err := s.service.ClearSnapshot(); err != nil {
		return s.sendServiceError(c, "Snapshot removal", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type handoffRequest struct {
	Directories []string `json:"directories"`
	Host        string   `json:"host"`
}

func (s *Server) handleHandoff(c *fiber.Ctx) error {
	var req handoffRequest
	if err := c.BodyParser(&req); err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if len(req.Directories) == 0 || req.Host == "" {
		return s.sendJSONError(c, fiber.StatusBadRequest, "'directories' and 'host' are required")
	}

	var target *ring.EndPoint
	for _, ep := range s.service.LiveNodes() {
		if ep.Host == req.Host {
			ep := ep
			target = &ep
			break
		}
	}
	if target == nil {
		return s.sendJSONError(c, fiber.StatusNotFound, fmt.Sprintf("Host %s is not a live node", req.Host))
	}

	res, err := s.service.ForceHandoff(c.UserContext(), req.Directories, *target)
	if err != nil {
		return s.sendServiceError(c, "Handoff", err)
	}
	return c.JSON(res)
}

type insertRequest struct {
	Columns     []domain.Column `json:"columns"`
	Consistency string          `json:"consistency"`
}

func (s *Server) handleInsert(c *fiber.Ctx) error {
	var req insertRequest
	if err := c.BodyParser(&req); err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	level, err := domain.ParseConsistencyLevel(req.Consistency)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}

	now := time.Now().UnixMicro()
	for i := range req.Columns {
		if req.Columns[i].Timestamp == 0 {
			req.Columns[i].Timestamp = now
		}
	}
	m := domain.Mutation{Table: c.Params("table"), Key: c.Params("key"), Columns: req.Columns}
	if err := s.service.Insert(c.UserContext(), m, level); err != nil {
		return s.sendServiceError(c, "Insert", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleRead(c *fiber.Ctx) error {
	level, err := domain.ParseConsistencyLevel(c.Query("consistency"))
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	row, err := s.service.Read(c.UserContext(), domain.ReadCommand{Table: c.Params("table"), Key: c.Params("key")}, level)
	if err != nil {
		return s.sendServiceError(c, "Read", err)
	}
	return c.JSON(row)
}
