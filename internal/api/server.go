package api

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/samcharles93/convtune/internal/conv"
)

// Server exposes algorithm selection over HTTP.
type Server struct {
	selector   *conv.Selector
	base       conv.Policy
	dualStream bool
}

// NewServer serves selections from sel. Requests without a policy use base.
func NewServer(sel *conv.Selector, base conv.Policy, dualStream bool) *Server {
	return &Server{
		selector:   sel,
		base:       base,
		dualStream: dualStream,
	}
}

// Register mounts the health, selection and registry routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/select", s.handleSelect)
	e.GET("/v1/registry", s.handleRegistry)
	e.GET("/v1/registry/stats", s.handleRegistryStats)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"backend": s.selector.Discoverer.Backend.Name(),
		"device":  s.selector.Discoverer.Backend.Device(),
	})
}

func (s *Server) handleSelect(c *echo.Context) error {
	req, err := decodeJSON[ProblemRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	resp, err := s.Select(c.Request().Context(), req)
	if err != nil {
		return writeSelectError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRegistry(c *echo.Context) error {
	reg := s.selector.Registry
	return c.JSON(http.StatusOK, RegistryResponse{
		Object:  "list",
		Entries: reg.Snapshot(),
		Stats:   reg.Stats(),
	})
}

func (s *Server) handleRegistryStats(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.selector.Registry.Stats())
}

func writeSelectError(c *echo.Context, err error) error {
	class := classify(err)
	return writeError(c, class.status, class.typ, err.Error(), class.param, class.code)
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func newRequestID() string {
	return "sel_" + uuid.NewString()
}
