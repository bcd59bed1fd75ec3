package api

import (
	"context"

	"github.com/samcharles93/convtune/internal/conv"
)

// Select resolves one request. The CLI calls it directly; the HTTP handler
// wraps it.
func (s *Server) Select(ctx context.Context, req ProblemRequest) (SelectResponse, error) {
	p, err := req.Problem()
	if err != nil {
		return SelectResponse{}, err
	}
	pol, err := req.ApplyPolicy(s.base)
	if err != nil {
		return SelectResponse{}, err
	}
	b := s.selector.Discoverer.Backend
	if err := conv.Supports(p, pol, b.Device()); err != nil {
		return SelectResponse{}, err
	}
	sel, sig, err := s.selector.Select(ctx, p, pol, s.dualStream)
	if err != nil {
		return SelectResponse{}, err
	}
	return SelectResponse{
		ID:        newRequestID(),
		Name:      req.Name,
		Key:       sig.Key(),
		Backend:   b.Name(),
		Arch:      sig.Arch,
		Selection: sel,
	}, nil
}
