// Package pyproxy implements spec.md §4.F/§4.G: the PyPI-facing gin
// handlers (list, download, publish, delete) and the route table of §6,
// translating each request into internal/ociclient calls. Handlers stay
// small; the state machine lives in internal/ociclient.
package pyproxy

import (
	"github.com/AllexVeldman/pyoci/internal/ociclient"
)

// Service holds the dependencies every handler needs.
type Service struct {
	Client *ociclient.Client
	// PathPrefix is stripped from the request path before routing, per
	// spec.md §6 (PYOCI_PATH). Empty means mounted at root.
	PathPrefix string
}

func (s *Service) rootPath() string   { return s.PathPrefix + "/" }
func (s *Service) healthPath() string { return s.PathPrefix + "/health" }
