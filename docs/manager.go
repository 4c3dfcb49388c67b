// docs/manager.go
package docs

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dalemusser/nural/adapter"
	"github.com/dalemusser/nural/router"
	"go.uber.org/zap"
)

// ErrDisabled is returned by Spec when documentation is turned off.
var ErrDisabled = errors.New("docs: documentation is disabled")

// UI selects the documentation page.
type UI string

const (
	UIScalar  UI = "scalar"
	UISwagger UI = "swagger"
)

// Config controls the documentation endpoints.
type Config struct {
	Enabled bool
	// Path is where the UI is served; the documents live beneath it.
	// Default "/docs".
	Path string
	UI   UI
	Info Info
	Overrides
}

// Manager collects routes for the generator and mounts the endpoints.
type Manager struct {
	cfg    Config
	gen    *Generator
	logger *zap.Logger
}

// NewManager applies defaults to cfg.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Path = "/" + strings.Trim(cfg.Path, "/")
	if cfg.Path == "/" {
		cfg.Path = "/docs"
	}
	if cfg.UI != UISwagger {
		cfg.UI = UIScalar
	}
	return &Manager{cfg: cfg, gen: NewGenerator(cfg.Info, cfg.Overrides), logger: logger}
}

func (m *Manager) Enabled() bool { return m.cfg.Enabled }

func (m *Manager) Path() string { return m.cfg.Path }

// AddRoute documents r. It is a no-op when docs are disabled.
func (m *Manager) AddRoute(r router.Route) {
	if m.cfg.Enabled {
		m.gen.AddRoute(r)
	}
}

// Spec renders the document.
func (m *Manager) Spec() (*Document, error) {
	if !m.cfg.Enabled {
		return nil, ErrDisabled
	}
	return m.gen.Spec(), nil
}

// Setup mounts <path>/openapi.json, <path>/openapi.yaml and the UI page.
func (m *Manager) Setup(a adapter.ServerAdapter) error {
	if !m.cfg.Enabled {
		return nil
	}
	jsonPath := m.cfg.Path + "/openapi.json"
	yamlPath := m.cfg.Path + "/openapi.yaml"

	if err := a.RegisterStaticRoute(http.MethodGet, jsonPath, func(*http.Request) (adapter.StaticResponse, error) {
		doc, err := m.Spec()
		if err != nil {
			return adapter.StaticResponse{}, err
		}
		return adapter.StaticResponse{Type: "json", Data: doc}, nil
	}); err != nil {
		return err
	}

	if err := a.RegisterStaticRoute(http.MethodGet, yamlPath, func(*http.Request) (adapter.StaticResponse, error) {
		doc, err := m.Spec()
		if err != nil {
			return adapter.StaticResponse{}, err
		}
		out, err := doc.YAML()
		if err != nil {
			return adapter.StaticResponse{}, err
		}
		return adapter.StaticResponse{Type: "text", Data: out, ContentType: "application/yaml"}, nil
	}); err != nil {
		return err
	}

	if err := a.RegisterStaticRoute(http.MethodGet, m.cfg.Path, func(*http.Request) (adapter.StaticResponse, error) {
		page := scalarPage(m.cfg.Info.Title, jsonPath)
		if m.cfg.UI == UISwagger {
			page = swaggerPage(m.cfg.Info.Title, jsonPath)
		}
		return adapter.StaticResponse{Type: "html", Data: page}, nil
	}); err != nil {
		return err
	}

	m.logger.Info("docs available", zap.String("path", m.cfg.Path), zap.String("ui", string(m.cfg.UI)))
	return nil
}
