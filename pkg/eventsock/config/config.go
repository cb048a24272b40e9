// Package config loads eventsock client and server settings from HCL files.
//
// A config file may hold one client block and one server block:
//
//	client {
//	  url           = "ws://localhost:8080/ws"
//	  dial_timeout  = "10s"
//	  authorization = "Bearer ${env.EVENTSOCK_TOKEN}"
//	  headers       = { "X-API-Key" = "key123" }
//	  read_limit    = 1048576
//	}
//
//	server {
//	  listen        = ":8080"
//	  path          = "/ws"
//	  ping_interval = "PT30S"
//	  authorization = "Bearer ${env.EVENTSOCK_TOKEN}"
//	  allow_events  = ["my event"]
//	}
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets/client"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets/server"
	"go.uber.org/zap"
)

const (
	DefaultListen      = ":8080"
	DefaultPath        = "/ws"
	DefaultDialTimeout = 30 * time.Second
)

// ClientConfig holds the settings of the event client.
type ClientConfig struct {
	URL              string
	DialTimeout      time.Duration
	Authorization    string
	Headers          map[string]string
	WriteChannelSize int
	ReadLimit        int64
}

// ServerConfig holds the settings of the responder server.
type ServerConfig struct {
	Listen       string
	Path         string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64

	// Authorization, when set, is the Authorization header every client must send.
	Authorization string
	// AllowEvents, when set, lists the event name patterns clients may emit.
	AllowEvents []string
}

// Config is the merged result of all config sources, with defaults applied.
type Config struct {
	Client ClientConfig
	Server ServerConfig
}

// ConfigBuilder collects config sources and decodes them.
type ConfigBuilder struct {
	logger  *zap.Logger
	sources []any
	evalCtx *hcl.EvalContext
}

type fileDefinition struct {
	Client *clientDefinition `hcl:"client,block"`
	Server *serverDefinition `hcl:"server,block"`
}

type clientDefinition struct {
	URL              string            `hcl:"url,optional"`
	DialTimeout      hcl.Expression    `hcl:"dial_timeout,optional"`
	Authorization    string            `hcl:"authorization,optional"`
	Headers          map[string]string `hcl:"headers,optional"`
	WriteChannelSize int               `hcl:"write_channel_size,optional"`
	ReadLimit        int64             `hcl:"read_limit,optional"`
	DefRange         hcl.Range         `hcl:",def_range"`
}

type serverDefinition struct {
	Listen        string         `hcl:"listen,optional"`
	Path          string         `hcl:"path,optional"`
	PingInterval  hcl.Expression `hcl:"ping_interval,optional"`
	ReadTimeout   hcl.Expression `hcl:"read_timeout,optional"`
	WriteTimeout  hcl.Expression `hcl:"write_timeout,optional"`
	ReadLimit     int64          `hcl:"read_limit,optional"`
	Authorization string         `hcl:"authorization,optional"`
	AllowEvents   []string       `hcl:"allow_events,optional"`
	DefRange      hcl.Range      `hcl:",def_range"`
}

// NewConfig creates a ConfigBuilder with no sources.
func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{
		logger:  zap.NewNop(),
		sources: make([]any, 0),
		evalCtx: NewEvalContext(),
	}
}

func (cb *ConfigBuilder) WithLogger(logger *zap.Logger) *ConfigBuilder {
	if logger != nil {
		cb.logger = logger
	}
	return cb
}

// WithEvalContext replaces the context expressions are evaluated in.
func (cb *ConfigBuilder) WithEvalContext(evalCtx *hcl.EvalContext) *ConfigBuilder {
	if evalCtx != nil {
		cb.evalCtx = evalCtx
	}
	return cb
}

// WithSources adds file paths, directory paths, fs.FS values or []byte HCL sources.
func (cb *ConfigBuilder) WithSources(sources ...any) *ConfigBuilder {
	cb.sources = append(cb.sources, sources...)
	return cb
}

// Default returns a Config holding only default values.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			DialTimeout: DefaultDialTimeout,
			ReadLimit:   client.DefaultReadLimit,
		},
		Server: ServerConfig{
			Listen:       DefaultListen,
			Path:         DefaultPath,
			PingInterval: server.DefaultPingInterval,
			ReadTimeout:  server.DefaultReadTimeout,
			WriteTimeout: server.DefaultWriteTimeout,
			ReadLimit:    server.DefaultReadLimit,
		},
	}
}

// Build parses and decodes every source. Each block type may appear only
// once across all sources.
func (cb *ConfigBuilder) Build() (*Config, hcl.Diagnostics) {
	config := Default()

	bodies, diags := ParseConfigFiles(cb.sources...)
	if diags.HasErrors() {
		return nil, diags
	}

	var clientDef *clientDefinition
	var serverDef *serverDefinition

	for _, body := range bodies {
		var def fileDefinition
		diags = diags.Extend(gohcl.DecodeBody(body, cb.evalCtx, &def))
		if diags.HasErrors() {
			return nil, diags
		}

		if def.Client != nil {
			if clientDef != nil {
				diags = diags.Append(duplicateBlock("client", clientDef.DefRange, def.Client.DefRange))
			}
			clientDef = def.Client
		}
		if def.Server != nil {
			if serverDef != nil {
				diags = diags.Append(duplicateBlock("server", serverDef.DefRange, def.Server.DefRange))
			}
			serverDef = def.Server
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}

	if clientDef != nil {
		diags = diags.Extend(applyClient(&config.Client, clientDef, cb.evalCtx))
	}
	if serverDef != nil {
		diags = diags.Extend(applyServer(&config.Server, serverDef, cb.evalCtx))
	}
	if diags.HasErrors() {
		return nil, diags
	}

	cb.logger.Debug("Configuration loaded",
		zap.Int("sources", len(cb.sources)),
		zap.Bool("client", clientDef != nil),
		zap.Bool("server", serverDef != nil),
	)

	return config, diags
}

func duplicateBlock(kind string, first, second hcl.Range) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  fmt.Sprintf("Duplicate %s block", kind),
		Detail:   fmt.Sprintf("A %s block is already defined at %s", kind, first),
		Subject:  second.Ptr(),
	}
}

func applyClient(cfg *ClientConfig, def *clientDefinition, evalCtx *hcl.EvalContext) hcl.Diagnostics {
	var diags hcl.Diagnostics

	cfg.URL = def.URL
	cfg.Authorization = def.Authorization

	if len(def.Headers) > 0 {
		cfg.Headers = make(map[string]string, len(def.Headers))
		for k, v := range def.Headers {
			cfg.Headers[k] = v
		}
	}

	if def.WriteChannelSize < 0 {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid write_channel_size",
			Detail:   "write_channel_size must not be negative",
			Subject:  def.DefRange.Ptr(),
		})
	}
	cfg.WriteChannelSize = def.WriteChannelSize

	// zero keeps the default, negative disables the limit
	if def.ReadLimit != 0 {
		cfg.ReadLimit = def.ReadLimit
	}

	d, ok, durDiags := GetDuration(def.DialTimeout, evalCtx)
	diags = diags.Extend(durDiags)
	if ok {
		if d == 0 {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid dial_timeout",
				Detail:   "dial_timeout must be greater than zero",
				Subject:  def.DialTimeout.Range().Ptr(),
			})
		}
		cfg.DialTimeout = d
	}

	return diags
}

func applyServer(cfg *ServerConfig, def *serverDefinition, evalCtx *hcl.EvalContext) hcl.Diagnostics {
	var diags hcl.Diagnostics

	if def.Listen != "" {
		cfg.Listen = def.Listen
	}
	if def.Path != "" {
		cfg.Path = def.Path
	}
	if def.ReadLimit != 0 {
		cfg.ReadLimit = def.ReadLimit
	}

	if def.Authorization != "" {
		if _, token, _ := strings.Cut(def.Authorization, " "); strings.TrimSpace(token) == "" {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid authorization",
				Detail:   `authorization must be a scheme followed by a credential, e.g. "Bearer s3cret"`,
				Subject:  def.DefRange.Ptr(),
			})
		}
		cfg.Authorization = def.Authorization
	}

	for _, pattern := range def.AllowEvents {
		if pattern == "" {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid allow_events",
				Detail:   "allow_events must not contain empty patterns",
				Subject:  def.DefRange.Ptr(),
			})
			break
		}
	}
	cfg.AllowEvents = def.AllowEvents

	// zero disables pings
	if d, ok, durDiags := GetDuration(def.PingInterval, evalCtx); ok {
		cfg.PingInterval = d
	} else {
		diags = diags.Extend(durDiags)
	}

	for _, field := range []struct {
		name   string
		expr   hcl.Expression
		target *time.Duration
	}{
		{"read_timeout", def.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", def.WriteTimeout, &cfg.WriteTimeout},
	} {
		d, ok, durDiags := GetDuration(field.expr, evalCtx)
		diags = diags.Extend(durDiags)
		if !ok {
			continue
		}
		if d == 0 {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  fmt.Sprintf("Invalid %s", field.name),
				Detail:   fmt.Sprintf("%s must be greater than zero", field.name),
				Subject:  field.expr.Range().Ptr(),
			})
			continue
		}
		*field.target = d
	}

	return diags
}
