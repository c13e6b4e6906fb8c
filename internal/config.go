package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/shape/internal/taskservice"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// DefaultProjectDir is the directory, relative to the project root, that
// holds the task file, briefs and cache.
const DefaultProjectDir = ".shape"

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Project ProjectConfig     `yaml:"project"`
	Cache   CacheConfig       `yaml:"cache"`
	Auth    AuthConfig        `yaml:"auth"`
	Agent   AgentConfig       `yaml:"agent"`
	Context ContextConfig     `yaml:"context"`
	Compact CompactConfig     `yaml:"compaction"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Project.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	if err := c.Context.Validate(); err != nil {
		return err
	}
	return c.Compact.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ProjectConfig locates the project. An empty Root means "discover from
// the working directory" (the enclosing git worktree, else the working
// directory itself).
type ProjectConfig struct {
	Root string `yaml:"root"`
	Dir  string `yaml:"dir"`
}

// Validate validates the project configuration.
func (c *ProjectConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required, validation.By(relativePath)),
	)
}

// Path returns the project directory under root.
func (c *ProjectConfig) Path(root string) string {
	return filepath.Join(root, c.Dir)
}

// CacheConfig holds the SQLite cache location. A relative path is
// resolved against the project root.
type CacheConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// Resolve returns the cache path for a project rooted at root.
func (c *CacheConfig) Resolve(root string) string {
	if filepath.IsAbs(c.Path) {
		return c.Path
	}
	return filepath.Join(root, c.Path)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// AgentConfig names who is acting and how long claims hold. Name is
// recorded on created tasks, claims and history; when empty it falls back
// to $SHAPE_AGENT, then $USER.
type AgentConfig struct {
	Name              string        `yaml:"name"`
	ClaimTimeout      time.Duration `yaml:"claim_timeout"`
	AutoUnclaimOnDone bool          `yaml:"auto_unclaim_on_done"`
}

// Validate validates the agent configuration.
func (c *AgentConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Length(0, 64)),
		validation.Field(&c.ClaimTimeout, validation.Required, validation.Min(time.Minute)),
	)
}

// EffectiveName returns the configured name or the first non-empty
// fallback.
func (c *AgentConfig) EffectiveName() string {
	for _, name := range []string{c.Name, os.Getenv("SHAPE_AGENT"), os.Getenv("USER")} {
		if name != "" {
			return name
		}
	}
	return "anonymous"
}

// ContextConfig tunes the context export.
type ContextConfig struct {
	// Days is how far back recently completed tasks reach.
	Days int `yaml:"days"`
}

// Validate validates the context configuration.
func (c *ContextConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Days, validation.Required, validation.Min(1)),
	)
}

// CompactConfig holds the defaults for "shape compact".
type CompactConfig struct {
	Days     int    `yaml:"days"`
	MinTasks int    `yaml:"min_tasks"`
	Strategy string `yaml:"strategy"`
}

// Validate validates the compaction configuration.
func (c *CompactConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Days, validation.Required, validation.Min(1)),
		validation.Field(&c.MinTasks, validation.Required, validation.Min(2)),
		validation.Field(&c.Strategy, validation.Required, validation.In(taskservice.StrategyBasic, taskservice.StrategySmart, taskservice.StrategyLLM)),
	)
}

func relativePath(v any) error {
	s, _ := v.(string)
	if filepath.IsAbs(s) {
		return fmt.Errorf("must be relative to the project root")
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Project: ProjectConfig{
			Dir: DefaultProjectDir,
		},
		Cache: CacheConfig{
			Path: filepath.Join(DefaultProjectDir, "cache.db"),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Agent: AgentConfig{
			ClaimTimeout:      4 * time.Hour,
			AutoUnclaimOnDone: true,
		},
		Context: ContextConfig{
			Days: 7,
		},
		Compact: CompactConfig{
			Days:     14,
			MinTasks: 3,
			Strategy: taskservice.StrategySmart,
		},
	}
}
