// Package config provides loading for the two YAML inputs of the automation
// loop: config.yaml (tool settings) and phases.yaml (the module/phase plan).
// A missing config.yaml returns sane defaults without error. Unmarshalling
// happens into a pre-populated defaults struct, so keys absent from the file
// keep their default while explicitly set zero values override it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tbarron/phaser/internal/types"
)

// ErrNotFound is returned by LoadPhases when the phases file does not exist.
var ErrNotFound = errors.New("file not found")

// ParseError is returned when a YAML input exists but cannot be unmarshalled.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Config holds all settings for the automation loop.
type Config struct {
	Project    ProjectConfig    `yaml:"project"`
	Simulator  SimulatorConfig  `yaml:"simulator"`
	Assistant  AssistantConfig  `yaml:"assistant"`
	Automation AutomationConfig `yaml:"automation"`
	Git        GitConfig        `yaml:"git"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`

	StateDir       string `yaml:"state_dir"`
	PhasesFile     string `yaml:"phases_file"`
	PromptsDir     string `yaml:"prompts_dir"`
	ScreenshotsDir string `yaml:"screenshots_dir"`
	LogDir         string `yaml:"log_dir"`
}

// ProjectConfig identifies the Xcode project under automation.
type ProjectConfig struct {
	Path       string `yaml:"path"`        // .xcodeproj or .xcworkspace
	Scheme     string `yaml:"scheme"`
	TestScheme string `yaml:"test_scheme"` // defaults to Scheme when empty
	BundleID   string `yaml:"bundle_id"`
}

// SimulatorConfig selects the simulator destination.
type SimulatorConfig struct {
	Name string `yaml:"name"`
	OS   string `yaml:"os"`
	UDID string `yaml:"udid"` // explicit UDID overrides name/OS lookup
}

// AssistantConfig configures the coding assistant CLI.
type AssistantConfig struct {
	Command        string `yaml:"command"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AutomationConfig holds the retry, pacing, and timeout policy.
type AutomationConfig struct {
	MaxRetriesPerPhase  int  `yaml:"max_retries_per_phase"`
	MaxSameErrorRetries int  `yaml:"max_same_error_retries"`
	PauseBetweenPhases  int  `yaml:"pause_between_phases_seconds"`
	ConfirmationTimeout int  `yaml:"confirmation_timeout_seconds"`
	BuildTimeoutSeconds int  `yaml:"build_timeout_seconds"`
	TestTimeoutSeconds  int  `yaml:"test_timeout_seconds"`
	CaptureScreenshots  bool `yaml:"capture_screenshots"`
	ScreenshotDelay     int  `yaml:"screenshot_delay_seconds"`
	HeartbeatInterval   int  `yaml:"heartbeat_interval_seconds"`

	RateLimitBaseWait   int     `yaml:"rate_limit_base_wait_seconds"`
	RateLimitMaxWait    int     `yaml:"rate_limit_max_wait_seconds"`
	RateLimitMultiplier float64 `yaml:"rate_limit_backoff_multiplier"`
	DelayBetweenCalls   int     `yaml:"delay_between_calls_seconds"`
	DelayAfterFailure   int     `yaml:"delay_after_failure_seconds"`
}

// GitConfig controls the commit step.
type GitConfig struct {
	Enabled               bool   `yaml:"enabled"`
	AutoCommit            bool   `yaml:"auto_commit"`
	AutoPush              bool   `yaml:"auto_push"`
	CommitMessageTemplate string `yaml:"commit_message_template"`
}

// AnalyticsConfig locates the SQLite analytics database.
type AnalyticsConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// DashboardConfig controls the push-only JSON dashboard projections.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Defaults returns a Config populated with sane defaults.
func Defaults() Config {
	return Config{
		Assistant: AssistantConfig{
			Command:        "claude",
			TimeoutSeconds: 600,
		},
		Automation: AutomationConfig{
			MaxRetriesPerPhase:  15,
			MaxSameErrorRetries: 3,
			PauseBetweenPhases:  5,
			ConfirmationTimeout: 20,
			BuildTimeoutSeconds: 180,
			TestTimeoutSeconds:  300,
			CaptureScreenshots:  true,
			ScreenshotDelay:     3,
			HeartbeatInterval:   30,
			RateLimitBaseWait:   60,
			RateLimitMaxWait:    900,
			RateLimitMultiplier: 2.0,
			DelayBetweenCalls:   5,
			DelayAfterFailure:   10,
		},
		Git: GitConfig{
			Enabled:               true,
			AutoCommit:            true,
			CommitMessageTemplate: "feat({{.Module}}): Phase {{.PhaseID}} - {{.PhaseName}}",
		},
		Analytics: AnalyticsConfig{
			DatabasePath: "state/analytics.db",
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Dir:     "dashboard/data",
		},
		StateDir:       "state",
		PhasesFile:     "config/phases.yaml",
		PromptsDir:     "phases",
		ScreenshotsDir: "screenshots",
		LogDir:         "logs",
	}
}

// Load reads config.yaml at path. If the file does not exist, defaults are
// returned without error. Keys present in the file override the defaults,
// including explicit zero values; absent keys keep the default.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	if cfg.Project.TestScheme == "" {
		cfg.Project.TestScheme = cfg.Project.Scheme
	}
	return &cfg, nil
}

// AssistantTimeout returns the assistant call timeout as a duration.
func (c *Config) AssistantTimeout() time.Duration {
	return time.Duration(c.Assistant.TimeoutSeconds) * time.Second
}

// BuildTimeout returns the build timeout as a duration.
func (c *Config) BuildTimeout() time.Duration {
	return time.Duration(c.Automation.BuildTimeoutSeconds) * time.Second
}

// TestTimeout returns the test timeout as a duration.
func (c *Config) TestTimeout() time.Duration {
	return time.Duration(c.Automation.TestTimeoutSeconds) * time.Second
}

// LoadPhases reads phases.yaml at path into an ordered module list.
// Returns ErrNotFound if the file is absent, or *ParseError on malformed
// YAML. Phases default tests_required to true when the key is absent,
// matching the behavior of the plan format.
func LoadPhases(path string) ([]types.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	// tests_required defaults to true; unmarshal through a shadow type with
	// a pointer field to distinguish absent from explicit false.
	type phaseShadow struct {
		ID            string   `yaml:"id"`
		Name          string   `yaml:"name"`
		PromptFile    string   `yaml:"prompt_file"`
		Description   string   `yaml:"description"`
		ExpectedFiles []string `yaml:"expected_files"`
		TestsRequired *bool    `yaml:"tests_required"`
		Screenshot    bool     `yaml:"screenshot"`
	}
	type moduleShadow struct {
		ID          string        `yaml:"id"`
		Name        string        `yaml:"name"`
		Description string        `yaml:"description"`
		Phases      []phaseShadow `yaml:"phases"`
	}
	var file struct {
		Modules []moduleShadow `yaml:"modules"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	modules := make([]types.Module, 0, len(file.Modules))
	for _, m := range file.Modules {
		mod := types.Module{ID: m.ID, Name: m.Name, Description: m.Description}
		for _, p := range m.Phases {
			required := true
			if p.TestsRequired != nil {
				required = *p.TestsRequired
			}
			mod.Phases = append(mod.Phases, types.Phase{
				ID:            p.ID,
				Name:          p.Name,
				PromptFile:    p.PromptFile,
				Description:   p.Description,
				ExpectedFiles: p.ExpectedFiles,
				TestsRequired: required,
				Screenshot:    p.Screenshot,
			})
		}
		modules = append(modules, mod)
	}
	return modules, nil
}

// Plan wraps the loaded module list with lookup helpers.
type Plan struct {
	Modules []types.Module

	phaseByID  map[string]types.Phase
	moduleByID map[string]string // phase id -> module id
}

// NewPlan builds lookup tables over modules. Phase ids are assumed unique
// across modules; the last occurrence wins on duplicates.
func NewPlan(modules []types.Module) *Plan {
	p := &Plan{
		Modules:    modules,
		phaseByID:  make(map[string]types.Phase),
		moduleByID: make(map[string]string),
	}
	for _, m := range modules {
		for _, ph := range m.Phases {
			p.phaseByID[ph.ID] = ph
			p.moduleByID[ph.ID] = m.ID
		}
	}
	return p
}

// AllPhases returns the flat, ordered phase list.
func (p *Plan) AllPhases() []types.Phase {
	var phases []types.Phase
	for _, m := range p.Modules {
		phases = append(phases, m.Phases...)
	}
	return phases
}

// Phase returns the phase with the given id, or false if unknown.
func (p *Plan) Phase(id string) (types.Phase, bool) {
	ph, ok := p.phaseByID[id]
	return ph, ok
}

// ModuleID returns the id of the module containing the given phase.
func (p *Plan) ModuleID(phaseID string) string {
	return p.moduleByID[phaseID]
}

// LoadPrompt reads the prompt file for a phase from the prompts directory.
func (p *Plan) LoadPrompt(promptsDir string, phase types.Phase) (string, error) {
	path := filepath.Join(promptsDir, phase.PromptFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("load prompt for phase %s: %w", phase.ID, err)
	}
	return string(data), nil
}
