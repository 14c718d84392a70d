package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kardianos/service"

	"github.com/willibrandon/devicealarm/internal/config"
	"github.com/willibrandon/devicealarm/internal/logger"
)

// Exit codes used by the alarm-agent CLI.
const (
	ExitSuccess          = 0
	ExitPermissionDenied = 1
	ExitServiceExists    = 2
	ExitConfigError      = 3
	ExitServiceNotFound  = 1
	ExitAlreadyRunning   = 2
	ExitStartFailed      = 3
	ExitNotRunning       = 1
	ExitStopFailed       = 2
	ExitRestartFailed    = 2
	ExitStopped          = 2
	ExitUnhealthy        = 3
)

const serviceName = "alarm-agent"

// Service management errors.
var (
	ErrServiceInstalled    = errors.New("service already installed")
	ErrServiceNotInstalled = errors.New("service not installed")
	ErrServiceRunning      = errors.New("service already running")
	ErrServiceNotRunning   = errors.New("service not running")
)

// ServiceConfig holds configuration for creating the service.
type ServiceConfig struct {
	ConfigPath string
	UserMode   bool
	Debug      bool
}

// program implements service.Program.
type program struct {
	agent      *Agent
	configPath string
	debug      bool
}

// Start must return quickly; the agent starts in a goroutine.
func (p *program) Start(s service.Service) error {
	cfg, err := LoadConfig(p.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	InitLogging(cfg, p.debug, !service.Interactive())

	a, err := New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	p.agent = a

	go func() {
		if err := p.agent.Start(); err != nil {
			// The service manager restarts us.
			logger.Error("Agent start failed", "error", err)
			fmt.Fprintf(os.Stderr, "Agent start error: %v\n", err)
		}
	}()
	return nil
}

// Stop is called when the service stops.
func (p *program) Stop(s service.Service) error {
	defer logger.Close()
	if p.agent != nil {
		return p.agent.Stop()
	}
	return nil
}

// LoadConfig loads path, or the default config locations when path is empty.
func LoadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfigFromPath(path)
	}
	return config.LoadConfig()
}

// InitLogging configures the logger from cfg. debug forces debug level;
// background mirrors nothing to the console.
func InitLogging(cfg *config.Config, debug, background bool) {
	level := logger.ParseLevel(cfg.LogLevel)
	if debug || cfg.Debug {
		level = logger.LevelDebug
	}
	path := cfg.LogFile
	if path == "" {
		path = logger.DefaultPath()
	}
	logger.InitLogger(logger.Options{
		Level:   level,
		Path:    path,
		Console: !background,
	})
}

// NewService creates a new service instance.
func NewService(svcConfig ServiceConfig) (service.Service, error) {
	prg := &program{
		configPath: svcConfig.ConfigPath,
		debug:      svcConfig.Debug,
	}

	cfg := &service.Config{
		Name:        serviceName,
		DisplayName: "Device Alarm Agent",
		Description: "Evaluates device parameter rules and maintains the alarm lifecycle.",
	}

	userMode := svcConfig.UserMode
	if !userMode {
		userMode = isUserServiceInstalled()
	}
	if userMode {
		cfg.Option = service.KeyValue{"UserService": true}
	}

	switch runtime.GOOS {
	case "darwin":
		cfg.Option = mergeOptions(cfg.Option, service.KeyValue{
			"KeepAlive":      true,
			"RunAtLoad":      true,
			"LaunchOnlyOnce": false,
		})
	case "linux":
		cfg.Option = mergeOptions(cfg.Option, service.KeyValue{
			"Restart": "on-failure",
		})
	case "windows":
		cfg.Option = mergeOptions(cfg.Option, service.KeyValue{
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",
			"OnFailureResetPeriod":   10,
		})
	}

	cfg.Arguments = []string{"run"}
	if svcConfig.ConfigPath != "" {
		cfg.Arguments = append(cfg.Arguments, "--config", svcConfig.ConfigPath)
	}
	if svcConfig.Debug {
		cfg.Arguments = append(cfg.Arguments, "--debug")
	}

	return service.New(prg, cfg)
}

// mergeOptions merges additional into base.
func mergeOptions(base, additional service.KeyValue) service.KeyValue {
	if base == nil {
		base = service.KeyValue{}
	}
	for k, v := range additional {
		base[k] = v
	}
	return base
}

// Install installs the service.
func Install(svcConfig ServiceConfig) error {
	svc, err := NewService(svcConfig)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	if status, err := svc.Status(); err == nil && status != service.StatusUnknown {
		return ErrServiceInstalled
	}

	if err := svc.Install(); err != nil {
		if os.IsPermission(err) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("failed to install service: %w", err)
	}
	return nil
}

// Uninstall stops and removes the service.
func Uninstall() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := svc.Status()
	if err != nil || status == service.StatusUnknown {
		return ErrServiceNotInstalled
	}
	if status == service.StatusRunning {
		_ = svc.Stop()
	}

	if err := svc.Uninstall(); err != nil {
		if os.IsPermission(err) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("failed to uninstall service: %w", err)
	}
	return nil
}

// Start starts the installed service.
func Start() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := svc.Status()
	if err != nil {
		return ErrServiceNotInstalled
	}
	if status == service.StatusRunning {
		return ErrServiceRunning
	}

	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	return nil
}

// Stop stops the running service.
func Stop() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	status, err := svc.Status()
	if err != nil {
		return ErrServiceNotInstalled
	}
	if status != service.StatusRunning {
		return ErrServiceNotRunning
	}

	if err := svc.Stop(); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}
	return nil
}

// Restart restarts the service.
func Restart() error {
	svc, err := NewService(ServiceConfig{})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	if _, err := svc.Status(); err != nil {
		return ErrServiceNotInstalled
	}
	if err := svc.Restart(); err != nil {
		return fmt.Errorf("failed to restart service: %w", err)
	}
	return nil
}

// RunService runs the agent under the service manager, or in the
// foreground when started from a terminal. It blocks until stopped.
func RunService(svcConfig ServiceConfig) error {
	svc, err := NewService(svcConfig)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return svc.Run()
}

// GetStatus combines the service manager state with the status row the
// running agent keeps in the store.
func GetStatus(ctx context.Context, cfg *config.Config) (*Status, error) {
	status := &Status{Errors: []string{}}

	svcState := "not_installed"
	if svc, err := NewService(ServiceConfig{}); err == nil {
		if st, err := svc.Status(); err == nil {
			switch st {
			case service.StatusRunning:
				svcState = "running"
			case service.StatusStopped:
				svcState = "stopped"
			default:
				svcState = "unknown"
			}
		}
	}
	status.State = svcState

	// An agent started with "run" has no service but holds the PID file.
	if svcState != "running" {
		if running, _, _ := AgentRunning(DefaultPIDFilePath()); running {
			status.State = "running"
			status.Foreground = true
		}
	}

	if status.State == "running" && cfg != nil {
		if err := fillStatus(ctx, cfg, status); err != nil {
			status.Errors = append(status.Errors, err.Error())
		}
	}
	return status, nil
}

// PermissionError indicates an operation requires elevated privileges.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	if runtime.GOOS == "windows" {
		return "administrator privileges required"
	}
	return "permission denied (try with sudo)"
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// isUserServiceInstalled checks for the plist in the user's LaunchAgents.
func isUserServiceInstalled() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(homeDir, "Library", "LaunchAgents", serviceName+".plist"))
	return err == nil
}

// isSystemServiceInstalled checks for the plist in LaunchDaemons.
func isSystemServiceInstalled() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	_, err := os.Stat(filepath.Join("/Library/LaunchDaemons", serviceName+".plist"))
	return err == nil
}

// IsRunningAsRoot returns true if the process is running with root privileges.
func IsRunningAsRoot() bool {
	return os.Geteuid() == 0
}

// RequiresSudo returns true if the installed service requires sudo to manage.
func RequiresSudo() bool {
	return isSystemServiceInstalled() && !IsRunningAsRoot()
}
