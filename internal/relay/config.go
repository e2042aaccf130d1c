package relay

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/edgerelay/internal/notify"
)

var (
	ErrAddrRequired    = errors.New("relay: addr required")
	ErrDataDirRequired = errors.New("relay: data_dir required")
	ErrInvalidLimit    = errors.New("relay: max_message_bytes must be positive")
)

// NotifyConfig configures the optional registration notifier.
type NotifyConfig struct {
	Enabled    bool
	BotToken   string
	ChatID     string
	APIBase    string
	RatePerSec float64
	QueueSize  int
}

// ServiceConfig configures the relay runtime.
type ServiceConfig struct {
	Addr    string
	DataDir string
	// AccessToken gates the operator routes. Empty denies every gated request.
	AccessToken        string
	AgentTokenRequired bool
	CorsOrigins        []string
	MaxMessageBytes    int64
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	IngestRatePerSec   float64
	IngestBurst        int
	Notify             NotifyConfig
}

// Relay service defaults for standalone runtime configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Addr:            ":8080",
		DataDir:         "data",
		CorsOrigins:     []string{"*"},
		MaxMessageBytes: 32 << 20,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Notify: NotifyConfig{
			APIBase:    notify.DefaultTelegramAPIBase,
			RatePerSec: 1,
			QueueSize:  64,
		},
	}
}

// Validate checks the fields the service cannot run without.
func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return ErrAddrRequired
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return ErrDataDirRequired
	}
	if c.MaxMessageBytes <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

func (c ServiceConfig) logsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

func (c ServiceConfig) filesDir() string {
	return filepath.Join(c.DataDir, "files")
}

func (c ServiceConfig) snapshotPath() string {
	return filepath.Join(c.logsDir(), "clients.json")
}
