// Package config предоставляет конфигурацию предиктивного governor для cmd/predictd и Beat.
// Теги yaml — для файла predictd.yml, теги config — для libbeat (ucfg).
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config — корневая конфигурация predictd
type Config struct {
	Governor GovernorConfig `yaml:"governor" config:"governor"`
	Model    ModelConfig    `yaml:"model" config:"model"`
	Paths    PathsConfig    `yaml:"paths" config:"paths"`
	Logging  LoggingConfig  `yaml:"logging" config:"logging"`
	HTTP     HTTPConfig     `yaml:"http" config:"http"`
	SSH      SSHConfig      `yaml:"ssh" config:"ssh"`
	Export   ExportConfig   `yaml:"export" config:"export"`
}

// GovernorConfig — контур управления
type GovernorConfig struct {
	SampleRate     string `yaml:"sample_rate" config:"sample_rate"`         // период такта, например "50ms"
	MinFreqChange  uint32 `yaml:"min_freq_change" config:"min_freq_change"` // порог гистерезиса, кГц
	CPUs           []int  `yaml:"cpus" config:"cpus"`                       // пусто — все доступные ядра
	DryRun         bool   `yaml:"dry_run" config:"dry_run"`                 // не писать в sysfs
	SwitchGovernor bool   `yaml:"switch_governor" config:"switch_governor"` // включить userspace governor при старте
}

// ModelConfig — параметры модели прогноза.
// Aggressiveness — указатель, чтобы отличать явный 0 от отсутствующего ключа.
type ModelConfig struct {
	Aggressiveness   *uint32 `yaml:"aggressiveness" config:"aggressiveness"`
	LearningRate     uint32  `yaml:"learning_rate" config:"learning_rate"`
	PredictionWindow string  `yaml:"prediction_window" config:"prediction_window"`
}

// PathsConfig — корни sysfs и procfs (переопределяются в тестах и контейнерах)
type PathsConfig struct {
	SysfsCPU string `yaml:"sysfs_cpu" config:"sysfs_cpu"`
	Proc     string `yaml:"proc" config:"proc"`
}

// LoggingConfig — уровень логов zap: debug, info, warn, error
type LoggingConfig struct {
	Level       string `yaml:"level" config:"level"`
	Development bool   `yaml:"development" config:"development"`
}

// HTTPConfig — HTTP API состояния и /metrics
type HTTPConfig struct {
	Enabled    bool   `yaml:"enabled" config:"enabled"`
	ListenAddr string `yaml:"listen_addr" config:"listen_addr"`
	Port       uint16 `yaml:"port" config:"port"`
}

// SSHConfig — консоль только для чтения
type SSHConfig struct {
	Enabled        bool   `yaml:"enabled" config:"enabled"`
	ListenAddr     string `yaml:"listen_addr" config:"listen_addr"`
	Port           uint16 `yaml:"port" config:"port"`
	HostKey        string `yaml:"host_key" config:"host_key"`               // PEM; создаётся, если файла нет
	AuthorizedKeys string `yaml:"authorized_keys" config:"authorized_keys"` // пусто — без аутентификации
}

// ExportConfig — отправка решений на удалённый коллектор по websocket
type ExportConfig struct {
	Enabled      bool   `yaml:"enabled" config:"enabled"`
	URL          string `yaml:"url" config:"url"`
	QueueSize    int    `yaml:"queue_size" config:"queue_size"`
	PingInterval string `yaml:"ping_interval" config:"ping_interval"`
}

// Значения по умолчанию
const (
	DefaultSampleRate       = "50ms"
	DefaultMinFreqChange    = 100000
	DefaultAggressiveness   = 50
	DefaultLearningRate     = 10
	DefaultPredictionWindow = "100ms"
	DefaultSysfsCPU         = "/sys/devices/system/cpu"
	DefaultProc             = "/proc"
	DefaultLogLevel         = "info"
	DefaultHTTPPort         = 8089
	DefaultSSHPort          = 2222
	DefaultQueueSize        = 256
	DefaultPingInterval     = "30s"
)

// Default возвращает конфиг по умолчанию
func Default() *Config {
	aggr := uint32(DefaultAggressiveness)
	return &Config{
		Governor: GovernorConfig{
			SampleRate:    DefaultSampleRate,
			MinFreqChange: DefaultMinFreqChange,
		},
		Model: ModelConfig{
			Aggressiveness:   &aggr,
			LearningRate:     DefaultLearningRate,
			PredictionWindow: DefaultPredictionWindow,
		},
		Paths: PathsConfig{
			SysfsCPU: DefaultSysfsCPU,
			Proc:     DefaultProc,
		},
		Logging: LoggingConfig{Level: DefaultLogLevel},
		HTTP:    HTTPConfig{Port: DefaultHTTPPort},
		SSH:     SSHConfig{Port: DefaultSSHPort},
		Export: ExportConfig{
			QueueSize:    DefaultQueueSize,
			PingInterval: DefaultPingInterval,
		},
	}
}

// AggressivenessValue возвращает агрессивность (по умолчанию 50)
func (m ModelConfig) AggressivenessValue() uint32 {
	if m.Aggressiveness == nil {
		return DefaultAggressiveness
	}
	return *m.Aggressiveness
}

// SampleRateDuration возвращает период такта; пусто или ошибка — 50ms
func (g GovernorConfig) SampleRateDuration() time.Duration {
	return ParseDuration(g.SampleRate, 50*time.Millisecond)
}

// PredictionWindowDuration возвращает окно прогноза; пусто или ошибка — 100ms
func (m ModelConfig) PredictionWindowDuration() time.Duration {
	return ParseDuration(m.PredictionWindow, 100*time.Millisecond)
}

// PingIntervalDuration возвращает интервал ping websocket; пусто или ошибка — 30s
func (e ExportConfig) PingIntervalDuration() time.Duration {
	return ParseDuration(e.PingInterval, 30*time.Second)
}

// ParseDuration разбирает строку вида "50ms"; при пустой, ошибочной или неположительной — def
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Validate проверяет значения, которые нельзя молча заменить дефолтами
func (c *Config) Validate() error {
	var errs []error
	if c.Governor.SampleRate != "" {
		if d, err := time.ParseDuration(c.Governor.SampleRate); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("governor.sample_rate %q: must be a positive duration", c.Governor.SampleRate))
		}
	}
	if c.Model.Aggressiveness != nil && *c.Model.Aggressiveness > 100 {
		errs = append(errs, fmt.Errorf("model.aggressiveness %d: must be within 0..100", *c.Model.Aggressiveness))
	}
	for _, cpu := range c.Governor.CPUs {
		if cpu < 0 {
			errs = append(errs, fmt.Errorf("governor.cpus: negative cpu %d", cpu))
		}
	}
	if c.Export.Enabled && c.Export.URL == "" {
		errs = append(errs, errors.New("export.url: required when export is enabled"))
	}
	return errors.Join(errs...)
}
