// Package config — загрузка predictd.yml и глобальный конфиг процесса.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	pkgconfig "github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/pkg/config"
)

// DefaultPath — конфиг, который ищется при пустом -config
const DefaultPath = "predictd.yml"

var (
	appConfigMu  sync.RWMutex
	appConfigVar *pkgconfig.Config
)

// GetAppConfig возвращает текущий глобальный конфиг (nil до SetAppConfig)
func GetAppConfig() *pkgconfig.Config {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfigVar
}

// SetAppConfig заменяет глобальный конфиг
func SetAppConfig(cfg *pkgconfig.Config) {
	appConfigMu.Lock()
	defer appConfigMu.Unlock()
	appConfigVar = cfg
}

// Load читает конфиг из YAML, подставляет дефолты и проверяет значения
func Load(path string) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse разбирает YAML конфига
func Parse(data []byte) (*pkgconfig.Config, error) {
	var c pkgconfig.Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	ApplyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

// ApplyDefaults заполняет незаданные поля значениями pkgconfig.Default
func ApplyDefaults(c *pkgconfig.Config) {
	d := pkgconfig.Default()
	if c.Governor.SampleRate == "" {
		c.Governor.SampleRate = d.Governor.SampleRate
	}
	if c.Governor.MinFreqChange == 0 {
		c.Governor.MinFreqChange = d.Governor.MinFreqChange
	}
	if c.Model.Aggressiveness == nil {
		c.Model.Aggressiveness = d.Model.Aggressiveness
	}
	if c.Model.LearningRate == 0 {
		c.Model.LearningRate = d.Model.LearningRate
	}
	if c.Model.PredictionWindow == "" {
		c.Model.PredictionWindow = d.Model.PredictionWindow
	}
	if c.Paths.SysfsCPU == "" {
		c.Paths.SysfsCPU = d.Paths.SysfsCPU
	}
	if c.Paths.Proc == "" {
		c.Paths.Proc = d.Paths.Proc
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = d.HTTP.Port
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = d.SSH.Port
	}
	if c.Export.QueueSize <= 0 {
		c.Export.QueueSize = d.Export.QueueSize
	}
	if c.Export.PingInterval == "" {
		c.Export.PingInterval = d.Export.PingInterval
	}
}
