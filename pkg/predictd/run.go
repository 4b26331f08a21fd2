// Package predictd предоставляет запуск предиктивного governor для cmd/predictd и встраивания в Beat.
package predictd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/slices"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/api"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/cpufreq"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/export"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/governor"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/logger"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/monitoring"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/predict"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/procstat"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/shell"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/sysinfo"
	pkgconfig "github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/pkg/config"
)

// RefreshInterval — период перечитывания лимитов политик из sysfs
const RefreshInterval = time.Second

// Лимиты синтетической политики dry run, когда cpufreq в sysfs недоступен
const (
	dryRunMinFreq = 800_000
	dryRunMaxFreq = 3_600_000
)

// ErrNoCores — ни одно ядро не удалось взять под управление
var ErrNoCores = errors.New("no cores under management")

// Options — параметры запуска
type Options struct {
	Quiet   bool
	Version string
	// Observer получает решения вдобавок к экспорту (например, публикация событий Beat)
	Observer governor.Observer
	// Registry — реестр метрик; nil — новый prometheus.Registry
	Registry *prometheus.Registry
	// Ready вызывается с запущенным governor после старта ядер
	Ready func(*governor.Predictive)
}

// RunDaemon берёт ядра под управление и держит контуры до отмены ctx.
// При отмене контуры останавливаются синхронно, серверы закрываются.
func RunDaemon(ctx context.Context, cfg *pkgconfig.Config, opts Options) error {
	if cfg == nil {
		cfg = pkgconfig.Default()
	}
	logger.Quiet = opts.Quiet
	log := logger.Logr("predictd")

	cpus, err := selectCPUs(cfg.Governor.CPUs)
	if err != nil {
		return err
	}

	sysfs := cpufreq.NewSysfs(cfg.Paths.SysfsCPU)
	policies := newPolicySet()
	var setter governor.FrequencySetter
	if cfg.Governor.DryRun {
		setter = cpufreq.NewDryRunSetter(log, policies.static)
	} else {
		setter = cpufreq.NewSetter(sysfs, log)
	}

	var freq procstat.FrequencyReader = sysfs
	if cfg.Governor.DryRun {
		freq = policies
	}
	source, err := procstat.New(cfg.Paths.Proc, freq)
	if err != nil {
		return err
	}

	var observers multiObserver
	if opts.Observer != nil {
		observers = append(observers, opts.Observer)
	}
	var exporter *export.Client
	if cfg.Export.Enabled {
		host, _ := os.Hostname()
		exporter = export.NewClient(export.Options{
			URL:          cfg.Export.URL,
			Host:         host,
			QueueSize:    cfg.Export.QueueSize,
			PingInterval: cfg.Export.PingIntervalDuration(),
		}, log)
		observers = append(observers, exporter)
	}

	govOpts := []governor.Option{governor.WithLogger(log)}
	if len(observers) > 0 {
		govOpts = append(govOpts, governor.WithObserver(observers))
	}
	gov := governor.NewPredictive(ToGovernorConfig(cfg), source, setter, govOpts...)
	defer gov.Shutdown()

	for _, cpu := range cpus {
		p, err := loadPolicy(sysfs, cpu, cfg.Governor.DryRun)
		if err != nil {
			logger.Info("cpu %d: %v", cpu, err)
			continue
		}
		if s, ok := setter.(*cpufreq.Setter); ok && cfg.Governor.SwitchGovernor {
			if err := s.EnsureUserspace(cpu); err != nil {
				logger.Info("cpu %d: %v", cpu, err)
				continue
			}
		}
		if err := gov.Init(p); err != nil {
			logger.Info("cpu %d: %v", cpu, err)
			continue
		}
		policies.add(cpu, p)
		if err := gov.Start(cpu); err != nil {
			logger.Error("cpu %d: %v", cpu, err)
		}
	}
	if len(gov.Cores()) == 0 {
		return ErrNoCores
	}
	logger.Info("managing cores %v, sample_rate=%s aggressiveness=%d dry_run=%v",
		gov.Cores(), cfg.Governor.SampleRateDuration(), cfg.Model.AggressivenessValue(), cfg.Governor.DryRun)

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if err := monitoring.Register(reg, gov, log); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.HTTP.Enabled {
		srv := api.NewServer(gov, reg, opts.Version, log)
		addr := hostPort(cfg.HTTP.ListenAddr, cfg.HTTP.Port)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx, addr); err != nil {
				logger.Error("http %s: %v", addr, err)
			}
		}()
	}
	if cfg.SSH.Enabled {
		srv, err := shell.NewServer(gov, opts.Version, shell.Options{
			HostKeyPath:        cfg.SSH.HostKey,
			AuthorizedKeysPath: cfg.SSH.AuthorizedKeys,
		}, log)
		if err != nil {
			return fmt.Errorf("ssh console: %w", err)
		}
		addr := hostPort(cfg.SSH.ListenAddr, cfg.SSH.Port)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx, addr); err != nil {
				logger.Error("ssh %s: %v", addr, err)
			}
		}()
	}
	if exporter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exporter.Run(ctx)
		}()
	}

	if opts.Ready != nil {
		opts.Ready(gov)
	}

	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping cores %v", gov.Cores())
			return nil
		case <-ticker.C:
			policies.refresh(gov)
		}
	}
}

// ToGovernorConfig переводит конфиг файла в параметры контура
func ToGovernorConfig(cfg *pkgconfig.Config) governor.Config {
	c := governor.DefaultConfig()
	if cfg == nil {
		return c
	}
	c.SampleRate = cfg.Governor.SampleRateDuration()
	if cfg.Governor.MinFreqChange > 0 {
		c.MinFreqChange = cfg.Governor.MinFreqChange
	}
	c.Model = predict.Params{
		PredictionWindow: cfg.Model.PredictionWindowDuration(),
		Aggressiveness:   cfg.Model.AggressivenessValue(),
		LearningRate:     cfg.Model.LearningRate,
	}
	return c
}

func selectCPUs(configured []int) ([]int, error) {
	online, err := sysinfo.OnlineCPUs()
	if err != nil {
		return nil, fmt.Errorf("online cpus: %w", err)
	}
	if len(configured) == 0 {
		return online, nil
	}
	var cpus []int
	for _, cpu := range configured {
		if !slices.Contains(online, cpu) {
			logger.Info("cpu %d is not online, skipped", cpu)
			continue
		}
		if !slices.Contains(cpus, cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}

// loadPolicy читает политику из sysfs; в dry run — статическую копию лимитов
// или синтетический диапазон, если cpufreq недоступен
func loadPolicy(fs *cpufreq.Sysfs, cpu int, dryRun bool) (governor.Policy, error) {
	p, err := cpufreq.LoadPolicy(fs, cpu)
	if !dryRun {
		return p, err
	}
	if err != nil {
		return cpufreq.NewStaticPolicy(cpu, dryRunMinFreq, dryRunMaxFreq, dryRunMinFreq), nil
	}
	return cpufreq.NewStaticPolicy(cpu, p.MinFreq(), p.MaxFreq(), p.CurrentFreq(), p.Table()...), nil
}

func hostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

// policySet — политики управляемых ядер
type policySet struct {
	mu       sync.RWMutex
	policies map[int]governor.Policy
}

func newPolicySet() *policySet {
	return &policySet{policies: make(map[int]governor.Policy)}
}

func (s *policySet) add(cpu int, p governor.Policy) {
	s.mu.Lock()
	s.policies[cpu] = p
	s.mu.Unlock()
}

func (s *policySet) static(cpu int) (*cpufreq.StaticPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[cpu].(*cpufreq.StaticPolicy)
	return p, ok
}

// CurrentFrequency — частота политики: в dry run сэмплы берут её, а не sysfs
func (s *policySet) CurrentFrequency(cpu int) (uint32, error) {
	s.mu.RLock()
	p, ok := s.policies[cpu]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("cpu %d: %w", cpu, governor.ErrNotManaged)
	}
	return p.CurrentFreq(), nil
}

// refresh перечитывает лимиты sysfs-политик и сообщает governor об изменении
func (s *policySet) refresh(gov *governor.Predictive) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for cpu, p := range s.policies {
		sp, ok := p.(*cpufreq.Policy)
		if !ok {
			continue
		}
		min, max := sp.MinFreq(), sp.MaxFreq()
		if err := sp.Refresh(); err != nil {
			logger.Debug("cpu %d: refresh policy: %v", cpu, err)
			continue
		}
		if sp.MinFreq() != min || sp.MaxFreq() != max {
			logger.Info("cpu %d: limits changed to %d..%d kHz", cpu, sp.MinFreq(), sp.MaxFreq())
			gov.Limits(cpu)
		}
	}
}

// multiObserver рассылает решение всем получателям
type multiObserver []governor.Observer

func (m multiObserver) OnDecision(d governor.Decision) {
	for _, o := range m {
		o.OnDecision(d)
	}
}
