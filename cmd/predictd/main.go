// predictd — предиктивный governor частоты CPU: прогноз загрузки по истории ядра
// и выбор частоты через cpufreq userspace.
//
// Использование:
//
//	predictd -policy                    — показать политики частот ядер и выйти
//	predictd -run -config predictd.yml  — запуск daemon
//	predictd -run -dry-run -cpus 0,1    — только логировать решения
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/config"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/cpufreq"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/logger"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/sysinfo"
	pkgconfig "github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/pkg/config"
	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/pkg/predictd"
)

var version = "dev"

func main() {
	run := flag.Bool("run", false, "запуск daemon")
	policy := flag.Bool("policy", false, "показать политики частот ядер и выйти")
	configPath := flag.String("config", "", "путь к YAML конфигу (по умолчанию predictd.yml)")
	cpus := flag.String("cpus", "", "ядра через запятую (переопределяет config)")
	aggressiveness := flag.Int("aggressiveness", -1, "агрессивность 0-100 (переопределяет config)")
	dryRun := flag.Bool("dry-run", false, "не менять частоту, только логировать решения")
	quiet := flag.Bool("quiet", false, "меньше вывода")
	showVersion := flag.Bool("version", false, "показать версию и выйти")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *cpus != "" {
		list, err := parseCPUList(*cpus)
		if err != nil {
			log.Fatalf("-cpus: %v", err)
		}
		cfg.Governor.CPUs = list
	}
	if *aggressiveness >= 0 {
		aggr, err := parseAggressiveness(*aggressiveness)
		if err != nil {
			log.Fatalf("-aggressiveness: %v", err)
		}
		cfg.Model.Aggressiveness = &aggr
	}
	if *dryRun {
		cfg.Governor.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	config.SetAppConfig(cfg)
	logger.Setup(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	if *run {
		logger.Quiet = *quiet
		runDaemonWithShutdown(cfg, *quiet)
		return
	}

	if err := printPolicies(cfg); err != nil {
		log.Fatalf("policy: %v", err)
	}
	if !*policy && !*quiet {
		fmt.Println("predictd: для запуска governor используйте -run.")
	}
}

// loadConfig читает конфиг; отсутствие файла по умолчанию не ошибка
func loadConfig(path string) (*pkgconfig.Config, error) {
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) && !explicit {
		cfg := pkgconfig.Default()
		config.ApplyDefaults(cfg)
		return cfg, nil
	}
	return config.Load(path)
}

// parseAggressiveness проверяет диапазон до приведения к uint32
func parseAggressiveness(v int) (uint32, error) {
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("%d: must be within 0..100", v)
	}
	return uint32(v), nil
}

// parseCPUList разбирает список вида "0,2,4-7"
func parseCPUList(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(lo)
		if err != nil || first < 0 {
			return nil, fmt.Errorf("invalid cpu %q", part)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(hi); err != nil || last < first {
				return nil, fmt.Errorf("invalid range %q", part)
			}
		}
		for cpu := first; cpu <= last; cpu++ {
			out = append(out, cpu)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty cpu list")
	}
	return out, nil
}

func printPolicies(cfg *pkgconfig.Config) error {
	cpus := cfg.Governor.CPUs
	if len(cpus) == 0 {
		online, err := sysinfo.OnlineCPUs()
		if err != nil {
			return err
		}
		cpus = online
	}
	fs := cpufreq.NewSysfs(cfg.Paths.SysfsCPU)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CPU\tGOVERNOR\tMIN kHz\tMAX kHz\tCUR kHz\tSTEPS")
	for _, cpu := range cpus {
		p, err := cpufreq.LoadPolicy(fs, cpu)
		if err != nil {
			fmt.Fprintf(w, "%d\t-\t-\t-\t-\t%v\n", cpu, err)
			continue
		}
		gov, _ := fs.Governor(cpu)
		steps := "continuous"
		if t := p.Table(); len(t) > 0 {
			steps = strconv.Itoa(len(t))
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\n", cpu, gov, p.MinFreq(), p.MaxFreq(), p.CurrentFreq(), steps)
	}
	return w.Flush()
}

// runDaemonWithShutdown запускает governor; по SIGINT/SIGTERM контекст отменяется,
// контуры ядер останавливаются синхронно
func runDaemonWithShutdown(cfg *pkgconfig.Config, quiet bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("получен сигнал %v, завершение...", sig)
		cancel()
	}()

	if err := predictd.RunDaemon(ctx, cfg, predictd.Options{Quiet: quiet, Version: version}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("%v", err)
		os.Exit(1)
	}
}
