package shell

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/governor"
)

const prompt = "predictd> "

const helpText = `show cores          state of all managed cores
show core <cpu>     detailed state of one core
show patterns <cpu> learned pattern table of one core
show version        daemon version
help                this text
exit | logout       close the session
`

// runShell — цикл чтения команд до exit или закрытия канала
func (s *Server) runShell(rw io.ReadWriter) {
	_, _ = io.WriteString(rw, crlf("predictd "+s.version+", type 'help' for commands\n")+prompt)
	scanner := bufio.NewScanner(rw)
	scanner.Split(scanCommands)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		out, done := s.Execute(scanner.Text())
		if out != "" {
			_, _ = io.WriteString(rw, crlf(out))
		}
		if done {
			return
		}
		_, _ = io.WriteString(rw, prompt)
	}
}

// Execute выполняет одну команду консоли. done — сессию нужно закрыть.
func (s *Server) Execute(line string) (out string, done bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return "", false
	}
	switch fields[0] {
	case "exit", "logout", "quit":
		return "bye\n", true
	case "help", "?":
		return helpText, false
	case "show":
		return s.show(fields[1:]), false
	default:
		return fmt.Sprintf("unknown command %q, type 'help'\n", fields[0]), false
	}
}

func (s *Server) show(args []string) string {
	if len(args) == 0 {
		return "show: missing argument, type 'help'\n"
	}
	switch args[0] {
	case "version":
		return s.version + "\n"
	case "cores":
		return formatCores(s.src.Statuses())
	case "core", "patterns":
		if len(args) < 2 {
			return fmt.Sprintf("show %s: missing cpu\n", args[0])
		}
		cpu, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Sprintf("show %s: invalid cpu %q\n", args[0], args[1])
		}
		st, ok := s.src.Status(cpu)
		if !ok {
			return fmt.Sprintf("cpu %d not managed\n", cpu)
		}
		if args[0] == "core" {
			return formatCore(st)
		}
		return formatPatterns(st)
	default:
		return fmt.Sprintf("show: unknown argument %q, type 'help'\n", args[0])
	}
}

func formatCores(statuses []governor.Status) string {
	if len(statuses) == 0 {
		return "no managed cores\n"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CPU\tSTATE\tUTIL\tPREDICTED\tLAST kHz\tTARGET kHz\tPATTERNS\tERRORS")
	for _, st := range statuses {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n", st.CPU, st.State, st.Utilization, st.Predicted,
			st.LastFreq, st.TargetFreq, len(st.Patterns), st.ApplyErrors)
	}
	_ = w.Flush()
	return b.String()
}

func formatCore(st governor.Status) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "cpu\t%d\n", st.CPU)
	fmt.Fprintf(w, "state\t%s\n", st.State)
	fmt.Fprintf(w, "limits\t%d..%d kHz\n", st.MinFreq, st.MaxFreq)
	fmt.Fprintf(w, "last frequency\t%d kHz\n", st.LastFreq)
	fmt.Fprintf(w, "target frequency\t%d kHz\n", st.TargetFreq)
	fmt.Fprintf(w, "utilization\t%d%%\n", st.Utilization)
	fmt.Fprintf(w, "predicted\t%d%%\n", st.Predicted)
	fmt.Fprintf(w, "history\t%d samples\n", st.HistoryLen)
	fmt.Fprintf(w, "aggressiveness\t%d\n", st.Params.Aggressiveness)
	fmt.Fprintf(w, "predictions\t%d\n", st.Stats.PredictionsMade)
	fmt.Fprintf(w, "patterns\t%d\n", len(st.Patterns))
	fmt.Fprintf(w, "apply errors\t%d\n", st.ApplyErrors)
	fmt.Fprintf(w, "skipped ticks\t%d\n", st.SkippedTicks)
	_ = w.Flush()
	return b.String()
}

func formatPatterns(st governor.Status) string {
	if len(st.Patterns) == 0 {
		return fmt.Sprintf("cpu %d: no patterns learned\n", st.CPU)
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWEIGHT\tAVG UTIL\tTARGET kHz\tSIGNATURE")
	for _, p := range st.Patterns {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%x\n", p.ID, p.Weight, p.AvgUtil, p.TargetFreq, p.Signature[:9])
	}
	_ = w.Flush()
	return b.String()
}

// scanCommands режет ввод по \r, \n или \r\n: терминал с pty шлёт \r
func scanCommands(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		j := i + 1
		if data[i] == '\r' && j < len(data) && data[j] == '\n' {
			j++
		}
		return j, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}
