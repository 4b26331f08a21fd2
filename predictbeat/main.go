// Predictbeat — Beat на базе Elastic Beats v7 (libbeat): предиктивный governor частоты CPU,
// публикующий решения контуров ядер как события.
package main

import (
	"os"

	"github.com/elastic/beats/v7/libbeat/cmd"
	"github.com/elastic/beats/v7/libbeat/cmd/instance"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/predictbeat/beater"
)

func main() {
	rootCmd := cmd.GenRootCmdWithSettings(beater.New, instance.Settings{
		Name: "predictbeat",
	})
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
