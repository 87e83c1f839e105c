package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/i474232898/cold-storage-monitor/internal/analysis"
	"github.com/i474232898/cold-storage-monitor/internal/domain"
	"github.com/i474232898/cold-storage-monitor/internal/monitor"
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Take one sensor reading, analyze, alert and store it",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.monitor.RunCycle(cmd.Context(), nil)
		if err != nil {
			return fmt.Errorf("reading sensor: %w", err)
		}
		return printCycle(cmd.OutOrStdout(), res)
	},
}

var flagHistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show stored readings and recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		hs, err := openStore(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer hs.Close()

		readings, err := hs.RecentReadings(cmd.Context(), flagHistoryLimit)
		if err != nil {
			return fmt.Errorf("loading readings: %w", err)
		}
		alerts, err := hs.RecentAlerts(cmd.Context(), 10)
		if err != nil {
			return fmt.Errorf("loading alerts: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(readings) == 0 {
			fmt.Fprintln(out, "No readings stored.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTEMP °C\tHUMIDITY %\tRISK")
		for i := len(readings) - 1; i >= 0; i-- {
			r := readings[i]
			_, risk := analysis.Evaluate(r, nil)
			fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%s\n", r.Timestamp.Local().Format(time.DateTime), r.Temperature, r.Humidity, risk)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if len(alerts) > 0 {
			fmt.Fprintf(out, "\nRecent alerts:\n")
			for _, al := range alerts {
				fmt.Fprintf(out, "  %s  %s\n", al.Timestamp.Local().Format(time.DateTime), al.Message)
			}
		}
		return nil
	},
}

var (
	flagTemperature float64
	flagHumidity    float64
	flagExternal    float64
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Analyze a hypothetical reading without storing it",
	Example: `  cold-storage-monitor evaluate --temperature 4.1 --humidity 92 --external 30
  cold-storage-monitor evaluate --temperature 5 --humidity 97`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := domain.Reading{
			Temperature: domain.Round1(flagTemperature),
			Humidity:    domain.Round1(flagHumidity),
			Timestamp:   time.Now().UTC(),
		}
		if err := r.Validate(); err != nil {
			return err
		}

		var ext *float64
		if cmd.Flags().Changed("external") {
			ext = &flagExternal
		}
		a := analysis.New(analysis.DefaultThresholds())
		verdict, risk := a.Evaluate(r, ext)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Reading:        %.1f°C, %.1f%%\n", r.Temperature, r.Humidity)
		if ext != nil {
			fmt.Fprintf(out, "Ambient:        %.1f°C\n", *ext)
		}
		fmt.Fprintf(out, "Max allowed:    %.1f°C\n", verdict.AdjustedTempMax)
		fmt.Fprintf(out, "Anomaly:        %t\n", verdict.IsAnomaly)
		fmt.Fprintf(out, "Reason:         %s\n", verdict.Reason)
		fmt.Fprintf(out, "Spoilage score: %.0f (%s risk)\n", a.SpoilageScore(r, ext), risk)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "number of readings to show")

	evaluateCmd.Flags().Float64Var(&flagTemperature, "temperature", 0, "room temperature in °C")
	evaluateCmd.Flags().Float64Var(&flagHumidity, "humidity", 0, "relative humidity in %")
	evaluateCmd.Flags().Float64Var(&flagExternal, "external", 0, "ambient temperature in °C (omit for no adjustment)")
	_ = evaluateCmd.MarkFlagRequired("temperature")
	_ = evaluateCmd.MarkFlagRequired("humidity")
}

func printCycle(w io.Writer, res monitor.CycleResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
