package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/internal/engine"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

const timeLayout = "2006-01-02 15:04:05"

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Println()
	fmt.Printf("⚠️  %s\n", message)
	fmt.Println()
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "  %s\n", title)
	fmt.Fprintln(w, "───────────────────────────────────────────────────────────")
}

func printKeyValue(w io.Writer, key string, value string) {
	fmt.Fprintf(w, "   %-16s : %s\n", key, value)
}

func formatMetric(m contracts.Metric, format string) string {
	v, ok := m.Get()
	if !ok {
		return "-"
	}
	return fmt.Sprintf(format, v)
}

func formatWeights(weights map[string]float64) string {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.2f", k, weights[k]))
	}
	return strings.Join(parts, " ")
}

// printForecastReport renders a one-shot forecast run
func printForecastReport(w io.Writer, report engine.ForecastReport) {
	printHeader(w, "Forecast")
	printKeyValue(w, "Cycle ID", report.CycleID)
	printKeyValue(w, "Volatility", formatSignal(report.Market.VolatilityLevel.Value, report.Market.VolatilityLevel.OK, "%.2f"))
	printKeyValue(w, "Market change", formatSignal(report.Market.MarketChangePct.Value, report.Market.MarketChangePct.OK, "%+.2f%%"))
	printKeyValue(w, "Duration", report.Duration.Round(time.Millisecond).String())

	for _, ir := range report.Instruments {
		fmt.Fprintln(w)
		if ir.Err != nil {
			fmt.Fprintf(w, "❌ %s: %v\n", ir.Instrument, ir.Err)
			continue
		}

		fmt.Fprintf(w, "📈 %s  (adjustment %+.3f%%, sentiment %s)\n",
			ir.Instrument, ir.Adjustment.TotalPct, formatSentiment(ir))

		table := tablewriter.NewWriter(w)
		table.Header("Horizon", "Current", "Point", "Lower", "Upper", "Change", "Models")
		for _, f := range ir.Published {
			table.Append(
				fmt.Sprintf("%dd", f.HorizonDays),
				fmt.Sprintf("%.4f", f.CurrentPrice),
				fmt.Sprintf("%.4f", f.PointEstimate),
				fmt.Sprintf("%.4f", f.LowerBound),
				fmt.Sprintf("%.4f", f.UpperBound),
				fmt.Sprintf("%+.2f%%", f.ExpectedChangePct()),
				formatWeights(f.ContributingModelWeights),
			)
		}
		table.Render()

		for _, c := range ir.Adjustment.Components {
			status := "excluded"
			if c.Included {
				status = fmt.Sprintf("%+.3f%%", c.ContributionPct)
			}
			fmt.Fprintf(w, "   factor %-12s input=%.3f  %s\n", c.Name, c.Input, status)
		}
		if len(ir.Degraded) > 0 {
			fmt.Fprintf(w, "⚠️  degraded horizons (no converged model): %v\n", ir.Degraded)
		}
		if len(ir.Abstained) > 0 {
			ids := make([]string, 0, len(ir.Abstained))
			for id := range ir.Abstained {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintf(w, "   abstained %s: %s\n", id, ir.Abstained[id])
			}
		}
	}
}

func formatSignal(v float64, ok bool, format string) string {
	if !ok {
		return "unavailable"
	}
	return fmt.Sprintf(format, v)
}

func formatSentiment(ir engine.InstrumentReport) string {
	if ir.Sentiment.InsufficientData {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f over %d headlines", ir.Sentiment.Score, ir.Sentiment.Count)
}

// printBacktestReport renders a one-shot backtest run
func printBacktestReport(w io.Writer, report engine.BacktestReport) {
	printHeader(w, "Backtest")
	printKeyValue(w, "Duration", report.Duration.Round(time.Millisecond).String())

	for _, ir := range report.Instruments {
		fmt.Fprintln(w)
		if ir.Err != nil {
			fmt.Fprintf(w, "❌ %s: %v\n", ir.Instrument, ir.Err)
			continue
		}

		fmt.Fprintf(w, "🔁 %s\n", ir.Instrument)

		table := tablewriter.NewWriter(w)
		table.Header("Order", "Horizon", "RMSE", "MAE", "Direction", "Samples")
		for _, s := range ir.Samples {
			table.Append(
				s.OrderID,
				fmt.Sprintf("%dd", s.HorizonDays),
				formatMetric(s.RMSE, "%.4f"),
				formatMetric(s.MAE, "%.4f"),
				formatMetric(s.DirectionAccuracy, "%.0f%%"),
				fmt.Sprintf("%d", s.Samples),
			)
		}
		table.Render()

		keys := make([]contracts.SeriesKey, 0, len(ir.Weights))
		for k := range ir.Weights {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].HorizonDays < keys[j].HorizonDays })
		for _, k := range keys {
			fmt.Fprintf(w, "   weights %3dd: %s\n", k.HorizonDays, formatWeights(ir.Weights[k]))
		}

		if ir.Trend != nil {
			fmt.Fprintf(w, "   trend: %s (latest error %.4f, baseline %s)\n",
				ir.Trend.Trend, ir.Trend.LatestError, formatMetric(ir.Trend.BaselineError, "%.4f"))
		}
	}
}

// printStatus renders a persisted engine state document
func printStatus(w io.Writer, st contracts.EngineState, alertLimit int) {
	printHeader(w, "Engine Status")
	printKeyValue(w, "Snapshot", st.Timestamp.Local().Format(timeLayout))
	printKeyValue(w, "Started", st.StartedAt.Local().Format(timeLayout))
	printKeyValue(w, "Uptime", (time.Duration(st.UptimeSeconds) * time.Second).String())
	printKeyValue(w, "Cycles", fmt.Sprintf("%d", st.CycleCount))
	printKeyValue(w, "Predictions", fmt.Sprintf("%d", st.Counters.Predictions))
	printKeyValue(w, "Backtests", fmt.Sprintf("%d", st.Counters.Backtests))
	printKeyValue(w, "Alerts", fmt.Sprintf("%d", st.Counters.Alerts))
	printKeyValue(w, "Citations", fmt.Sprintf("%d", st.Counters.Citations))

	// 최신 예측: (instrument, horizon)별 가장 최근 1건
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Latest forecasts")
	seen := make(map[contracts.SeriesKey]bool)
	var latest []contracts.Forecast
	for _, f := range st.LatestPredictions {
		if !seen[f.Key()] {
			seen[f.Key()] = true
			latest = append(latest, f)
		}
	}
	sort.Slice(latest, func(i, j int) bool {
		if latest[i].Instrument != latest[j].Instrument {
			return latest[i].Instrument < latest[j].Instrument
		}
		return latest[i].HorizonDays < latest[j].HorizonDays
	})
	table := tablewriter.NewWriter(w)
	table.Header("Instrument", "Horizon", "Point", "Lower", "Upper", "Change", "Published")
	for _, f := range latest {
		table.Append(
			f.Instrument,
			fmt.Sprintf("%dd", f.HorizonDays),
			fmt.Sprintf("%.4f", f.PointEstimate),
			fmt.Sprintf("%.4f", f.LowerBound),
			fmt.Sprintf("%.4f", f.UpperBound),
			fmt.Sprintf("%+.2f%%", f.ExpectedChangePct()),
			f.PublishedAt.Local().Format(timeLayout),
		)
	}
	table.Render()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Best models")
	table = tablewriter.NewWriter(w)
	table.Header("Instrument", "Horizon", "Order", "Weight", "RMSE")
	for _, b := range st.BestModels {
		table.Append(
			b.Instrument,
			fmt.Sprintf("%dd", b.HorizonDays),
			b.OrderID,
			fmt.Sprintf("%.3f", b.Weight),
			formatMetric(b.RMSE, "%.4f"),
		)
	}
	table.Render()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Performance trends")
	instruments := make([]string, 0, len(st.PerformanceTrends))
	for inst := range st.PerformanceTrends {
		instruments = append(instruments, inst)
	}
	sort.Strings(instruments)
	table = tablewriter.NewWriter(w)
	table.Header("Instrument", "Trend", "Latest", "Baseline", "Change")
	for _, inst := range instruments {
		t := st.PerformanceTrends[inst]
		change := "-"
		if t.ChangePct != nil {
			change = fmt.Sprintf("%+.1f%%", *t.ChangePct)
		}
		table.Append(
			inst,
			string(t.Trend),
			fmt.Sprintf("%.4f", t.LatestError),
			formatMetric(t.BaselineError, "%.4f"),
			change,
		)
	}
	table.Render()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Recent alerts")
	alerts := st.Alerts
	if alertLimit > 0 && len(alerts) > alertLimit {
		alerts = alerts[:alertLimit]
	}
	table = tablewriter.NewWriter(w)
	table.Header("Triggered", "Instrument", "Horizon", "Direction", "Previous", "New", "Change")
	for _, a := range alerts {
		table.Append(
			a.TriggeredAt.Local().Format(timeLayout),
			a.Instrument,
			fmt.Sprintf("%dd", a.HorizonDays),
			a.Direction(),
			fmt.Sprintf("%.4f", a.PreviousPointEstimate),
			fmt.Sprintf("%.4f", a.NewPointEstimate),
			fmt.Sprintf("%+.2f%%", a.PctChange),
		)
	}
	table.Render()
}
