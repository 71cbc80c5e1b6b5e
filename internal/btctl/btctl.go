package btctl

import (
	"flag"
	"fmt"
	"os"

	"quantbt/logging"
)

func Run(args []string) int {
	fs := flag.NewFlagSet("btctl", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		backtestMode   bool
		optimizeMode   bool
		backtestConfig string
		outPath        string
		tradesCSV      string
		genCSV         string
		webhookURL     string
		logLevel       string
	)

	fs.BoolVar(&backtestMode, "backtest", false, "运行单次回测并退出")
	fs.BoolVar(&optimizeMode, "optimize", false, "运行快慢均线网格寻优并退出")
	fs.StringVar(&backtestConfig, "bt-config", "backtest.yaml", "回测配置文件路径(YAML格式)，不存在时使用内置默认值")
	fs.StringVar(&outPath, "out", "", "结果输出JSON文件路径(默认stdout)")
	fs.StringVar(&tradesCSV, "trades-csv", "", "成交记录CSV输出路径（可选）")
	fs.StringVar(&genCSV, "gen-csv", "", "按配置生成合成K线CSV到该路径并退出")
	fs.StringVar(&webhookURL, "webhook", "", "回测时将交易信号POST到该URL（可选）")
	fs.StringVar(&logLevel, "log-level", "info", "日志级别 debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := logging.Component(logging.New(logging.Options{Level: logLevel}), "btctl")

	modes := 0
	for _, on := range []bool{backtestMode, optimizeMode, genCSV != ""} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		log.Error().Msg("-backtest, -optimize and -gen-csv are mutually exclusive")
		return 2
	}

	plan, err := loadPlan(backtestConfig, fs, log)
	if err != nil {
		log.Error().Err(err).Str("path", backtestConfig).Msg("load backtest config")
		return 1
	}

	switch {
	case genCSV != "":
		if err := runGenCSV(plan, genCSV, log); err != nil {
			log.Error().Err(err).Msg("generate csv failed")
			return 1
		}
		return 0
	case backtestMode:
		if err := runBacktest(plan, outPath, tradesCSV, webhookURL, log); err != nil {
			log.Error().Err(err).Msg("backtest failed")
			return 1
		}
		return 0
	case optimizeMode:
		if err := runOptimize(plan, outPath, tradesCSV, log); err != nil {
			log.Error().Err(err).Msg("optimization failed")
			return 1
		}
		return 0
	}

	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  quantbt -backtest [-bt-config backtest.yaml] [-out report.json] [-trades-csv trades.csv] [-webhook URL]")
	fmt.Fprintln(os.Stderr, "  quantbt -optimize [-bt-config backtest.yaml] [-out report.json]")
	fmt.Fprintln(os.Stderr, "  quantbt -gen-csv bars.csv [-bt-config backtest.yaml]")
	fmt.Fprintln(os.Stderr, "  quantbt [-config config.yaml]            (start the API server)")
	return 2
}
