package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"

	"set-portfolio/internal/config"
	"set-portfolio/internal/journal"
	"set-portfolio/internal/store"
)

// 输出最近的运行事件，每行一个 JSON 对象。
func main() {
	var (
		configPath string
		eventType  string
		limit      int
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&eventType, "type", "", "事件类型，例如 gain_warning、backtest_summary，为空时输出全部")
	flag.IntVar(&limit, "limit", 50, "最多输出的事件数")
	flag.Parse()

	if limit > 1000 {
		limit = 1000
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化数据库失败: %v\n", err)
		os.Exit(1)
	}
	defer sqliteStore.Close()

	ctx := context.Background()
	svc, err := journal.NewService(ctx, sqliteStore, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化运行日志失败: %v\n", err)
		os.Exit(1)
	}

	events, err := svc.ListEvents(ctx, journal.EventType(strings.ToLower(strings.TrimSpace(eventType))), limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询事件失败: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			fmt.Fprintf(os.Stderr, "输出事件失败: %v\n", err)
			os.Exit(1)
		}
	}
}
