// Package main is the entrypoint for the cursor-exchange demo: it
// drives the cursor flow engine against a scripted in-memory transport
// (and, when -dsn is supplied, exercises the real microsoft/go-mssqldb
// driver alongside it), following the teacher's ordered-init /
// flag-parsing / graceful-shutdown shape from its own proxy entrypoint.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joao-brasil/mssql-cursor-exchange/internal/config"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/connstate"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/cursor"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/demotransport"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/exchange"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/prepare"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/querylog"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/rpc"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/tds"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "", "path to engine YAML config (optional; defaults are used if empty)")
	metricsAddr := flag.String("metrics-addr", ":9187", "address to serve Prometheus metrics on")
	dsn := flag.String("dsn", "", "optional sqlserver:// DSN to additionally open via database/sql, demonstrating the real driver alongside the demo engine")
	flag.Parse()

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("[cursordemo] loading config: %v", err)
		}
		cfg = loaded
	} else {
		cfg.Engine.FetchSize = 10
		cfg.Engine.PreparedStatementCache = config.PreparedCacheUnbounded
		cfg.Engine.IdentifierMaxLength = 128
	}

	metricsServer := startMetricsServer(*metricsAddr)

	if *dsn != "" {
		demoRealDriver(*dsn)
	}

	log.Printf("[cursordemo] running scripted cursored-fetch scenario (fetchSize=%d)", cfg.Engine.FetchSize)
	if err := runScriptedScenario(cfg); err != nil {
		log.Fatalf("[cursordemo] scenario failed: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Printf("[cursordemo] demo complete, serving metrics on %s until interrupted", *metricsAddr)
	<-stop

	log.Printf("[cursordemo] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Printf("[cursordemo] metrics server shutdown: %v", err)
	}
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[cursordemo] metrics server: %v", err)
		}
	}()

	return srv
}

// runScriptedScenario reproduces spec scenario 2 end to end: a cursored
// query over two full fetch windows and an empty third, ending in
// sp_cursorclose — using the real engine, exchange channel, prepared-
// statement cache, and connection-state listener, driven by a scripted
// in-memory transport instead of a live socket.
func runScriptedScenario(cfg *config.Config) error {
	var script []tds.Message

	// Window 1: cursoropen's own result — 10 rows.
	script = append(script, repeatRows(10)...)
	script = append(script,
		tds.ReturnValueMessage{ParamOrdinal: 0, Value: int64(42)},
		tds.DoneMessage{InProc: true, Status: 0x0011, RowCount: 10}, // MORE|COUNT
		tds.DoneMessage{Proc: true, Status: 0x0000},
	)

	// Window 2: first sp_cursorfetch — 3 rows, no MORE.
	script = append(script, repeatRows(3)...)
	script = append(script,
		tds.DoneMessage{InProc: true, Status: 0x0010, RowCount: 3}, // COUNT only
		tds.DoneMessage{Proc: true, Status: 0x0000},
	)

	// Window 3: second sp_cursorfetch — empty.
	script = append(script,
		tds.DoneMessage{InProc: true, Status: 0x0010, RowCount: 0},
		tds.DoneMessage{Proc: true, Status: 0x0000},
		// sp_cursorclose's own DoneProc.
		tds.DoneMessage{Proc: true, Status: 0x0000},
	)

	transport := demotransport.NewScripted(script)
	channel := exchange.New(transport)

	logger := querylog.New()
	trace := logger.Subscribe(1, "SELECT * FROM orders")

	deps := cursor.Deps{
		Builder:   rpc.NewBuilder(),
		Cache:     selectCache(cfg),
		ConnState: connstate.NewListener(),
		FetchSize: int32(cfg.Engine.FetchSize),
		OnRetry:   func(reason string) { logger.Retry(trace, reason) },
	}

	down := cursor.NewChannelDownstream(64)
	engine, initial := cursor.NewCursorOpen(deps, down, "SELECT * FROM orders")

	done, err := channel.SubmitWithTimeout(context.Background(), initial, engine, cfg.Engine.StatementTimeout)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	rowTotal := 0
	for msg := range down.Messages {
		switch m := msg.(type) {
		case tds.RowMessage:
			rowTotal++
		case cursor.IntermediateCount:
			log.Printf("[cursordemo] intermediate row count: %d", m.RowCount)
		}
	}

	if err := <-done; err != nil {
		return err
	}
	logger.Complete(trace, engine.State().Phase.String())
	log.Printf("[cursordemo] scenario complete: %d rows observed, final phase=%s", rowTotal, engine.State().Phase)
	return nil
}

func selectCache(cfg *config.Config) prepare.Cache {
	switch cfg.Engine.PreparedStatementCache {
	case config.PreparedCacheNone:
		return prepare.NewNone()
	case config.PreparedCacheLRU:
		return prepare.NewLRU(cfg.Engine.PreparedCacheCapacity)
	default:
		return prepare.NewUnbounded()
	}
}

func repeatRows(n int) []tds.Message {
	rows := make([]tds.Message, n)
	for i := range rows {
		rows[i] = tds.RowMessage{}
	}
	return rows
}

// demoRealDriver opens dsn via database/sql using the real
// microsoft/go-mssqldb driver, showing how this module's simplified
// in-memory engine corresponds to the production driver's own
// connection lifecycle. Errors are logged, not fatal — the scripted
// scenario above is the actual demo and does not require a live server.
func demoRealDriver(dsn string) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		log.Printf("[cursordemo] sql.Open: %v", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Printf("[cursordemo] ping %s: %v", dsn, err)
		return
	}
	log.Printf("[cursordemo] connected to %s via go-mssqldb", dsn)
}
