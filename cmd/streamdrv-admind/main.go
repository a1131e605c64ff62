// StreamDrive: a text-protocol driver engine for lab and industrial instruments
// Copyright (C) 2026  StreamDrive Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command streamdrv-admind wraps internal/adminapi plus a running
// pkg/session pool — one session per registry channel, each running its
// protocol's main block in a loop — behind a flag-driven bootstrap with
// signal-triggered graceful shutdown, grounded on
// cmd/driver/hasher-server/main.go's lifecycle shape (flag.Parse, a
// listener, a sigCh goroutine calling graceful shutdown), with the
// teacher's gRPC+protobuf server replaced by net/http wrapping
// internal/adminapi's gin router (see DESIGN.md).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamdrive/internal/adminapi"
	"streamdrive/internal/busopen"
	"streamdrive/internal/config"
	"streamdrive/pkg/arbiter"
	"streamdrive/pkg/protocol"
	"streamdrive/pkg/record"
	"streamdrive/pkg/session"
)

var (
	port         = flag.Int("port", 8089, "admin API listen port")
	registryPath = flag.String("registry", "", "path to the YAML channel registry")
	protoDir     = flag.String("protocols", ".", "directory of protocol files, one per channel name")
	loopInterval = flag.Duration("interval", 5*time.Second, "delay between automatic protocol runs per channel")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "streamdrv-admind: ", log.LstdFlags)

	if *registryPath == "" {
		logger.Fatal("-registry is required")
	}
	reg, err := config.LoadRegistry(*registryPath)
	if err != nil {
		logger.Fatalf("load registry: %v", err)
	}

	mgr := adminapi.NewManager(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for name, entry := range reg.Channels {
		s, err := startChannelSession(ctx, name, entry, *protoDir, *loopInterval, logger)
		if err != nil {
			logger.Printf("channel %q: %v", name, err)
			continue
		}
		mgr.Track(s)
	}

	mgr.Reloader = func(recordName string) error {
		if recordName == "" {
			logger.Println("reload requested for all channels, restart the process to pick up registry changes")
			return nil
		}
		entry, ok := reg.Channel(recordName)
		if !ok {
			return fmt.Errorf("channel %q not in registry", recordName)
		}
		s, err := startChannelSession(ctx, recordName, entry, *protoDir, *loopInterval, logger)
		if err != nil {
			return err
		}
		mgr.Track(s)
		return nil
	}

	router := adminapi.NewRouter(mgr)
	addr := fmt.Sprintf("0.0.0.0:%d", *port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}

	srv := &http.Server{Handler: router}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("shutting down admin server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("admin API listening on %s", addr)
	if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("serve: %v", err)
	}
}

func startChannelSession(ctx context.Context, name string, entry config.ChannelEntry, protoDir string, interval time.Duration, logger *log.Logger) (*session.Session, error) {
	protoPath := protoDir + string(os.PathSeparator) + name + ".proto"
	src, err := os.ReadFile(protoPath)
	if err != nil {
		return nil, fmt.Errorf("read protocol file: %w", err)
	}
	prog, err := protocol.Compile(src, protoPath, name, nil)
	if err != nil {
		return nil, fmt.Errorf("compile protocol: %w", err)
	}

	b, err := busopen.Open(entry)
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	finished := make(chan session.Status, 1)
	s := session.New(prog, session.Config{
		ChannelName: name,
		Bus:         b,
		Arbiter:     arbiter.NewChannel(),
		Bridge:      record.NewMapBridge(name),
		Logger:      logger,
		OnFinish:    func(_ string, st session.Status) { finished <- st },
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.Disconnect()
				return
			default:
			}
			s.StartProtocol(ctx, session.ModeNormal)
			var status session.Status
			select {
			case <-ctx.Done():
				b.Disconnect()
				return
			case status = <-finished:
			}
			logger.Printf("channel %q run finished: %s", name, status)
			select {
			case <-ctx.Done():
				b.Disconnect()
				return
			case <-time.After(interval):
			}
		}
	}()

	return s, nil
}
