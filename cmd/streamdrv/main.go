// StreamDrive: a text-protocol driver engine for lab and industrial instruments
// Copyright (C) 2026  StreamDrive Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command streamdrv is a flag-driven CLI that loads a channel registry
// and a protocol file, opens one session against a named channel, and
// drives it once or in a loop, grounded on cmd/cli/main.go's
// flag-parsing/signal-handling lifecycle shape (simplified: this CLI
// drives one in-process session directly instead of supervising a
// subprocess).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamdrive/internal/busopen"
	"streamdrive/internal/config"
	"streamdrive/pkg/arbiter"
	"streamdrive/pkg/protocol"
	"streamdrive/pkg/record"
	"streamdrive/pkg/session"
)

var (
	registryPath = flag.String("registry", "", "path to the YAML channel registry")
	protoFile    = flag.String("protocol", "", "protocol file name (resolved against STREAM_PROTOCOL_PATH)")
	blockName    = flag.String("block", "", "named block inside the protocol file to run")
	channelName  = flag.String("channel", "", "channel name from the registry to run against")
	loop         = flag.Bool("loop", false, "repeat the protocol run until interrupted")
	loopInterval = flag.Duration("interval", time.Second, "delay between loop iterations")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "streamdrv: ", log.LstdFlags)

	if *registryPath == "" || *protoFile == "" || *channelName == "" {
		fmt.Fprintln(os.Stderr, "usage: streamdrv -registry FILE -protocol FILE -channel NAME [-block NAME] [-loop]")
		os.Exit(2)
	}

	reg, err := config.LoadRegistry(*registryPath)
	if err != nil {
		logger.Fatalf("load registry: %v", err)
	}
	entry, ok := reg.Channel(*channelName)
	if !ok {
		logger.Fatalf("channel %q not in registry", *channelName)
	}

	sp := config.LoadSearchPath()
	protoPath, err := sp.Resolve(*protoFile)
	if err != nil {
		logger.Fatalf("resolve protocol file: %v", err)
	}
	src, err := os.ReadFile(protoPath)
	if err != nil {
		logger.Fatalf("read protocol file: %v", err)
	}
	block := *blockName
	if block == "" {
		block = *channelName
	}
	prog, err := protocol.Compile(src, protoPath, block, nil)
	if err != nil {
		logger.Fatalf("compile protocol: %v", err)
	}

	b, err := busopen.Open(entry)
	if err != nil {
		logger.Fatalf("open channel %q: %v", *channelName, err)
	}
	defer b.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("received shutdown signal")
		cancel()
	}()

	finished := make(chan session.Status, 1)
	bridge := record.NewMapBridge(*channelName)
	s := session.New(prog, session.Config{
		ChannelName: *channelName,
		Bus:         b,
		Arbiter:     arbiter.NewChannel(),
		Bridge:      bridge,
		Logger:      logger,
		OnFinish:    func(_ string, st session.Status) { finished <- st },
	})

	for {
		s.StartProtocol(ctx, session.ModeNormal)
		var status session.Status
		select {
		case <-ctx.Done():
			return
		case status = <-finished:
		}
		logger.Printf("run finished: %s", status)
		if !*loop {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*loopInterval):
		}
	}
}
