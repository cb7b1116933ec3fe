// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

package pipeline

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// embeddedReadyTimeout bounds how long NewBus waits for the embedded server.
const embeddedReadyTimeout = 10 * time.Second

// embeddedServer is an in-process NATS server for single-node deployments
// that still want the nats transport's redelivery and queue-group code path.
type embeddedServer struct {
	ns *server.Server
}

// startEmbedded starts a core NATS server on host:port. A port of -1 picks
// a free port.
func startEmbedded(host string, port int) (*embeddedServer, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	ns, err := server.NewServer(&server.Options{
		ServerName: "signalmap-bus",
		Host:       host,
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 8 * 1024 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(embeddedReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready within %s", embeddedReadyTimeout)
	}
	return &embeddedServer{ns: ns}, nil
}

// ClientURL returns the URL clients connect to.
func (e *embeddedServer) ClientURL() string {
	return e.ns.ClientURL()
}

func (e *embeddedServer) shutdown() {
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
