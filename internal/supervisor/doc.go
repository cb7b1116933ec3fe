// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

/*
Package supervisor runs signalmap's long-lived services under a suture v4
supervisor tree.

# Layout

	RootSupervisor ("signalmap")
	├── DataSupervisor ("data-layer")
	│   └── retention-sweeper
	├── PipelineSupervisor ("pipeline-layer")
	│   ├── observation-batcher
	│   └── ingest-worker-N (one per partition)
	└── APISupervisor ("api-layer")
	    └── http-server

Each layer counts failures on its own, so a crashing ingest worker is
restarted with backoff while the HTTP server keeps answering searches.
Supervisor events are logged through sutureslog.

# Shutdown

Cancelling the Serve context stops every service. Suture does not order
stops between layers, so the batcher's final flush may be published after
the workers have returned. Callers drain the bus afterwards with
pipeline.Pool.Drain before closing the store.

	tree, _ := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(services.NewSweeperService(sweeper))
	tree.AddPipelineService(services.NewBatcherService(b))
	for _, w := range pool.Workers() {
	    tree.AddPipelineService(w)
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	err := tree.Serve(ctx)
	pool.Drain(context.Background(), time.Second)

UnstoppedServiceReport lists services that ignored cancellation past
ShutdownTimeout.
*/
package supervisor
