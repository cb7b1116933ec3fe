// Signalmap - Crowd-sourced Signal Source Location Estimation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/signalmap

/*
Package services adapts signalmap components to suture.Service.

HTTPServerService wraps the ListenAndServe/Shutdown pair of *http.Server.
LifecycleService wraps components with a background loop:

	NewSweeperService(*retention.Sweeper)  Start / Stop
	NewBatcherService(*batcher.Batcher)    Start / Close, Close flushes pending items

Return values follow suture: an error means restart, ctx.Err() means the
service stopped because it was asked to.
*/
package services
