/*
Package monitoring provides Prometheus metrics for bridges and the relay hub.

# Overview

Bridges count envelopes sent, received and dropped, track the number of
pending requests and observe how long each request took to settle. The hub
tracks open connections and relayed frames.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	b, err := bridge.New(cfg, transport, bridge.WithMetrics(metrics))

A nil *Metrics is accepted everywhere and records nothing.

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
