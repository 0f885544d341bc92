// Package mqtt wraps the Eclipse Paho client with Lens Logic's connection
// management: Last Will and Testament on the system status topic,
// automatic re-subscription after broker reconnects, payload size limits
// and panic-safe message handlers.
//
// Topic layout lives in topics.go; all publishers and subscribers build
// topics through the Topics helpers rather than formatting strings by
// hand.
package mqtt
