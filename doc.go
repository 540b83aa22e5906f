// Package lerobot relays teleoperation of SO-101 robot arms over the network.
//
// A host process owns a follower robot and serves it on two websocket
// endpoints: one accepting action commands, one publishing observations.
// Both endpoints keep only the newest message, so a slow peer always sees
// current data instead of a backlog. A watchdog stops the robot when
// commands stop arriving. The client package implements the same driver
// interface as a local arm, so a leader can drive a remote follower
// unchanged.
//
// # Installation
//
//	go install github.com/gwillem/lerobot-relay/cmd/lerobot@latest
//
// # Usage
//
// Detect and calibrate the arms:
//
//	lerobot setup
//
// Serve the follower on the robot machine:
//
//	lerobot host
//
// Drive it from another machine:
//
//	lerobot teleoperate --remote-ip 192.168.1.20
//
// # Packages
//
//   - cmd/lerobot: CLI with setup, teleoperate, host and drivers commands
//   - pkg/robot: driver interface, SO-101 arms, bimanual and simulated drivers
//   - pkg/transport: newest-only websocket endpoints
//   - pkg/wire: JSON message encoding
//   - pkg/watchdog: command staleness tracking
//   - pkg/host: the paced host loop
//   - pkg/client: remote driver talking to a host
//   - pkg/teleop: leader devices and the teleoperation controller
//   - pkg/config, pkg/logger, pkg/metrics: ambient configuration, logging and metrics
package lerobot
