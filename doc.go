// Package silk implements a brokerless peer-to-peer messaging fabric: a
// gossiped cluster view maintained over a ZeroMQ ROUTER-to-ROUTER mesh plus
// a PUB/SUB broadcast channel, with direct, load-balanced, and broadcast
// send primitives layered on top.
//
// A Node is constructed with New, joins an existing cluster (or starts one)
// with Join against any known seed, and exchanges application messages with
// On/Send/SendTo/SendAll/Reply once started. Every public method is safe to
// call from any goroutine; internally, all mutable state is owned by a
// single event loop and only ever touched from it.
package silk
