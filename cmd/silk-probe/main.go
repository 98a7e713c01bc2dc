// Command silk-probe is a manual smoke-test tool: it starts a node, binding
// the given router/pub endpoints, optionally joins a seed, and periodically
// prints its cluster view until interrupted. It is not part of the silk
// library's public contract.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jabolina/silk"
)

func main() {
	router := flag.String("router", "tcp://*:7300", "router bind endpoint")
	pub := flag.String("pub", "tcp://*:7301", "pub bind endpoint")
	name := flag.String("name", "", "human-readable node name")
	seedRouter := flag.String("seed-router", "", "seed node's router endpoint to join")
	seedPub := flag.String("seed-pub", "", "seed node's pub endpoint to join")
	seedID := flag.String("seed-id", "", "seed node's id")
	interval := flag.Duration("interval", 2*time.Second, "cluster view print interval")
	flag.Parse()

	node, err := silk.New(silk.Options{
		Name:      *name,
		Endpoints: silk.Endpoints{Router: *router, Pub: *pub},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "silk-probe: construct node:", err)
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "silk-probe: start node:", err)
		os.Exit(1)
	}
	defer node.Stop()

	info := node.GetInfo()
	fmt.Printf("silk-probe: node %s started, router=%s pub=%s\n", info.ID, info.Router, info.Pub)

	if *seedRouter != "" {
		seed := silk.Descriptor{ID: *seedID, Router: *seedRouter, Pub: *seedPub}
		node.Join(seed, func(err error) {
			if err != nil {
				fmt.Fprintln(os.Stderr, "silk-probe: join failed:", err)
				return
			}
			fmt.Println("silk-probe: joined cluster")
		})
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			printView(node)
		case <-sig:
			fmt.Println("silk-probe: shutting down")
			return
		}
	}
}

func printView(node *silk.Node) {
	peers := node.Peers()
	fmt.Printf("silk-probe: state=%s peers=%d\n", node.State(), len(peers))
	for _, p := range peers {
		fmt.Printf("  - %s (%s) router=%s pub=%s\n", p.ID, p.Name, p.Router, p.Pub)
	}
}
