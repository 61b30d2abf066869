// Command xcpcli connects to an XCP slave over Ethernet using a config file
// and runs a short probe: it prints the session's Describe summary, reads
// the ASCII GET_ID identification and issues GET_STATUS. Flag-parsed entry
// point with the logrus level set from a flag; a setup failure is printed
// to stderr and exits with status 1, a failed connect with status 2.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/asamint/goxcp/config"
	"github.com/asamint/goxcp/policy"
	"github.com/asamint/goxcp/session"
	"github.com/asamint/goxcp/timestamp"
	"github.com/asamint/goxcp/transport"
)

func main() {
	configPath := flag.String("c", "", "path to master configuration (.ini)")
	level := flag.String("l", "info", "log level")
	flag.Parse()

	lvl, err := log.ParseLevel(*level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xcpcli: bad log level %q: %v\n", *level, err)
		os.Exit(1)
	}
	log.SetLevel(lvl)

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "xcpcli: -c <config.ini> is required")
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xcpcli: %v\n", err)
		os.Exit(1)
	}

	if cfg.Transport.Layer != config.LayerETH {
		fmt.Fprintf(os.Stderr, "xcpcli: only the ETH transport is wired into this CLI; got %s\n", cfg.Transport.Layer)
		os.Exit(1)
	}

	pol := policy.NewStdout()
	clock := timestamp.New(timestamp.Relative)

	var onEvent transport.EventHandler
	network := "udp"
	if cfg.Transport.Eth.Protocol == "TCP" {
		network = "tcp"
	}
	addr := fmt.Sprintf("%s:%d", cfg.Transport.Eth.Host, cfg.Transport.Eth.Port)
	ch, err := transport.NewEthChannel(network, addr, pol, func(p []byte) {
		if onEvent != nil {
			onEvent(p)
		}
	}, clock)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xcpcli: %v\n", err)
		os.Exit(1)
	}

	sess := session.New(ch, session.WithMaxRetries(cfg.General.MaxRetries))
	onEvent = sess.EventHandler()
	sess.SetTimeout(time.Duration(cfg.Transport.TimeoutSeconds * float64(time.Second)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sess.Connect(ctx, 0); err != nil {
		fmt.Fprintf(os.Stderr, "xcpcli: connect: %v\n", err)
		os.Exit(2)
	}
	defer sess.Disconnect(context.Background())

	fmt.Println(sess.Describe())

	id, err := sess.GetID(ctx, session.IDTypeASCII)
	if err != nil {
		log.WithError(err).Warn("xcpcli: GET_ID failed")
	} else {
		fmt.Printf("identification: %s\n", string(id))
	}

	if _, err := sess.GetStatus(ctx); err != nil {
		log.WithError(err).Warn("xcpcli: GET_STATUS failed")
	}
}
