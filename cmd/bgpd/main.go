// Command bgpd runs a single BGP-4 speaker from a YAML config file,
// following the jwhited/corebgp examples/simple entrypoint pattern:
// flag-driven setup, a logger wired in before anything else runs, and
// signal-triggered graceful shutdown via Server.Close.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/polaris-bgp/bgpd"
	"github.com/polaris-bgp/bgpd/config"
	"github.com/polaris-bgp/bgpd/rde"
	"github.com/sirupsen/logrus"
)

var configPath = flag.String("config", "bgpd.yaml", "path to server config file")

func main() {
	flag.Parse()

	log := logrus.New()
	bgpd.SetLogger(func(v ...interface{}) {
		log.Info(v...)
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	table := rde.NewTable()
	srv, err := bgpd.NewServer(cfg.ASN, cfg.BGPID, cfg.Port, table, cfg.Networks...)
	if err != nil {
		log.Fatalf("constructing server: %v", err)
	}

	for _, pc := range cfg.Peers {
		if err := srv.AddPeer(pc); err != nil {
			log.Fatalf("adding peer %s: %v", pc.Host, err)
		}
	}

	lis, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(int(cfg.Port))))
	if err != nil {
		log.Fatalf("listening on port %d: %v", cfg.Port, err)
	}

	log.WithFields(logrus.Fields{
		"asn":    cfg.ASN,
		"bgp_id": cfg.BGPID,
		"port":   cfg.Port,
		"peers":  len(cfg.Peers),
	}).Info("starting bgpd")

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Serve(lis)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("shutting down")
		srv.Close()
		<-srvErrCh
	case err := <-srvErrCh:
		log.Fatalf("serve error: %v", err)
	}
}
