// Command sauronmq-broker runs the MQTT v3.1.1 broker against a
// single plain-text configuration file.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sauronmq/broker"
	"github.com/sauronmq/broker/config"
	"github.com/sauronmq/broker/internal/credential"
	"github.com/sauronmq/broker/internal/crypt"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print the broker version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("sauronmq-broker " + version)
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sauronmq-broker <config-path>")
		os.Exit(2)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, "sauronmq-broker:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := mqtt.NewLogger(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	creds := credential.New(cfg.AdminUsername)
	creds.Register(cfg.AdminUsername, cfg.AdminPassword)
	creds.Register(cfg.CameraSystemUsername, cfg.CameraSystemPassword)

	var cipher *crypt.Cipher
	if cfg.EncryptionKey != "" {
		key, err := hex.DecodeString(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encryption_key: %w", err)
		}
		cipher, err = crypt.New(key)
		if err != nil {
			return fmt.Errorf("encryption_key: %w", err)
		}
	}

	group, ctx := errgroup.WithContext(context.Background())

	server := mqtt.NewServer(ctx, creds, log, cipher)
	server.IdleTimeout = time.Duration(cfg.SegsToDisconnect) * time.Second

	group.Go(func() error {
		return server.ListenAndServe(mqtt.URL("mqtt://" + cfg.Address))
	})
	group.Go(func() error {
		return mqtt.Httpd(cfg.AdminHTTPAddress, log, server.WriteSubscriptions)
	})

	log.Info("sauronmq-broker starting", zap.String("address", cfg.Address), zap.String("admin_address", cfg.AdminHTTPAddress))
	return group.Wait()
}
