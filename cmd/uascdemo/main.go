// Copyright 2020 Converter Systems LLC. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nagarsumit/milo/ua"
	"github.com/nagarsumit/milo/uasc"
	"github.com/pkg/errors"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		fmt.Println("Press Ctrl-C to exit...")
		waitForSignal()
		cancel()
	}()

	endpoint := "opc.tcp://localhost:46010"
	if len(os.Args) > 1 {
		endpoint = os.Args[1]
	}

	ch, err := uasc.NewSecureChannel(endpoint,
		uasc.WithSecurityPolicy(ua.SecurityPolicyURINone),
		uasc.WithSecurityMode(ua.MessageSecurityModeNone),
		uasc.WithConnectTimeout(5*time.Second),
		uasc.WithRequestTimeout(15*time.Second),
		uasc.WithTokenLifetime(600000),
	)
	if err != nil {
		fmt.Println(errors.Wrap(err, "error constructing secure channel"))
		os.Exit(1)
	}

	if err := ch.Open(ctx); err != nil {
		fmt.Println(errors.Wrap(err, "error opening secure channel"))
		os.Exit(1)
	}
	fmt.Println("secure channel open")

	if err := ch.Close(ctx); err != nil {
		fmt.Println(errors.Wrap(err, "error closing secure channel"))
		ch.Abort()
		os.Exit(1)
	}
	fmt.Println("secure channel closed")
}

func waitForSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}
