// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package main is the main entry point for starting the pipeline simulator
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/onosproject/pipeline-sim/pkg/manager"
	"github.com/spf13/cobra"
)

var log = logging.GetLogger()

const (
	caPathFlag   = "caPath"
	keyPathFlag  = "keyPath"
	certPathFlag = "certPath"
	grpcPortFlag = "grpcPort"
	noTLSFlag    = "no-tls"
	deviceIDFlag = "device-id"
	rulesetFlag  = "ruleset"
)

// The main entry point
func main() {
	cmd := &cobra.Command{
		Use:  "pipeline-sim",
		RunE: runRootCommand,
	}
	cmd.Flags().String(caPathFlag, "", "path to CA certificate")
	cmd.Flags().String(keyPathFlag, "", "path to server private key")
	cmd.Flags().String(certPathFlag, "", "path to server certificate")
	cmd.Flags().Int(grpcPortFlag, 5150, "gRPC server port")
	cmd.Flags().Bool(noTLSFlag, false, "do not use TLS for the gRPC server")
	cmd.Flags().Uint64(deviceIDFlag, 1, "P4Runtime device ID")
	cmd.Flags().String(rulesetFlag, "", "rule-set YAML file to preload")

	if err := cmd.Execute(); err != nil {
		println(err)
		os.Exit(1)
	}
}

func runRootCommand(cmd *cobra.Command, args []string) error {
	caPath, _ := cmd.Flags().GetString(caPathFlag)
	keyPath, _ := cmd.Flags().GetString(keyPathFlag)
	certPath, _ := cmd.Flags().GetString(certPathFlag)
	grpcPort, _ := cmd.Flags().GetInt(grpcPortFlag)
	noTLS, _ := cmd.Flags().GetBool(noTLSFlag)
	deviceID, _ := cmd.Flags().GetUint64(deviceIDFlag)
	rulesetPath, _ := cmd.Flags().GetString(rulesetFlag)

	log.Info("Starting pipeline-sim")
	mgr := manager.NewManager(manager.Config{
		CAPath:      caPath,
		KeyPath:     keyPath,
		CertPath:    certPath,
		GRPCPort:    grpcPort,
		NoTLS:       noTLS,
		DeviceID:    deviceID,
		RulesetPath: rulesetPath,
	})
	mgr.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	mgr.Close()
	return nil
}
