// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package main is a utility that installs a rule-set into a running pipeline
// simulator via its P4Runtime API
package main

import (
	"crypto/tls"
	"os"

	"github.com/onosproject/onos-lib-go/pkg/certs"
	"github.com/onosproject/pipeline-sim/pkg/ruleset"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const (
	addressFlag     = "service-address"
	tlsCertPathFlag = "tls-cert-path"
	tlsKeyPathFlag  = "tls-key-path"
	noTLSFlag       = "no-tls"
	deviceIDFlag    = "device-id"
	electionIDFlag  = "election-id"
	rulesetFlag     = "ruleset"
)

// The main entry point
func main() {
	if err := getRootCommand().Execute(); err != nil {
		println(err)
		os.Exit(1)
	}
}

func getRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline-sim-loader",
		Short: "loader",
		RunE:  runRootCommand,
	}
	cmd.Flags().String(addressFlag, "pipeline-sim:5150", "service address")
	cmd.Flags().String(tlsKeyPathFlag, "", "path to client private key")
	cmd.Flags().String(tlsCertPathFlag, "", "path to client certificate")
	cmd.Flags().Bool(noTLSFlag, false, "do not use TLS to connect")
	cmd.Flags().Uint64(deviceIDFlag, 1, "P4Runtime device ID")
	cmd.Flags().Uint64(electionIDFlag, 1, "election ID to claim mastership with")
	cmd.Flags().String(rulesetFlag, "-", "rule-set YAML file")
	return cmd
}

func getAddress(cmd *cobra.Command) string {
	address, _ := cmd.Flags().GetString(addressFlag)
	return address
}

func getCertPath(cmd *cobra.Command) string {
	certPath, _ := cmd.Flags().GetString(tlsCertPathFlag)
	return certPath
}

func getKeyPath(cmd *cobra.Command) string {
	keyPath, _ := cmd.Flags().GetString(tlsKeyPathFlag)
	return keyPath
}

func noTLS(cmd *cobra.Command) bool {
	tls, _ := cmd.Flags().GetBool(noTLSFlag)
	return tls
}

// getConnection returns a gRPC client connection to the simulator service
func getConnection(cmd *cobra.Command) (*grpc.ClientConn, error) {
	address := getAddress(cmd)
	certPath := getCertPath(cmd)
	keyPath := getKeyPath(cmd)
	var opts []grpc.DialOption

	if noTLS(cmd) {
		opts = []grpc.DialOption{
			grpc.WithInsecure(),
		}
	} else {
		if certPath != "" && keyPath != "" {
			cert, err := tls.LoadX509KeyPair(certPath, keyPath)
			if err != nil {
				return nil, err
			}
			opts = []grpc.DialOption{
				grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
					Certificates:       []tls.Certificate{cert},
					InsecureSkipVerify: true,
				})),
			}
		} else {
			// Load default Certificates
			cert, err := tls.X509KeyPair([]byte(certs.DefaultClientCrt), []byte(certs.DefaultClientKey))
			if err != nil {
				return nil, err
			}
			opts = []grpc.DialOption{
				grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
					Certificates:       []tls.Certificate{cert},
					InsecureSkipVerify: true,
				})),
			}
		}
	}

	conn, err := grpc.Dial(address, opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func runRootCommand(cmd *cobra.Command, args []string) error {
	conn, err := getConnection(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	deviceID, _ := cmd.Flags().GetUint64(deviceIDFlag)
	electionID, _ := cmd.Flags().GetUint64(electionIDFlag)
	rulesetPath, _ := cmd.Flags().GetString(rulesetFlag)
	return ruleset.InstallRuleset(conn, deviceID, electionID, rulesetPath)
}
