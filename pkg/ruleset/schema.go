// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package ruleset loads YAML rule-set files and installs the prescribed
// forwarding rules into the pipeline tables
package ruleset

import (
	"os"
	"path/filepath"

	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/spf13/viper"
)

var log = logging.GetLogger("ruleset")

// Ruleset is a description of the forwarding rules to be installed
type Ruleset struct {
	ARP     []ARPRule    `mapstructure:"arp" yaml:"arp"`
	ACL     []ACLRule    `mapstructure:"acl" yaml:"acl"`
	Routes  []RouteRule  `mapstructure:"routes" yaml:"routes"`
	Tunnels []TunnelRule `mapstructure:"tunnels" yaml:"tunnels"`
}

// ARPRule is a description of an ARP responder rule: requests for the given
// IP address are answered with the given MAC address
type ARPRule struct {
	IP  string `mapstructure:"ip" yaml:"ip"`
	MAC string `mapstructure:"mac" yaml:"mac"`
}

// ACLRule is a description of a drop rule: either a destination IP address
// or a destination UDP port
type ACLRule struct {
	IP      string `mapstructure:"ip" yaml:"ip"`
	UDPPort uint16 `mapstructure:"udp_port" yaml:"udp_port"`
}

// RouteRule is a description of a route: packets destined to the given
// prefix are forwarded out a port with a new destination MAC when a MAC is
// given, or encapsulated into the tunnel with the given ID otherwise
type RouteRule struct {
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	MAC    string `mapstructure:"mac" yaml:"mac"`
	Port   uint32 `mapstructure:"port" yaml:"port"`
	Tunnel uint32 `mapstructure:"tunnel" yaml:"tunnel"`
}

// TunnelRule is a description of a tunnel hop: packets in the tunnel with
// the given ID are forwarded out a port, still encapsulated unless a MAC is
// given, in which case the packet is decapsulated and rewritten
type TunnelRule struct {
	ID   uint32 `mapstructure:"id" yaml:"id"`
	MAC  string `mapstructure:"mac" yaml:"mac"`
	Port uint32 `mapstructure:"port" yaml:"port"`
}

// Reads configuration from the specified path (- for stdin) via viper; ready to Unmarshal
func readConfig(path string) (*viper.Viper, error) {
	cfg := viper.New()
	cfg.SetConfigType("yaml")
	if path == "-" {
		if err := cfg.ReadConfig(os.Stdin); err != nil {
			return cfg, err
		}
	} else {
		cfg.SetConfigName(filepath.Base(path))
		cfg.AddConfigPath(filepath.Dir(path))
		if err := cfg.ReadInConfig(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// LoadRulesetFile loads the specified rule-set YAML file
func LoadRulesetFile(path string, ruleset *Ruleset) error {
	cfg, err := readConfig(path)
	if err != nil {
		return err
	}
	return cfg.Unmarshal(ruleset)
}
