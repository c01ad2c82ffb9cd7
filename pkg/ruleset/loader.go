// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package ruleset

import (
	"context"
	"net"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/pipeline-sim/pkg/engine"
	"github.com/onosproject/pipeline-sim/pkg/engine/codec"
	"github.com/onosproject/pipeline-sim/pkg/engine/entries"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc"
)

const aclPriority = 10

// TableEntries converts the rule-set into the table entries to be installed
func TableEntries(ruleset *Ruleset) ([]*p4api.TableEntry, error) {
	tableEntries := make([]*p4api.TableEntry, 0,
		len(ruleset.ARP)+len(ruleset.ACL)+len(ruleset.Routes)+len(ruleset.Tunnels))

	for _, rule := range ruleset.ARP {
		entry, err := arpEntry(rule)
		if err != nil {
			return nil, err
		}
		tableEntries = append(tableEntries, entry)
	}
	for _, rule := range ruleset.ACL {
		entry, err := aclEntry(rule)
		if err != nil {
			return nil, err
		}
		tableEntries = append(tableEntries, entry)
	}
	for _, rule := range ruleset.Routes {
		entry, err := routeEntry(rule)
		if err != nil {
			return nil, err
		}
		tableEntries = append(tableEntries, entry)
	}
	for _, rule := range ruleset.Tunnels {
		entry, err := tunnelEntry(rule)
		if err != nil {
			return nil, err
		}
		tableEntries = append(tableEntries, entry)
	}
	return tableEntries, nil
}

// ApplyRuleset loads the specified rule-set YAML file and installs its rules
// directly into the given engine's tables
func ApplyRuleset(e *engine.Engine, path string) error {
	log.Infof("Loading ruleset from %s", path)
	ruleset := &Ruleset{}
	if err := LoadRulesetFile(path, ruleset); err != nil {
		return err
	}

	tableEntries, err := TableEntries(ruleset)
	if err != nil {
		return err
	}
	for _, entry := range tableEntries {
		if err := e.InstallRule(entry); err != nil {
			log.Errorf("Unable to install rule in table %d: %+v", entry.TableId, err)
			return err
		}
	}
	log.Infof("Installed %d rules", len(tableEntries))
	return nil
}

// InstallRuleset loads the specified rule-set YAML file and installs its
// rules via the P4Runtime API on the given client connection, first winning
// mastership with the given election ID
func InstallRuleset(conn *grpc.ClientConn, deviceID uint64, electionID uint64, path string) error {
	log.Infof("Loading ruleset from %s", path)
	ruleset := &Ruleset{}
	if err := LoadRulesetFile(path, ruleset); err != nil {
		return err
	}

	tableEntries, err := TableEntries(ruleset)
	if err != nil {
		return err
	}

	client := p4api.NewP4RuntimeClient(conn)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Mastership must be held for the duration of the write, so the stream
	// stays open until we are done
	election := &p4api.Uint128{Low: electionID}
	if err = becomeMaster(ctx, client, deviceID, election); err != nil {
		return err
	}

	updates := make([]*p4api.Update, 0, len(tableEntries))
	for _, entry := range tableEntries {
		updates = append(updates, &p4api.Update{
			Type:   p4api.Update_INSERT,
			Entity: &p4api.Entity{Entity: &p4api.Entity_TableEntry{TableEntry: entry}},
		})
	}

	_, err = client.Write(ctx, &p4api.WriteRequest{
		DeviceId:   deviceID,
		ElectionId: election,
		Updates:    updates,
	})
	if err != nil {
		return err
	}
	log.Infof("Installed %d rules", len(tableEntries))
	return nil
}

func becomeMaster(ctx context.Context, client p4api.P4RuntimeClient, deviceID uint64, electionID *p4api.Uint128) error {
	stream, err := client.StreamChannel(ctx)
	if err != nil {
		return err
	}
	err = stream.Send(&p4api.StreamMessageRequest{
		Update: &p4api.StreamMessageRequest_Arbitration{
			Arbitration: &p4api.MasterArbitrationUpdate{
				DeviceId:   deviceID,
				ElectionId: electionID,
			},
		},
	})
	if err != nil {
		return err
	}

	msg, err := stream.Recv()
	if err != nil {
		return err
	}
	arbitration := msg.GetArbitration()
	if arbitration == nil || arbitration.Status == nil || arbitration.Status.Code != 0 {
		return errors.NewUnauthorized("unable to win mastership for device %d: %+v", deviceID, arbitration)
	}
	return nil
}

func arpEntry(rule ARPRule) (*p4api.TableEntry, error) {
	ip, prefixLen, err := parsePrefix(rule.IP)
	if err != nil {
		return nil, err
	}
	mac, err := parseMAC(rule.MAC)
	if err != nil {
		return nil, err
	}
	return &p4api.TableEntry{
		TableId: engine.TableARPMatch,
		Match: []*p4api.FieldMatch{
			exactMatch(1, u16b(codec.ARPRequest)),
			lpmMatch(2, ip, prefixLen),
		},
		Action: entries.NewAction(engine.ActionSendARPReply, mac),
	}, nil
}

func aclEntry(rule ACLRule) (*p4api.TableEntry, error) {
	if rule.IP != "" {
		ip := net.ParseIP(rule.IP).To4()
		if ip == nil {
			return nil, errors.NewInvalid("invalid IP address %s", rule.IP)
		}
		return &p4api.TableEntry{
			TableId:  engine.TableACLIP,
			Match:    []*p4api.FieldMatch{ternaryMatch(1, ip, []byte{0xff, 0xff, 0xff, 0xff})},
			Action:   entries.NewAction(engine.ActionDrop),
			Priority: aclPriority,
		}, nil
	}
	if rule.UDPPort != 0 {
		return &p4api.TableEntry{
			TableId:  engine.TableACLUDP,
			Match:    []*p4api.FieldMatch{ternaryMatch(1, u16b(rule.UDPPort), []byte{0xff, 0xff})},
			Action:   entries.NewAction(engine.ActionDrop),
			Priority: aclPriority,
		}, nil
	}
	return nil, errors.NewInvalid("ACL rule needs either an IP address or a UDP port")
}

func routeEntry(rule RouteRule) (*p4api.TableEntry, error) {
	ip, prefixLen, err := parsePrefix(rule.Prefix)
	if err != nil {
		return nil, err
	}

	var action *p4api.TableAction
	if rule.MAC != "" {
		mac, err := parseMAC(rule.MAC)
		if err != nil {
			return nil, err
		}
		action = entries.NewAction(engine.ActionIPv4Forward, mac, u16b(uint16(rule.Port)))
	} else {
		if rule.Tunnel >= engine.MaxTunnelID {
			return nil, errors.NewInvalid("tunnel ID %d out of range", rule.Tunnel)
		}
		action = entries.NewAction(engine.ActionTunnelIngress, u16b(uint16(rule.Tunnel)))
	}

	return &p4api.TableEntry{
		TableId: engine.TableIPv4LPM,
		Match:   []*p4api.FieldMatch{lpmMatch(1, ip, prefixLen)},
		Action:  action,
	}, nil
}

func tunnelEntry(rule TunnelRule) (*p4api.TableEntry, error) {
	if rule.ID >= engine.MaxTunnelID {
		return nil, errors.NewInvalid("tunnel ID %d out of range", rule.ID)
	}

	var action *p4api.TableAction
	if rule.MAC != "" {
		mac, err := parseMAC(rule.MAC)
		if err != nil {
			return nil, err
		}
		action = entries.NewAction(engine.ActionTunnelEgress, mac, u16b(uint16(rule.Port)))
	} else {
		action = entries.NewAction(engine.ActionTunnelForward, u16b(uint16(rule.Port)))
	}

	return &p4api.TableEntry{
		TableId: engine.TableTunnelExact,
		Match:   []*p4api.FieldMatch{exactMatch(1, u16b(uint16(rule.ID)))},
		Action:  action,
	}, nil
}

// Parses an IPv4 address or CIDR prefix into address bytes and prefix length
func parsePrefix(prefix string) ([]byte, int32, error) {
	if _, ipNet, err := net.ParseCIDR(prefix); err == nil {
		ones, _ := ipNet.Mask.Size()
		return ipNet.IP.To4(), int32(ones), nil
	}
	ip := net.ParseIP(prefix).To4()
	if ip == nil {
		return nil, 0, errors.NewInvalid("invalid IP address or prefix %s", prefix)
	}
	return ip, 32, nil
}

func parseMAC(addr string) ([]byte, error) {
	mac, err := net.ParseMAC(addr)
	if err != nil {
		return nil, errors.NewInvalid("invalid MAC address %s", addr)
	}
	return mac, nil
}

func exactMatch(fieldID uint32, value []byte) *p4api.FieldMatch {
	return &p4api.FieldMatch{
		FieldId:        fieldID,
		FieldMatchType: &p4api.FieldMatch_Exact_{Exact: &p4api.FieldMatch_Exact{Value: value}},
	}
}

func lpmMatch(fieldID uint32, value []byte, prefixLen int32) *p4api.FieldMatch {
	return &p4api.FieldMatch{
		FieldId:        fieldID,
		FieldMatchType: &p4api.FieldMatch_Lpm{Lpm: &p4api.FieldMatch_LPM{Value: value, PrefixLen: prefixLen}},
	}
}

func ternaryMatch(fieldID uint32, value []byte, mask []byte) *p4api.FieldMatch {
	return &p4api.FieldMatch{
		FieldId:        fieldID,
		FieldMatchType: &p4api.FieldMatch_Ternary_{Ternary: &p4api.FieldMatch_Ternary{Value: value, Mask: mask}},
	}
}

func u16b(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}
