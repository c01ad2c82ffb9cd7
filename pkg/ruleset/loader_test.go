// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package ruleset

import (
	"testing"

	"github.com/onosproject/pipeline-sim/pkg/engine"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
)

func TestLoadBasicRuleset(t *testing.T) {
	ruleset := &Ruleset{}
	err := LoadRulesetFile("../../rulesets/basic.yaml", ruleset)
	assert.NoError(t, err)
	assert.Len(t, ruleset.ARP, 2)
	assert.Len(t, ruleset.ACL, 2)
	assert.Len(t, ruleset.Routes, 2)
	assert.Len(t, ruleset.Tunnels, 0)

	tableEntries, err := TableEntries(ruleset)
	assert.NoError(t, err)
	assert.Len(t, tableEntries, 6)
}

func TestLoadTunnelRuleset(t *testing.T) {
	ruleset := &Ruleset{}
	err := LoadRulesetFile("../../rulesets/tunnel.yaml", ruleset)
	assert.NoError(t, err)

	tableEntries, err := TableEntries(ruleset)
	assert.NoError(t, err)
	assert.Len(t, tableEntries, 5)

	counts := map[uint32]int{}
	for _, entry := range tableEntries {
		counts[entry.TableId]++
	}
	assert.Equal(t, 2, counts[engine.TableIPv4LPM])
	assert.Equal(t, 2, counts[engine.TableTunnelExact])
}

func TestApplyRuleset(t *testing.T) {
	e := engine.NewEngine(1)
	err := ApplyRuleset(e, "../../rulesets/basic.yaml")
	assert.NoError(t, err)

	// All rules should be readable back from their tables
	read := 0
	sender := func(entities []*p4api.Entity) error {
		read += len(entities)
		return nil
	}
	errs := e.ProcessRead([]*p4api.Entity{
		{Entity: &p4api.Entity_TableEntry{TableEntry: &p4api.TableEntry{TableId: engine.TableIPv4LPM}}},
		{Entity: &p4api.Entity_TableEntry{TableEntry: &p4api.TableEntry{TableId: engine.TableARPMatch}}},
		{Entity: &p4api.Entity_TableEntry{TableEntry: &p4api.TableEntry{TableId: engine.TableACLIP}}},
		{Entity: &p4api.Entity_TableEntry{TableEntry: &p4api.TableEntry{TableId: engine.TableACLUDP}}},
	}, sender)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 6, read)
}

func TestInvalidRules(t *testing.T) {
	_, err := TableEntries(&Ruleset{ACL: []ACLRule{{}}})
	assert.Error(t, err)

	_, err = TableEntries(&Ruleset{ARP: []ARPRule{{IP: "10.0.1.1", MAC: "not-a-mac"}}})
	assert.Error(t, err)

	_, err = TableEntries(&Ruleset{Routes: []RouteRule{{Prefix: "not-a-prefix", Tunnel: 1}}})
	assert.Error(t, err)

	_, err = TableEntries(&Ruleset{Tunnels: []TunnelRule{{ID: engine.MaxTunnelID, Port: 1}}})
	assert.Error(t, err)
}
