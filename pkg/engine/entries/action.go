// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package entries

import (
	"encoding/binary"

	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

// ActionID returns the ID of the action bound by the given table action, or
// zero when none is bound
func ActionID(action *p4api.TableAction) uint32 {
	if action == nil || action.GetAction() == nil {
		return 0
	}
	return action.GetAction().ActionId
}

// ActionParam returns the raw value of the identified parameter of the given
// table action, or nil when the parameter is absent
func ActionParam(action *p4api.TableAction, paramID uint32) []byte {
	if action == nil || action.GetAction() == nil {
		return nil
	}
	for _, p := range action.GetAction().Params {
		if p.ParamId == paramID {
			return p.Value
		}
	}
	return nil
}

// ActionParamUint32 returns the identified parameter decoded as a big-endian
// unsigned integer of up to four bytes
func ActionParamUint32(action *p4api.TableAction, paramID uint32) uint32 {
	value := ActionParam(action, paramID)
	b := make([]byte, 4)
	if len(value) <= len(b) {
		copy(b[len(b)-len(value):], value)
	}
	return binary.BigEndian.Uint32(b)
}

// NewAction produces a table action binding the identified action with the
// given parameter values, assigned parameter IDs in order starting from 1
func NewAction(actionID uint32, params ...[]byte) *p4api.TableAction {
	action := &p4api.Action{ActionId: actionID}
	for i, value := range params {
		action.Params = append(action.Params, &p4api.Action_Param{ParamId: uint32(i + 1), Value: value})
	}
	return &p4api.TableAction{Type: &p4api.TableAction_Action{Action: action}}
}
