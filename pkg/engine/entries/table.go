// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package entries contains the match-action table and counter stores of the
// forwarding engine, expressed over P4Runtime entities.
package entries

import (
	"hash/fnv"
	"math/bits"
	"sort"
	"sync"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

// BatchSender is an abstract function for returning batches of read entities
type BatchSender func(entities []*p4api.Entity) error

// MatchKind designates how a table key field is matched against a rule
type MatchKind int

// Closed set of match kinds supported by the engine
const (
	MatchExact MatchKind = iota
	MatchLPM
	MatchTernary
)

// FieldInfo describes a single match field of a table
type FieldInfo struct {
	ID    uint32
	Name  string
	Kind  MatchKind
	Bytes int
}

// TableInfo describes the static schema of a table: its match fields, the
// actions it accepts, its capacity and its default action. A table whose
// ConstDefault flag is set rejects default-action overrides.
type TableInfo struct {
	ID              uint32
	Name            string
	Fields          []FieldInfo
	ActionIDs       []uint32
	Size            int
	DefaultActionID uint32
	ConstDefault    bool
}

// Tables represents the set of match-action tables of the pipeline
type Tables struct {
	tables map[uint32]*Table
}

// Row represents an installed table entry together with its install order,
// used to break ties among equally specific matches
type Row struct {
	entry *p4api.TableEntry
	order uint64
}

// Table represents a single match-action table. Lookups take a read lock and
// run concurrently; entry insertion and removal take the write lock, so no
// lookup ever observes a partially applied change.
type Table struct {
	lock       sync.RWMutex
	info       *TableInfo
	rows       map[uint64]*Row
	defaultRow *Row
	nextOrder  uint64
}

// NewTables creates a new set of tables from the given schemas
func NewTables(tableInfos []*TableInfo) *Tables {
	ts := &Tables{
		tables: make(map[uint32]*Table),
	}
	for _, ti := range tableInfos {
		ts.tables[ti.ID] = NewTable(ti)
	}
	return ts
}

// NewTable creates a new table with the specified schema
func NewTable(info *TableInfo) *Table {
	return &Table{
		info: info,
		rows: make(map[uint64]*Row),
		defaultRow: &Row{entry: &p4api.TableEntry{
			TableId:         info.ID,
			IsDefaultAction: true,
			Action:          defaultAction(info.DefaultActionID),
		}},
	}
}

func defaultAction(actionID uint32) *p4api.TableAction {
	return &p4api.TableAction{
		Type: &p4api.TableAction_Action{Action: &p4api.Action{ActionId: actionID}},
	}
}

// Reports whether any of the table's match fields is ternary
func (ti *TableInfo) hasTernary() bool {
	for _, field := range ti.Fields {
		if field.Kind == MatchTernary {
			return true
		}
	}
	return false
}

// Table returns the table with the specified ID
func (ts *Tables) Table(id uint32) *Table {
	return ts.tables[id]
}

// Tables returns the list of all tables, ordered by ID
func (ts *Tables) Tables() []*Table {
	tables := make([]*Table, 0, len(ts.tables))
	for _, table := range ts.tables {
		tables = append(tables, table)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].info.ID < tables[j].info.ID })
	return tables
}

// ModifyTableEntry modifies the specified table entry in its appropriate table
func (ts *Tables) ModifyTableEntry(entry *p4api.TableEntry, insert bool) error {
	table, ok := ts.tables[entry.TableId]
	if !ok {
		return errors.NewNotFound("table %d not found", entry.TableId)
	}
	return table.ModifyTableEntry(entry, insert)
}

// RemoveTableEntry removes the specified table entry from its appropriate table
func (ts *Tables) RemoveTableEntry(entry *p4api.TableEntry) error {
	table, ok := ts.tables[entry.TableId]
	if !ok {
		return errors.NewNotFound("table %d not found", entry.TableId)
	}
	return table.RemoveTableEntry(entry)
}

// ReadTableEntries reads the table entries matching the specified table entry
// request, from the appropriate table
func (ts *Tables) ReadTableEntries(request *p4api.TableEntry, sender BatchSender) error {
	// If the table ID is 0, read all tables
	if request.TableId == 0 {
		for _, table := range ts.Tables() {
			if err := table.ReadTableEntries(request, sender); err != nil {
				return err
			}
		}
		return nil
	}

	table, ok := ts.tables[request.TableId]
	if !ok {
		return errors.NewNotFound("table %d not found", request.TableId)
	}
	return table.ReadTableEntries(request, sender)
}

// ID returns the table ID
func (t *Table) ID() uint32 {
	return t.info.ID
}

// Name returns the table name
func (t *Table) Name() string {
	return t.info.Name
}

// Size returns the number of entries currently installed in the table
func (t *Table) Size() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.rows)
}

// Entries returns a snapshot of all entries installed in the table
func (t *Table) Entries() []*p4api.TableEntry {
	t.lock.RLock()
	defer t.lock.RUnlock()
	entries := make([]*p4api.TableEntry, 0, len(t.rows))
	for _, row := range t.rows {
		entries = append(entries, row.entry)
	}
	return entries
}

// DefaultAction returns the action invoked when a lookup matches no entry
func (t *Table) DefaultAction() *p4api.TableAction {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.defaultRow.entry.Action
}

// ModifyTableEntry inserts or modifies the specified entry
func (t *Table) ModifyTableEntry(entry *p4api.TableEntry, insert bool) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if entry.IsDefaultAction {
		if insert {
			return errors.NewInvalid("unable to insert default action entry")
		}
		if len(entry.Match) > 0 {
			return errors.NewInvalid("default action entry cannot have any match fields")
		}
		if t.info.ConstDefault {
			return errors.NewInvalid("table %s has a constant default action", t.info.Name)
		}
		if err := t.validateAction(entry.Action); err != nil {
			return err
		}
		t.defaultRow = &Row{entry: entry}
		return nil
	}

	// P4Runtime reserves entry priorities for tables with ternary fields;
	// elsewhere precedence comes from the match kind alone
	if entry.Priority != 0 && !t.info.hasTernary() {
		return errors.NewInvalid("table %s does not accept entry priorities", t.info.Name)
	}

	// Order field matches in canonical order based on field ID and validate
	// them against the table schema
	sortFieldMatches(entry.Match)
	if err := t.validateMatches(entry.Match); err != nil {
		return err
	}
	if err := t.validateAction(entry.Action); err != nil {
		return err
	}

	// Produce a hash of the field matches to serve as a key
	key := entryKey(entry)
	row, ok := t.rows[key]

	// If the entry exists, and we're supposed to do a new insert, raise error
	if ok && insert {
		return errors.NewAlreadyExists("entry already exists: %v", entry)
	}

	// If the entry doesn't exist, and we're supposed to modify, raise error
	if !ok && !insert {
		return errors.NewNotFound("entry doesn't exist: %v", entry)
	}

	if !ok && insert {
		if len(t.rows) >= t.info.Size {
			return errors.NewUnavailable("table %s is at capacity (%d)", t.info.Name, t.info.Size)
		}
		t.nextOrder++
		t.rows[key] = &Row{entry: entry, order: t.nextOrder}
		return nil
	}

	// Otherwise update the entry in place, preserving its install order
	row.entry = entry
	return nil
}

// RemoveTableEntry removes the specified table entry
func (t *Table) RemoveTableEntry(entry *p4api.TableEntry) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if entry.IsDefaultAction {
		return errors.NewInvalid("unable to remove default action entry")
	}
	sortFieldMatches(entry.Match)
	key := entryKey(entry)
	if _, ok := t.rows[key]; !ok {
		return errors.NewNotFound("entry doesn't exist: %v", entry)
	}
	delete(t.rows, key)
	return nil
}

// ReadTableEntries reads the installed entries via the supplied sender; a
// request with IsDefaultAction set reads the default action entry instead
func (t *Table) ReadTableEntries(request *p4api.TableEntry, sender BatchSender) error {
	t.lock.RLock()
	defer t.lock.RUnlock()

	if request.IsDefaultAction {
		return sender([]*p4api.Entity{{
			Entity: &p4api.Entity_TableEntry{TableEntry: t.defaultRow.entry},
		}})
	}

	buffer := newBuffer(sender)
	for _, row := range t.rows {
		if err := buffer.sendEntity(&p4api.Entity{Entity: &p4api.Entity_TableEntry{TableEntry: row.entry}}); err != nil {
			return err
		}
	}
	return buffer.flush()
}

// Lookup finds the highest-precedence entry matching the given key and
// returns its action; the key carries one value per schema field, in schema
// order. A miss yields the table's default action. Precedence among multiple
// matches: explicit entry priority first, then aggregate LPM prefix length,
// then ternary mask specificity, with remaining ties broken in favor of the
// earliest-installed entry.
func (t *Table) Lookup(key [][]byte) *p4api.TableAction {
	t.lock.RLock()
	defer t.lock.RUnlock()

	var best *Row
	var bestRank matchRank
	for _, row := range t.rows {
		rank, ok := t.matches(row.entry, key)
		if !ok {
			continue
		}
		if best == nil || rank.beats(bestRank, row.order, best.order) {
			best, bestRank = row, rank
		}
	}
	if best == nil {
		return t.defaultRow.entry.Action
	}
	return best.entry.Action
}

// matchRank ranks a matching entry for precedence comparison
type matchRank struct {
	priority  int32
	prefixLen int32
	maskBits  int
}

func (r matchRank) beats(other matchRank, order, otherOrder uint64) bool {
	if r.priority != other.priority {
		return r.priority > other.priority
	}
	if r.prefixLen != other.prefixLen {
		return r.prefixLen > other.prefixLen
	}
	if r.maskBits != other.maskBits {
		return r.maskBits > other.maskBits
	}
	return order < otherOrder
}

// Determines whether the entry matches the given key and ranks the match.
// Fields omitted from a ternary entry are fully wildcarded.
func (t *Table) matches(entry *p4api.TableEntry, key [][]byte) (matchRank, bool) {
	rank := matchRank{priority: entry.Priority}
	fm := entry.Match
	for i, field := range t.info.Fields {
		value := padTo(key[i], field.Bytes)

		// Entry matches are kept in canonical field ID order; fields absent
		// from the entry are wildcards and only legal for ternary kinds
		var m *p4api.FieldMatch
		if len(fm) > 0 && fm[0].FieldId == field.ID {
			m = fm[0]
			fm = fm[1:]
		}
		if m == nil {
			if field.Kind != MatchTernary {
				return rank, false
			}
			continue
		}

		switch field.Kind {
		case MatchExact:
			if !bytesEqual(padTo(m.GetExact().Value, field.Bytes), value) {
				return rank, false
			}
		case MatchLPM:
			lpm := m.GetLpm()
			if !prefixMatches(padTo(lpm.Value, field.Bytes), value, lpm.PrefixLen) {
				return rank, false
			}
			rank.prefixLen += lpm.PrefixLen
		case MatchTernary:
			ternary := m.GetTernary()
			mask := padTo(ternary.Mask, field.Bytes)
			if !maskedEqual(padTo(ternary.Value, field.Bytes), value, mask) {
				return rank, false
			}
			rank.maskBits += onesCount(mask)
		}
	}
	return rank, true
}

// Validates that the entry's field matches conform to the table schema
func (t *Table) validateMatches(matches []*p4api.FieldMatch) error {
	fm := matches
	for _, field := range t.info.Fields {
		if len(fm) == 0 || fm[0].FieldId != field.ID {
			// Only ternary fields may be omitted (fully wildcarded)
			if field.Kind != MatchTernary {
				return errors.NewInvalid("missing match for field %s", field.Name)
			}
			continue
		}
		m := fm[0]
		fm = fm[1:]
		switch field.Kind {
		case MatchExact:
			if m.GetExact() == nil {
				return errors.NewInvalid("field %s requires an exact match", field.Name)
			}
		case MatchLPM:
			if lpm := m.GetLpm(); lpm == nil {
				return errors.NewInvalid("field %s requires an LPM match", field.Name)
			} else if lpm.PrefixLen > int32(field.Bytes*8) {
				return errors.NewInvalid("prefix length %d exceeds field %s width", lpm.PrefixLen, field.Name)
			}
		case MatchTernary:
			if m.GetTernary() == nil {
				return errors.NewInvalid("field %s requires a ternary match", field.Name)
			}
		}
	}
	if len(fm) > 0 {
		return errors.NewInvalid("unexpected field match %d", fm[0].FieldId)
	}
	return nil
}

// Validates that the action is one the table schema whitelists
func (t *Table) validateAction(action *p4api.TableAction) error {
	if action == nil || action.GetAction() == nil {
		return errors.NewInvalid("table %s entry requires an action", t.info.Name)
	}
	for _, id := range t.info.ActionIDs {
		if action.GetAction().ActionId == id {
			return nil
		}
	}
	return errors.NewInvalid("action %d is not allowed in table %s", action.GetAction().ActionId, t.info.Name)
}

type entityBuffer struct {
	entities []*p4api.Entity
	sender   BatchSender
}

func newBuffer(sender BatchSender) *entityBuffer {
	return &entityBuffer{
		entities: make([]*p4api.Entity, 0, 64),
		sender:   sender,
	}
}

// Sends the specified entity via an accumulation buffer, flushing when buffer reaches capacity
func (eb *entityBuffer) sendEntity(entity *p4api.Entity) error {
	var err error
	eb.entities = append(eb.entities, entity)
	if len(eb.entities) == cap(eb.entities) {
		err = eb.flush()
	}
	return err
}

// Flushes the buffer by sending the buffered entities and resets the buffer
func (eb *entityBuffer) flush() error {
	err := eb.sender(eb.entities)
	eb.entities = eb.entities[:0]
	return err
}

// Produces a table entry key as a uint64 hash of its field matches; matches
// are assumed to be in canonical order
func entryKey(entry *p4api.TableEntry) uint64 {
	hf := fnv.New64()
	for _, m := range entry.Match {
		switch {
		case m.GetExact() != nil:
			_, _ = hf.Write([]byte{0x01})
			_, _ = hf.Write(m.GetExact().Value)
		case m.GetLpm() != nil:
			_, _ = hf.Write([]byte{0x02, byte(m.GetLpm().PrefixLen >> 8), byte(m.GetLpm().PrefixLen)})
			_, _ = hf.Write(m.GetLpm().Value)
		case m.GetTernary() != nil:
			_, _ = hf.Write([]byte{0x03})
			_, _ = hf.Write(m.GetTernary().Mask)
			_, _ = hf.Write(m.GetTernary().Value)
		}
	}
	return hf.Sum64()
}

// Sorts the given array of field matches in place based on the field ID
func sortFieldMatches(matches []*p4api.FieldMatch) {
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].FieldId < matches[j].FieldId })
}

// Left-pads the value with zeros to the given width; P4Runtime byte strings
// arrive with leading zeros stripped
func padTo(value []byte, width int) []byte {
	if len(value) >= width {
		return value[len(value)-width:]
	}
	padded := make([]byte, width)
	copy(padded[width-len(value):], value)
	return padded
}

func bytesEqual(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return len(a) == len(b)
}

// Reports whether value falls under the given prefix of prefixLen bits
func prefixMatches(prefix, value []byte, prefixLen int32) bool {
	fullBytes := int(prefixLen / 8)
	for i := 0; i < fullBytes; i++ {
		if prefix[i] != value[i] {
			return false
		}
	}
	if rem := uint(prefixLen % 8); rem != 0 {
		mask := byte(0xff << (8 - rem))
		if prefix[fullBytes]&mask != value[fullBytes]&mask {
			return false
		}
	}
	return true
}

func maskedEqual(expected, value, mask []byte) bool {
	for i := range mask {
		if expected[i]&mask[i] != value[i]&mask[i] {
			return false
		}
	}
	return true
}

func onesCount(mask []byte) int {
	count := 0
	for _, b := range mask {
		count += bits.OnesCount8(b)
	}
	return count
}
