package catalog

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

const memoryPageSize = 100

// Memory implements Catalog entirely in memory.
// This is primarily used for testing and development.
type Memory struct {
	mu         sync.RWMutex
	databases  map[string]Database
	tables     map[TableRef]*Table
	partitions map[TableRef]map[string]Partition
}

var _ Catalog = (*Memory)(nil)

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{
		databases:  make(map[string]Database),
		tables:     make(map[TableRef]*Table),
		partitions: make(map[TableRef]map[string]Partition),
	}
}

// CreateDatabase registers a database. Existing entries are replaced.
func (m *Memory) CreateDatabase(ctx context.Context, db Database) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.databases[db.Name] = db
	return nil
}

func (m *Memory) GetDatabase(ctx context.Context, name string) (*Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	db, ok := m.databases[name]
	if !ok {
		return nil, ErrDatabaseNotFound
	}
	cp := db
	return &cp, nil
}

func (m *Memory) GetTable(ctx context.Context, database, name string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[TableRef{Database: database, Name: name}]
	if !ok {
		return nil, ErrTableNotFound
	}
	return cloneTable(t), nil
}

func (m *Memory) CreateTable(ctx context.Context, database string, input TableInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.databases[database]; !ok {
		return fmt.Errorf("%w: %s", ErrDatabaseNotFound, database)
	}
	ref := TableRef{Database: database, Name: input.Name}
	if _, ok := m.tables[ref]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, ref)
	}

	now := time.Now().UTC()
	t := tableFromInput(database, input)
	t.CreateTime = now
	t.UpdateTime = now
	m.tables[ref] = t
	m.partitions[ref] = make(map[string]Partition)
	return nil
}

func (m *Memory) UpdateTable(ctx context.Context, database string, input TableInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := TableRef{Database: database, Name: input.Name}
	old, ok := m.tables[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, ref)
	}

	t := tableFromInput(database, input)
	t.CreateTime = old.CreateTime
	t.CreatedBy = old.CreatedBy
	t.UpdateTime = time.Now().UTC()
	m.tables[ref] = t
	return nil
}

func (m *Memory) DeleteTable(ctx context.Context, database, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := TableRef{Database: database, Name: name}
	if _, ok := m.tables[ref]; !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, ref)
	}
	delete(m.tables, ref)
	delete(m.partitions, ref)
	return nil
}

func (m *Memory) ListTables(ctx context.Context, database, prefix string) ([]*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Table
	for ref, t := range m.tables {
		if ref.Database != database {
			continue
		}
		if !strings.HasPrefix(ref.Name, prefix) {
			continue
		}
		out = append(out, cloneTable(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Partitions(database, table string) PartitionPager {
	return &memoryPartitionPager{
		catalog: m,
		ref:     TableRef{Database: database, Name: table},
	}
}

type memoryPartitionPager struct {
	catalog *Memory
	ref     TableRef

	loaded bool
	pages  [][]Partition
	next   int
}

func (p *memoryPartitionPager) HasMorePages() bool {
	if !p.loaded {
		return true
	}
	return p.next < len(p.pages)
}

func (p *memoryPartitionPager) NextPage(ctx context.Context) ([]Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.loaded {
		if err := p.load(); err != nil {
			return nil, err
		}
	}
	if p.next >= len(p.pages) {
		return nil, nil
	}
	page := p.pages[p.next]
	p.next++
	return page, nil
}

// load snapshots the partition set once, sorted by value key, and slices it
// into pages. Later catalog mutations do not affect an open pager, mirroring
// a remote listing that pages over a point-in-time token.
func (p *memoryPartitionPager) load() error {
	p.catalog.mu.RLock()
	defer p.catalog.mu.RUnlock()

	parts, ok := p.catalog.partitions[p.ref]
	if !ok {
		p.loaded = true
		return fmt.Errorf("%w: %s", ErrTableNotFound, p.ref)
	}

	all := make([]Partition, 0, len(parts))
	for _, part := range parts {
		all = append(all, clonePartition(part))
	}
	sort.Slice(all, func(i, j int) bool {
		return ValueKey(all[i].Values) < ValueKey(all[j].Values)
	})

	for len(all) > 0 {
		n := min(len(all), memoryPageSize)
		p.pages = append(p.pages, all[:n])
		all = all[n:]
	}
	if len(p.pages) == 0 {
		p.pages = append(p.pages, nil)
	}
	p.loaded = true
	return nil
}

func (m *Memory) BatchCreatePartitions(ctx context.Context, database, table string, parts []PartitionInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(parts) == 0 {
		return nil
	}
	if err := checkBatch("create", len(parts), MaxBatchCreate); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ref := TableRef{Database: database, Name: table}
	existing, ok := m.partitions[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, ref)
	}

	now := time.Now().UTC()
	for _, in := range parts {
		key := ValueKey(in.Values)
		if _, dup := existing[key]; dup {
			// Create does not replace; an existing tuple stays as-is.
			continue
		}
		existing[key] = Partition{
			Database:     database,
			Table:        table,
			Values:       append([]string(nil), in.Values...),
			CreationTime: now,
			Parameters:   maps.Clone(in.Parameters),
			Storage:      cloneStorage(in.Storage),
		}
	}
	return nil
}

func (m *Memory) BatchDeletePartitions(ctx context.Context, database, table string, values [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	if err := checkBatch("delete", len(values), MaxBatchDelete); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ref := TableRef{Database: database, Name: table}
	existing, ok := m.partitions[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, ref)
	}
	for _, v := range values {
		delete(existing, ValueKey(v))
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// PartitionCount reports the number of partitions registered for a table.
// Test helper.
func (m *Memory) PartitionCount(database, table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.partitions[TableRef{Database: database, Name: table}])
}

func tableFromInput(database string, in TableInput) *Table {
	return &Table{
		Database:      database,
		Name:          in.Name,
		Description:   in.Description,
		Owner:         in.Owner,
		TableType:     in.TableType,
		Retention:     in.Retention,
		Parameters:    maps.Clone(in.Parameters),
		PartitionKeys: cloneColumns(in.PartitionKeys),
		Storage:       cloneStorage(in.Storage),
	}
}
