package catalog

import (
	"maps"
	"strings"
	"time"
)

// Database is a catalog namespace. LocationURI is the storage root under
// which new tables place their data.
type Database struct {
	Name        string
	LocationURI string
	Description string
	Parameters  map[string]string
}

// TableRef identifies a table by database and name.
type TableRef struct {
	Database string
	Name     string
}

func (r TableRef) String() string {
	return r.Database + "." + r.Name
}

// Column is one typed column of a table schema or partition key list.
type Column struct {
	Name    string
	Type    string
	Comment string
}

// StorageDescriptor carries the physical layout shared by tables and
// partitions: where the data lives and how it is encoded.
type StorageDescriptor struct {
	Location        string
	InputFormat     string
	OutputFormat    string
	SerdeLibrary    string
	SerdeParameters map[string]string
	Columns         []Column
	Parameters      map[string]string
	Compressed      bool
}

// Table is a full catalog table definition, including the audit fields the
// catalog stamps on it. Audit fields never travel back into the catalog;
// TableInput is the allow-listed mutation payload.
type Table struct {
	Database      string
	Name          string
	Description   string
	Owner         string
	TableType     string
	Retention     int32
	Parameters    map[string]string
	PartitionKeys []Column
	Storage       StorageDescriptor

	// Catalog-owned audit fields.
	CreatedBy                     string
	CreateTime                    time.Time
	UpdateTime                    time.Time
	IsRegisteredWithLakeFormation bool
}

// Ref returns the table's identity.
func (t *Table) Ref() TableRef {
	return TableRef{Database: t.Database, Name: t.Name}
}

// Location returns the table's storage location.
func (t *Table) Location() string {
	return t.Storage.Location
}

// TableInput is the payload accepted by create/update table calls. It
// deliberately has no fields for catalog-owned audit data (creating user,
// create/update timestamps, database association, Lake Formation
// registration), so republishing a fetched definition cannot smuggle them
// back in.
type TableInput struct {
	Name          string
	Description   string
	Owner         string
	TableType     string
	Retention     int32
	Parameters    map[string]string
	PartitionKeys []Column
	Storage       StorageDescriptor
}

// Partition is a full catalog partition record. Identity is the owning
// table plus the ordered value tuple.
type Partition struct {
	Database     string
	Table        string
	Values       []string
	CreationTime time.Time
	Parameters   map[string]string
	Storage      StorageDescriptor
}

// PartitionInput is the payload accepted by batch partition creation. Like
// TableInput, it carries no owning-table identity and no creation
// timestamp: partition records are keyed by the table they are submitted
// under, so re-homing a partition is exactly "convert and submit
// elsewhere".
type PartitionInput struct {
	Values     []string
	Parameters map[string]string
	Storage    StorageDescriptor
}

// ToTableInput converts a fetched table definition into a mutation payload
// publishing it under a new name and storage location. Everything else
// (schema, formats, serde, partition keys, parameters) is carried over;
// the audit fields are dropped by construction.
func ToTableInput(t *Table, name, location string) TableInput {
	sd := cloneStorage(t.Storage)
	sd.Location = location
	return TableInput{
		Name:          name,
		Description:   t.Description,
		Owner:         t.Owner,
		TableType:     t.TableType,
		Retention:     t.Retention,
		Parameters:    maps.Clone(t.Parameters),
		PartitionKeys: cloneColumns(t.PartitionKeys),
		Storage:       sd,
	}
}

// ToPartitionInput converts a fetched partition record into a creation
// payload for submission under another table. The partition keeps its own
// storage location: after a swap the target's partitions point into the
// new generation's directories.
func ToPartitionInput(p Partition) PartitionInput {
	return PartitionInput{
		Values:     append([]string(nil), p.Values...),
		Parameters: maps.Clone(p.Parameters),
		Storage:    cloneStorage(p.Storage),
	}
}

// ValueKey renders a partition value tuple as a single comparable string.
func ValueKey(values []string) string {
	return strings.Join(values, "\x1f")
}

func cloneColumns(cols []Column) []Column {
	if cols == nil {
		return nil
	}
	return append([]Column(nil), cols...)
}

func cloneStorage(sd StorageDescriptor) StorageDescriptor {
	cp := sd
	cp.SerdeParameters = maps.Clone(sd.SerdeParameters)
	cp.Columns = cloneColumns(sd.Columns)
	cp.Parameters = maps.Clone(sd.Parameters)
	return cp
}

func cloneTable(t *Table) *Table {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Parameters = maps.Clone(t.Parameters)
	cp.PartitionKeys = cloneColumns(t.PartitionKeys)
	cp.Storage = cloneStorage(t.Storage)
	return &cp
}

func clonePartition(p Partition) Partition {
	cp := p
	cp.Values = append([]string(nil), p.Values...)
	cp.Parameters = maps.Clone(p.Parameters)
	cp.Storage = cloneStorage(p.Storage)
	return cp
}
