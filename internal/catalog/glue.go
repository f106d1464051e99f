package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
)

// GlueConfig holds configuration for the Glue catalog client.
type GlueConfig struct {
	// Region is the AWS region of the Data Catalog.
	Region string

	// Endpoint overrides the Glue endpoint, for emulators and tests.
	Endpoint string

	// PageSize is the partition listing page size (default 100).
	PageSize int32
}

// Glue implements Catalog against the AWS Glue Data Catalog.
type Glue struct {
	client   *glue.Client
	pageSize int32
	logger   *slog.Logger
}

var _ Catalog = (*Glue)(nil)

// NewGlue creates a Glue catalog client using the default AWS credential
// chain.
func NewGlue(ctx context.Context, cfg GlueConfig, logger *slog.Logger) (*Glue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var optFns []func(*config.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to load AWS config: %w", err)
	}

	client := glue.NewFromConfig(awsCfg, func(o *glue.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	return &Glue{
		client:   client,
		pageSize: pageSize,
		logger:   logger.With("component", "glue-catalog"),
	}, nil
}

// GetDatabase returns the database definition.
func (g *Glue) GetDatabase(ctx context.Context, name string) (*Database, error) {
	out, err := g.client.GetDatabase(ctx, &glue.GetDatabaseInput{
		Name: aws.String(name),
	})
	if err != nil {
		var nf *types.EntityNotFoundException
		if errors.As(err, &nf) {
			return nil, ErrDatabaseNotFound
		}
		return nil, fmt.Errorf("catalog: failed to get database %s: %w", name, err)
	}

	db := out.Database
	return &Database{
		Name:        aws.ToString(db.Name),
		LocationURI: aws.ToString(db.LocationUri),
		Description: aws.ToString(db.Description),
		Parameters:  db.Parameters,
	}, nil
}

// GetTable returns the table definition. Absence maps to ErrTableNotFound;
// any other failure is surfaced as-is so callers never mistake an outage
// for a missing table.
func (g *Glue) GetTable(ctx context.Context, database, name string) (*Table, error) {
	out, err := g.client.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(database),
		Name:         aws.String(name),
	})
	if err != nil {
		var nf *types.EntityNotFoundException
		if errors.As(err, &nf) {
			return nil, ErrTableNotFound
		}
		return nil, fmt.Errorf("catalog: failed to get table %s.%s: %w", database, name, err)
	}

	return tableFromGlue(database, out.Table), nil
}

// CreateTable registers a new table.
func (g *Glue) CreateTable(ctx context.Context, database string, input TableInput) error {
	_, err := g.client.CreateTable(ctx, &glue.CreateTableInput{
		DatabaseName: aws.String(database),
		TableInput:   tableInputToGlue(input),
	})
	if err != nil {
		var exists *types.AlreadyExistsException
		if errors.As(err, &exists) {
			return fmt.Errorf("%w: %s.%s", ErrTableExists, database, input.Name)
		}
		return fmt.Errorf("catalog: failed to create table %s.%s: %w", database, input.Name, err)
	}
	return nil
}

// UpdateTable replaces the full definition of an existing table.
func (g *Glue) UpdateTable(ctx context.Context, database string, input TableInput) error {
	_, err := g.client.UpdateTable(ctx, &glue.UpdateTableInput{
		DatabaseName: aws.String(database),
		TableInput:   tableInputToGlue(input),
	})
	if err != nil {
		var nf *types.EntityNotFoundException
		if errors.As(err, &nf) {
			return fmt.Errorf("%w: %s.%s", ErrTableNotFound, database, input.Name)
		}
		return fmt.Errorf("catalog: failed to update table %s.%s: %w", database, input.Name, err)
	}
	return nil
}

// DeleteTable removes a table. Glue drops the table's partitions with it.
func (g *Glue) DeleteTable(ctx context.Context, database, name string) error {
	_, err := g.client.DeleteTable(ctx, &glue.DeleteTableInput{
		DatabaseName: aws.String(database),
		Name:         aws.String(name),
	})
	if err != nil {
		var nf *types.EntityNotFoundException
		if errors.As(err, &nf) {
			return fmt.Errorf("%w: %s.%s", ErrTableNotFound, database, name)
		}
		return fmt.Errorf("catalog: failed to delete table %s.%s: %w", database, name, err)
	}
	return nil
}

// ListTables returns the tables whose names start with prefix. The prefix
// is pushed down as a Glue expression and re-checked client-side, so the
// result does not depend on the service's pattern dialect.
func (g *Glue) ListTables(ctx context.Context, database, prefix string) ([]*Table, error) {
	input := &glue.GetTablesInput{
		DatabaseName: aws.String(database),
		MaxResults:   aws.Int32(g.pageSize),
	}
	if prefix != "" {
		input.Expression = aws.String(prefix + ".*")
	}

	var tables []*Table
	paginator := glue.NewGetTablesPaginator(g.client, input)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			var nf *types.EntityNotFoundException
			if errors.As(err, &nf) {
				return nil, ErrDatabaseNotFound
			}
			return nil, fmt.Errorf("catalog: failed to list tables in %s: %w", database, err)
		}
		for i := range out.TableList {
			t := tableFromGlue(database, &out.TableList[i])
			if strings.HasPrefix(t.Name, prefix) {
				tables = append(tables, t)
			}
		}
	}
	return tables, nil
}

// Partitions returns a pager over the table's partitions.
func (g *Glue) Partitions(database, table string) PartitionPager {
	inner := glue.NewGetPartitionsPaginator(g.client, &glue.GetPartitionsInput{
		DatabaseName: aws.String(database),
		TableName:    aws.String(table),
		MaxResults:   aws.Int32(g.pageSize),
	})
	return &gluePartitionPager{database: database, table: table, inner: inner}
}

type gluePartitionPager struct {
	database string
	table    string
	inner    *glue.GetPartitionsPaginator
}

func (p *gluePartitionPager) HasMorePages() bool {
	return p.inner.HasMorePages()
}

func (p *gluePartitionPager) NextPage(ctx context.Context) ([]Partition, error) {
	out, err := p.inner.NextPage(ctx)
	if err != nil {
		var nf *types.EntityNotFoundException
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, p.database, p.table)
		}
		return nil, fmt.Errorf("catalog: failed to list partitions of %s.%s: %w", p.database, p.table, err)
	}

	parts := make([]Partition, 0, len(out.Partitions))
	for i := range out.Partitions {
		parts = append(parts, partitionFromGlue(p.database, p.table, out.Partitions[i]))
	}
	return parts, nil
}

// BatchCreatePartitions registers up to MaxBatchCreate partitions.
func (g *Glue) BatchCreatePartitions(ctx context.Context, database, table string, parts []PartitionInput) error {
	if len(parts) == 0 {
		return nil
	}
	if err := checkBatch("create", len(parts), MaxBatchCreate); err != nil {
		return err
	}

	inputs := make([]types.PartitionInput, 0, len(parts))
	for _, p := range parts {
		inputs = append(inputs, partitionInputToGlue(p))
	}

	out, err := g.client.BatchCreatePartition(ctx, &glue.BatchCreatePartitionInput{
		DatabaseName:       aws.String(database),
		TableName:          aws.String(table),
		PartitionInputList: inputs,
	})
	if err != nil {
		return fmt.Errorf("catalog: batch create on %s.%s failed: %w", database, table, err)
	}
	return g.batchErrors("create", database, table, out.Errors, "AlreadyExistsException")
}

// BatchDeletePartitions removes up to MaxBatchDelete partitions by value
// tuple.
func (g *Glue) BatchDeletePartitions(ctx context.Context, database, table string, values [][]string) error {
	if len(values) == 0 {
		return nil
	}
	if err := checkBatch("delete", len(values), MaxBatchDelete); err != nil {
		return err
	}

	toDelete := make([]types.PartitionValueList, 0, len(values))
	for _, v := range values {
		toDelete = append(toDelete, types.PartitionValueList{Values: v})
	}

	out, err := g.client.BatchDeletePartition(ctx, &glue.BatchDeletePartitionInput{
		DatabaseName:       aws.String(database),
		TableName:          aws.String(table),
		PartitionsToDelete: toDelete,
	})
	if err != nil {
		return fmt.Errorf("catalog: batch delete on %s.%s failed: %w", database, table, err)
	}
	return g.batchErrors("delete", database, table, out.Errors, "EntityNotFoundException")
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (g *Glue) Close() error {
	return nil
}

// batchErrors reduces the per-entry error list of a batch response.
// Entries whose code equals tolerated are counted as success: an
// already-existing partition on create and an already-missing partition on
// delete both mean the catalog is in the state the caller wanted.
func (g *Glue) batchErrors(op, database, table string, entries []types.PartitionError, tolerated string) error {
	var (
		hard        int
		skipped     int
		firstValues []string
		firstCode   string
		firstMsg    string
	)
	for _, pe := range entries {
		var code, msg string
		if pe.ErrorDetail != nil {
			code = aws.ToString(pe.ErrorDetail.ErrorCode)
			msg = aws.ToString(pe.ErrorDetail.ErrorMessage)
		}
		if code == tolerated {
			skipped++
			continue
		}
		if hard == 0 {
			firstValues = pe.PartitionValues
			firstCode = code
			firstMsg = msg
		}
		hard++
	}

	if skipped > 0 {
		g.logger.Debug("tolerated batch entries",
			"op", op, "table", database+"."+table, "code", tolerated, "count", skipped)
	}
	if hard == 0 {
		return nil
	}
	return fmt.Errorf("catalog: batch %s on %s.%s rejected %d partitions, first %v: %s: %s",
		op, database, table, hard, firstValues, firstCode, firstMsg)
}

// Conversions between the catalog model and Glue wire types.

func tableFromGlue(database string, t *types.Table) *Table {
	if t == nil {
		return nil
	}
	out := &Table{
		Database:                      database,
		Name:                          aws.ToString(t.Name),
		Description:                   aws.ToString(t.Description),
		Owner:                         aws.ToString(t.Owner),
		TableType:                     aws.ToString(t.TableType),
		Retention:                     t.Retention,
		Parameters:                    t.Parameters,
		PartitionKeys:                 columnsFromGlue(t.PartitionKeys),
		Storage:                       sdFromGlue(t.StorageDescriptor),
		CreatedBy:                     aws.ToString(t.CreatedBy),
		CreateTime:                    aws.ToTime(t.CreateTime),
		UpdateTime:                    aws.ToTime(t.UpdateTime),
		IsRegisteredWithLakeFormation: t.IsRegisteredWithLakeFormation,
	}
	if dbName := aws.ToString(t.DatabaseName); dbName != "" {
		out.Database = dbName
	}
	return out
}

func tableInputToGlue(in TableInput) *types.TableInput {
	sd := sdToGlue(in.Storage)
	return &types.TableInput{
		Name:              aws.String(in.Name),
		Description:       stringOrNil(in.Description),
		Owner:             stringOrNil(in.Owner),
		TableType:         stringOrNil(in.TableType),
		Retention:         in.Retention,
		Parameters:        in.Parameters,
		PartitionKeys:     columnsToGlue(in.PartitionKeys),
		StorageDescriptor: sd,
	}
}

func partitionFromGlue(database, table string, p types.Partition) Partition {
	out := Partition{
		Database:     database,
		Table:        table,
		Values:       p.Values,
		CreationTime: aws.ToTime(p.CreationTime),
		Parameters:   p.Parameters,
		Storage:      sdFromGlue(p.StorageDescriptor),
	}
	if dbName := aws.ToString(p.DatabaseName); dbName != "" {
		out.Database = dbName
	}
	if tName := aws.ToString(p.TableName); tName != "" {
		out.Table = tName
	}
	return out
}

func partitionInputToGlue(in PartitionInput) types.PartitionInput {
	return types.PartitionInput{
		Values:            in.Values,
		Parameters:        in.Parameters,
		StorageDescriptor: sdToGlue(in.Storage),
	}
}

func columnsFromGlue(cols []types.Column) []Column {
	if len(cols) == 0 {
		return nil
	}
	out := make([]Column, 0, len(cols))
	for _, c := range cols {
		out = append(out, Column{
			Name:    aws.ToString(c.Name),
			Type:    aws.ToString(c.Type),
			Comment: aws.ToString(c.Comment),
		})
	}
	return out
}

func columnsToGlue(cols []Column) []types.Column {
	if len(cols) == 0 {
		return nil
	}
	out := make([]types.Column, 0, len(cols))
	for _, c := range cols {
		out = append(out, types.Column{
			Name:    aws.String(c.Name),
			Type:    stringOrNil(c.Type),
			Comment: stringOrNil(c.Comment),
		})
	}
	return out
}

func sdFromGlue(sd *types.StorageDescriptor) StorageDescriptor {
	if sd == nil {
		return StorageDescriptor{}
	}
	out := StorageDescriptor{
		Location:     aws.ToString(sd.Location),
		InputFormat:  aws.ToString(sd.InputFormat),
		OutputFormat: aws.ToString(sd.OutputFormat),
		Columns:      columnsFromGlue(sd.Columns),
		Parameters:   sd.Parameters,
		Compressed:   sd.Compressed,
	}
	if sd.SerdeInfo != nil {
		out.SerdeLibrary = aws.ToString(sd.SerdeInfo.SerializationLibrary)
		out.SerdeParameters = sd.SerdeInfo.Parameters
	}
	return out
}

func sdToGlue(sd StorageDescriptor) *types.StorageDescriptor {
	out := &types.StorageDescriptor{
		Location:     stringOrNil(sd.Location),
		InputFormat:  stringOrNil(sd.InputFormat),
		OutputFormat: stringOrNil(sd.OutputFormat),
		Columns:      columnsToGlue(sd.Columns),
		Parameters:   sd.Parameters,
		Compressed:   sd.Compressed,
	}
	if sd.SerdeLibrary != "" || len(sd.SerdeParameters) > 0 {
		out.SerdeInfo = &types.SerDeInfo{
			SerializationLibrary: stringOrNil(sd.SerdeLibrary),
			Parameters:           sd.SerdeParameters,
		}
	}
	return out
}

func stringOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
