package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/lakeshift/lakeshift/internal/catalog"
	lkerrors "github.com/lakeshift/lakeshift/internal/errors"
	"github.com/lakeshift/lakeshift/internal/storage"
)

// DefaultSampleFraction is the share of source rows kept when the
// configuration does not say otherwise.
const DefaultSampleFraction = 0.7

const (
	sampleScale          = 1_000_000
	parquetRowGroupSize  = 128 * 1024 * 1024
	parquetWriterThreads = 4

	hiveDefaultPartition = "__HIVE_DEFAULT_PARTITION__"
)

// Config holds the copy processor's dependencies and tuning.
type Config struct {
	Catalog catalog.Catalog
	Storage storage.ObjectStorage

	// WorkDir is the scratch directory for source downloads and parquet
	// builds. Defaults to the system temp directory.
	WorkDir string

	// SampleFraction keeps this share of source rows, selected by a
	// deterministic row hash so re-runs of the same input keep the same
	// rows. Must be in (0, 1]. Defaults to 0.7.
	SampleFraction float64

	// Fanout bounds how many source partitions materialize concurrently.
	// Defaults to 1.
	Fanout int

	Logger *slog.Logger
}

// Validate fills defaults and rejects unusable configurations.
func (c *Config) Validate() error {
	if c.Catalog == nil {
		return errors.New("catalog is required")
	}
	if c.Storage == nil {
		return errors.New("storage is required")
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	if c.SampleFraction == 0 {
		c.SampleFraction = DefaultSampleFraction
	}
	if c.SampleFraction < 0 || c.SampleFraction > 1 {
		return fmt.Errorf("sample fraction %v outside (0, 1]", c.SampleFraction)
	}
	if c.Fanout <= 0 {
		c.Fanout = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Copy is the default processor: it reads the source table's JSON-lines
// data objects, samples rows deterministically, regroups them by the
// destination partition keys, and writes one snappy parquet file per
// group before registering the destination in the catalog.
type Copy struct {
	cfg        Config
	logger     *slog.Logger
	downloader *storage.BatchDownloader
	pool       pond.ResultPool[unitResult]
}

var _ Processor = (*Copy)(nil)

// NewCopy creates a Copy processor from the given configuration.
func NewCopy(cfg Config) (*Copy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Copy{
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "processor"),
		downloader: storage.NewBatchDownloader(cfg.Storage, cfg.Fanout, cfg.WorkDir),
		pool:       pond.NewResultPool[unitResult](cfg.Fanout),
	}, nil
}

// sourceUnit is one slice of source data: a source partition, or the table
// root when the source is unpartitioned.
type sourceUnit struct {
	location  string
	keyFields []string
	values    []string
}

type rowGroup struct {
	values []string
	rows   []string
}

type unitResult struct {
	rowsRead   int
	rowsKept   int
	objects    int
	bytes      int64
	partitions map[string][]string
}

// Materialize implements Processor.
func (c *Copy) Materialize(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	src, err := c.cfg.Catalog.GetTable(ctx, req.SourceDatabase, req.SourceTable)
	if err != nil {
		return nil, lkerrors.NewProcessorError(
			fmt.Sprintf("source table %s.%s unavailable", req.SourceDatabase, req.SourceTable), err)
	}

	outCols := dataColumns(src, req.PartitionKeys)
	schema, err := buildSchema(outCols)
	if err != nil {
		return nil, lkerrors.NewProcessorError("failed to build destination schema", err)
	}

	destPrefix, err := c.cfg.Storage.KeyFor(req.Location)
	if err != nil {
		return nil, lkerrors.NewProcessorError(
			fmt.Sprintf("destination location %q not writable", req.Location), err)
	}
	if !strings.HasSuffix(destPrefix, "/") {
		destPrefix += "/"
	}

	units, err := c.sourceUnits(ctx, src)
	if err != nil {
		return nil, lkerrors.NewProcessorError("failed to enumerate source partitions", err)
	}

	c.logger.Info("materializing",
		"source", src.Ref().String(),
		"destination", req.Database+"."+req.Table,
		"location", req.Location,
		"units", len(units),
		"sample", c.cfg.SampleFraction)

	group := c.pool.NewGroupContext(ctx)
	for _, u := range units {
		unit := u
		group.SubmitErr(func() (unitResult, error) {
			return c.materializeUnit(ctx, req, unit, schema, outCols, destPrefix)
		})
	}
	results, err := group.Wait()
	if err != nil {
		return nil, lkerrors.NewProcessorError(
			fmt.Sprintf("materialization into %s failed", req.Location), err,
		).WithDetails(map[string]interface{}{
			"destination": req.Database + "." + req.Table,
		})
	}

	res := &Result{}
	partitions := make(map[string][]string)
	for _, ur := range results {
		res.RowsRead += ur.rowsRead
		res.RowsWritten += ur.rowsKept
		res.Objects += ur.objects
		res.Bytes += ur.bytes
		for vk, values := range ur.partitions {
			partitions[vk] = values
		}
	}

	registered, err := c.register(ctx, req, src, outCols, partitions)
	if err != nil {
		return nil, lkerrors.NewProcessorError(
			fmt.Sprintf("failed to register %s.%s", req.Database, req.Table), err)
	}
	res.Partitions = registered

	c.logger.Info("materialized",
		"destination", req.Database+"."+req.Table,
		"rows_read", res.RowsRead,
		"rows_written", res.RowsWritten,
		"partitions", res.Partitions,
		"objects", res.Objects,
		"bytes", res.Bytes)
	return res, nil
}

// sourceUnits enumerates the source's partitions as work units. An
// unpartitioned source, or one with no partitions registered, yields a
// single unit over the table root.
func (c *Copy) sourceUnits(ctx context.Context, src *catalog.Table) ([]sourceUnit, error) {
	keyFields := make([]string, 0, len(src.PartitionKeys))
	for _, k := range src.PartitionKeys {
		keyFields = append(keyFields, k.Name)
	}

	var units []sourceUnit
	pager := c.cfg.Catalog.Partitions(src.Database, src.Name)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range page {
			units = append(units, sourceUnit{
				location:  p.Storage.Location,
				keyFields: keyFields,
				values:    p.Values,
			})
		}
	}
	if len(units) == 0 {
		units = append(units, sourceUnit{location: src.Location()})
	}
	return units, nil
}

func (c *Copy) materializeUnit(ctx context.Context, req Request, unit sourceUnit, schema string, outCols []catalog.Column, destPrefix string) (unitResult, error) {
	out := unitResult{partitions: make(map[string][]string)}

	prefix, err := c.cfg.Storage.KeyFor(unit.location)
	if err != nil {
		return out, fmt.Errorf("resolve source location %q: %w", unit.location, err)
	}
	// Delimit the prefix so dt=2019 cannot also match dt=20199.
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	keys, err := c.cfg.Storage.ListObjects(ctx, prefix)
	if err != nil {
		return out, fmt.Errorf("list %s: %w", prefix, err)
	}
	var dataKeys []string
	for _, k := range keys {
		if decodableObject(k) {
			dataKeys = append(dataKeys, k)
		}
	}
	if len(dataKeys) == 0 {
		return out, nil
	}

	batch, err := c.downloader.Download(ctx, dataKeys)
	if err != nil {
		return out, err
	}
	for key, derr := range batch.Errors {
		return out, fmt.Errorf("fetch %s: %w", key, derr)
	}

	groups := make(map[string]*rowGroup)
	for _, key := range dataKeys {
		err := readRows(batch.LocalPaths[key], func(row map[string]any) error {
			out.rowsRead++
			// Source partition values become row fields unless the rows
			// already carry them.
			for i, f := range unit.keyFields {
				if _, ok := row[f]; !ok {
					row[f] = unit.values[i]
				}
			}
			keep, err := c.keep(row)
			if err != nil {
				return err
			}
			if !keep {
				return nil
			}
			values := outputValues(row, req.PartitionKeys)
			rendered, err := renderRow(row, outCols)
			if err != nil {
				return err
			}
			vk := catalog.ValueKey(values)
			g := groups[vk]
			if g == nil {
				g = &rowGroup{values: values}
				groups[vk] = g
			}
			g.rows = append(g.rows, rendered)
			out.rowsKept++
			return nil
		})
		if err != nil {
			return out, err
		}
	}

	for vk, g := range groups {
		hiveDir := ""
		if len(req.PartitionKeys) > 0 {
			hiveDir = hivePath(req.PartitionKeys, g.values) + "/"
		}
		size, err := c.writeGroup(ctx, destPrefix, hiveDir, schema, g.rows)
		if err != nil {
			return out, err
		}
		out.objects++
		out.bytes += size
		if len(req.PartitionKeys) > 0 {
			out.partitions[vk] = g.values
		}
	}
	return out, nil
}

// keep decides whether a row survives sampling. The hash input is the
// row's canonical JSON (map keys marshal sorted), so the decision is a
// pure function of the row's content.
func (c *Copy) keep(row map[string]any) (bool, error) {
	if c.cfg.SampleFraction >= 1 {
		return true, nil
	}
	buf, err := json.Marshal(row)
	if err != nil {
		return false, fmt.Errorf("hash row: %w", err)
	}
	h := murmur3.New128()
	h.Write(buf)
	h1, _ := h.Sum128()
	return h1%sampleScale < uint64(c.cfg.SampleFraction*sampleScale), nil
}

// writeGroup builds one parquet file in the scratch dir and uploads it
// under the destination partition directory.
func (c *Copy) writeGroup(ctx context.Context, destPrefix, hiveDir, schema string, rows []string) (int64, error) {
	name := fmt.Sprintf("part-%s.snappy.parquet", uuid.New().String())
	localPath := filepath.Join(c.cfg.WorkDir, name)

	fw, err := local.NewLocalFileWriter(localPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", localPath, err)
	}
	defer os.Remove(localPath)

	jw, err := writer.NewJSONWriter(schema, fw, parquetWriterThreads)
	if err != nil {
		fw.Close()
		return 0, fmt.Errorf("create parquet writer: %w", err)
	}
	jw.CompressionType = parquet.CompressionCodec_SNAPPY
	jw.RowGroupSize = parquetRowGroupSize

	for _, row := range rows {
		if err := jw.Write(row); err != nil {
			fw.Close()
			return 0, fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := jw.WriteStop(); err != nil {
		fw.Close()
		return 0, fmt.Errorf("close parquet writer: %w", err)
	}
	if err := fw.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", localPath, err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", localPath, err)
	}

	key := destPrefix + hiveDir + name
	if _, err := c.cfg.Storage.UploadMultipart(ctx, localPath, key); err != nil {
		return 0, fmt.Errorf("upload %s: %w", key, err)
	}
	return info.Size(), nil
}

// register creates the destination table and its partitions. The table
// shape is the Hive parquet shape: MapredParquet input/output formats,
// ParquetHiveSerDe, classification=parquet.
func (c *Copy) register(ctx context.Context, req Request, src *catalog.Table, outCols []catalog.Column, partitions map[string][]string) (int, error) {
	input := catalog.TableInput{
		Name:          req.Table,
		TableType:     "EXTERNAL_TABLE",
		Parameters:    map[string]string{"classification": "parquet"},
		PartitionKeys: keyColumns(src, req.PartitionKeys),
		Storage: catalog.StorageDescriptor{
			Location:        req.Location,
			InputFormat:     parquetInputFormat,
			OutputFormat:    parquetOutputFormat,
			SerdeLibrary:    parquetSerde,
			SerdeParameters: map[string]string{"serialization.format": "1"},
			Parameters:      map[string]string{"classification": "parquet", "compressionType": "snappy"},
			Columns:         outCols,
			Compressed:      true,
		},
	}
	if err := c.cfg.Catalog.CreateTable(ctx, req.Database, input); err != nil {
		return 0, fmt.Errorf("create table %s.%s: %w", req.Database, req.Table, err)
	}
	if len(req.PartitionKeys) == 0 || len(partitions) == 0 {
		return 0, nil
	}

	valueKeys := make([]string, 0, len(partitions))
	for vk := range partitions {
		valueKeys = append(valueKeys, vk)
	}
	sort.Strings(valueKeys)

	root := strings.TrimSuffix(req.Location, "/")
	registered := 0
	var batch []catalog.PartitionInput
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.cfg.Catalog.BatchCreatePartitions(ctx, req.Database, req.Table, batch); err != nil {
			return fmt.Errorf("create partitions on %s.%s: %w", req.Database, req.Table, err)
		}
		registered += len(batch)
		batch = nil
		return nil
	}
	for _, vk := range valueKeys {
		values := partitions[vk]
		batch = append(batch, catalog.PartitionInput{
			Values:     values,
			Parameters: map[string]string{"classification": "parquet", "compressionType": "snappy"},
			Storage: catalog.StorageDescriptor{
				Location:        root + "/" + hivePath(req.PartitionKeys, values),
				InputFormat:     parquetInputFormat,
				OutputFormat:    parquetOutputFormat,
				SerdeLibrary:    parquetSerde,
				SerdeParameters: map[string]string{"serialization.format": "1"},
			},
		})
		if len(batch) == catalog.MaxBatchCreate {
			if err := flush(); err != nil {
				return registered, err
			}
		}
	}
	if err := flush(); err != nil {
		return registered, err
	}
	return registered, nil
}

// outputValues renders a row's destination partition values in key order.
func outputValues(row map[string]any, keys []string) []string {
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = formatPartitionValue(row[k])
	}
	return values
}

// formatPartitionValue renders a row field as a Hive partition value.
// Missing and empty values take the Hive default partition name.
func formatPartitionValue(v any) string {
	switch v := v.(type) {
	case nil:
		return hiveDefaultPartition
	case string:
		if v == "" {
			return hiveDefaultPartition
		}
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

var partitionValueEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "=", "%3D")

// hivePath renders key=value directory segments for a partition.
func hivePath(keys, values []string) string {
	segs := make([]string, len(keys))
	for i := range keys {
		segs[i] = keys[i] + "=" + partitionValueEscaper.Replace(values[i])
	}
	return strings.Join(segs, "/")
}

// renderRow serializes the schema columns of a row for the parquet writer.
// Nested values land in UTF8 fallback columns, carried as JSON text.
func renderRow(row map[string]any, cols []catalog.Column) (string, error) {
	out := make(map[string]any, len(cols))
	for _, col := range cols {
		v, ok := row[col.Name]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			buf, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("render column %s: %w", col.Name, err)
			}
			out[col.Name] = string(buf)
		default:
			out[col.Name] = v
		}
	}
	buf, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("render row: %w", err)
	}
	return string(buf), nil
}
