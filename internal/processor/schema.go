package processor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lakeshift/lakeshift/internal/catalog"
)

// Hive identifiers for parquet tables, as the catalog expects them.
const (
	parquetInputFormat  = "org.apache.hadoop.hive.ql.io.parquet.MapredParquetInputFormat"
	parquetOutputFormat = "org.apache.hadoop.hive.ql.io.parquet.MapredParquetOutputFormat"
	parquetSerde        = "org.apache.hadoop.hive.ql.io.parquet.serde.ParquetHiveSerDe"
)

type schemaField struct {
	Tag string `json:"Tag"`
}

type schemaDoc struct {
	Tag    string        `json:"Tag"`
	Fields []schemaField `json:"Fields"`
}

// buildSchema renders a parquet-go JSON schema for the given catalog
// columns. Every field is OPTIONAL; missing row fields become nulls.
func buildSchema(cols []catalog.Column) (string, error) {
	if len(cols) == 0 {
		return "", fmt.Errorf("processor: destination schema has no columns")
	}
	doc := schemaDoc{Tag: "name=parquet_go_root, repetitiontype=REQUIRED"}
	for _, c := range cols {
		doc.Fields = append(doc.Fields, schemaField{
			Tag: fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", c.Name, parquetType(c.Type)),
		})
	}
	buf, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("processor: failed to render schema: %w", err)
	}
	return string(buf), nil
}

// parquetType maps a Hive column type to parquet-go tag attributes. Types
// without a native parquet shape (decimal, arrays, maps, structs) fall back
// to UTF8; their values are carried as JSON text.
func parquetType(hiveType string) string {
	base := strings.ToLower(strings.TrimSpace(hiveType))
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = base[:i]
	}
	switch base {
	case "string", "char", "varchar":
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	case "tinyint":
		return "type=INT32, convertedtype=INT_8"
	case "smallint":
		return "type=INT32, convertedtype=INT_16"
	case "int", "integer":
		return "type=INT32"
	case "bigint":
		return "type=INT64"
	case "float":
		return "type=FLOAT"
	case "double":
		return "type=DOUBLE"
	case "boolean":
		return "type=BOOLEAN"
	case "date":
		return "type=INT32, convertedtype=DATE"
	case "timestamp":
		return "type=INT64, convertedtype=TIMESTAMP_MILLIS"
	default:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	}
}

// dataColumns returns the source's data columns minus the destination
// partition keys. Hive forbids a column appearing both in the schema and in
// the partition key list, and partition values live in the directory names
// rather than the files.
func dataColumns(src *catalog.Table, partitionKeys []string) []catalog.Column {
	keys := make(map[string]bool, len(partitionKeys))
	for _, k := range partitionKeys {
		keys[k] = true
	}
	var cols []catalog.Column
	for _, c := range src.Storage.Columns {
		if !keys[c.Name] {
			cols = append(cols, c)
		}
	}
	return cols
}

// keyColumns builds the destination partition key columns, taking each
// key's type from the source's partition keys or data columns. Unknown keys
// default to string, which is how the catalog renders any partition value.
func keyColumns(src *catalog.Table, partitionKeys []string) []catalog.Column {
	var cols []catalog.Column
	for _, k := range partitionKeys {
		typ := "string"
		for _, c := range src.PartitionKeys {
			if c.Name == k {
				typ = c.Type
			}
		}
		for _, c := range src.Storage.Columns {
			if c.Name == k {
				typ = c.Type
			}
		}
		cols = append(cols, catalog.Column{Name: k, Type: typ})
	}
	return cols
}
