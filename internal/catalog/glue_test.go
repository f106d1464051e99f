package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newFakeGlue starts an HTTP server speaking the Glue JSON protocol and
// returns a client pointed at it. Handlers are keyed by operation name
// taken from the X-Amz-Target header.
func newFakeGlue(t *testing.T, handlers map[string]func(body []byte) (int, string)) *Glue {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := strings.TrimPrefix(r.Header.Get("X-Amz-Target"), "AWSGlue.")
		h, ok := handlers[op]
		if !ok {
			t.Errorf("unexpected operation %s", op)
			writeGlueJSON(w, http.StatusBadRequest, `{"__type":"InvalidInputException","Message":"unexpected operation"}`)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("failed to read request body: %v", err)
		}
		status, resp := h(body)
		writeGlueJSON(w, status, resp)
	}))
	t.Cleanup(srv.Close)

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	g, err := NewGlue(context.Background(), GlueConfig{
		Region:   "us-east-1",
		Endpoint: srv.URL,
		PageSize: 2,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create glue catalog: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func writeGlueJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func TestGlue_GetTable(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"GetTable": func(body []byte) (int, string) {
			var req struct {
				DatabaseName string
				Name         string
			}
			if err := json.Unmarshal(body, &req); err != nil {
				t.Fatalf("failed to decode request: %v", err)
			}
			if req.DatabaseName != "analytics" || req.Name != "events" {
				t.Errorf("unexpected request: %+v", req)
			}
			return http.StatusOK, `{"Table":{
				"Name": "events",
				"DatabaseName": "analytics",
				"Owner": "pipeline",
				"TableType": "EXTERNAL_TABLE",
				"Retention": 7,
				"CreateTime": 1736496000,
				"UpdateTime": 1736499600,
				"CreatedBy": "arn:aws:iam::123456789012:role/pipeline",
				"IsRegisteredWithLakeFormation": true,
				"Parameters": {"classification": "parquet"},
				"PartitionKeys": [{"Name": "dt", "Type": "string"}],
				"StorageDescriptor": {
					"Location": "s3://lake/analytics/events/version_3/",
					"InputFormat": "org.apache.hadoop.hive.ql.io.parquet.MapredParquetInputFormat",
					"OutputFormat": "org.apache.hadoop.hive.ql.io.parquet.MapredParquetOutputFormat",
					"Columns": [{"Name": "user_id", "Type": "bigint"}],
					"SerdeInfo": {
						"SerializationLibrary": "org.apache.hadoop.hive.ql.io.parquet.serde.ParquetHiveSerDe",
						"Parameters": {"serialization.format": "1"}
					}
				}
			}}`
		},
	})

	got, err := g.GetTable(context.Background(), "analytics", "events")
	if err != nil {
		t.Fatalf("failed to get table: %v", err)
	}
	if got.Name != "events" || got.Database != "analytics" {
		t.Errorf("ref mismatch: %s", got.Ref())
	}
	if got.Location() != "s3://lake/analytics/events/version_3/" {
		t.Errorf("location mismatch: %s", got.Location())
	}
	if got.Retention != 7 {
		t.Errorf("retention mismatch: %d", got.Retention)
	}
	if got.CreateTime.Unix() != 1736496000 {
		t.Errorf("create time mismatch: %v", got.CreateTime)
	}
	if got.CreatedBy != "arn:aws:iam::123456789012:role/pipeline" {
		t.Errorf("created by mismatch: %s", got.CreatedBy)
	}
	if !got.IsRegisteredWithLakeFormation {
		t.Error("lake formation flag lost")
	}
	if got.Storage.SerdeLibrary != "org.apache.hadoop.hive.ql.io.parquet.serde.ParquetHiveSerDe" {
		t.Errorf("serde mismatch: %s", got.Storage.SerdeLibrary)
	}
	if got.Storage.SerdeParameters["serialization.format"] != "1" {
		t.Errorf("serde parameters mismatch: %+v", got.Storage.SerdeParameters)
	}
	if len(got.PartitionKeys) != 1 || got.PartitionKeys[0].Name != "dt" {
		t.Errorf("partition keys mismatch: %+v", got.PartitionKeys)
	}
}

func TestGlue_GetTableNotFound(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"GetTable": func([]byte) (int, string) {
			return http.StatusBadRequest, `{"__type":"EntityNotFoundException","Message":"Table events not found"}`
		},
	})

	_, err := g.GetTable(context.Background(), "analytics", "events")
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

// A failing request must surface as a plain error, never as absence:
// treating an outage as a missing table would route the caller into
// first-write handling and clobber the live location.
func TestGlue_GetTableRequestFailure(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"GetTable": func([]byte) (int, string) {
			return http.StatusBadRequest, `{"__type":"AccessDeniedException","Message":"not authorized"}`
		},
	})

	_, err := g.GetTable(context.Background(), "analytics", "events")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrTableNotFound) {
		t.Fatalf("request failure conflated with absence: %v", err)
	}
}

func TestGlue_GetDatabase(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"GetDatabase": func([]byte) (int, string) {
			return http.StatusOK, `{"Database":{"Name":"analytics","LocationUri":"s3://lake/analytics"}}`
		},
	})

	db, err := g.GetDatabase(context.Background(), "analytics")
	if err != nil {
		t.Fatalf("failed to get database: %v", err)
	}
	if db.LocationURI != "s3://lake/analytics" {
		t.Errorf("location uri mismatch: %s", db.LocationURI)
	}
}

func TestGlue_GetDatabaseNotFound(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"GetDatabase": func([]byte) (int, string) {
			return http.StatusBadRequest, `{"__type":"EntityNotFoundException","Message":"Database missing not found"}`
		},
	})

	_, err := g.GetDatabase(context.Background(), "missing")
	if !errors.Is(err, ErrDatabaseNotFound) {
		t.Fatalf("expected ErrDatabaseNotFound, got %v", err)
	}
}

func TestGlue_CreateTableAlreadyExists(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"CreateTable": func([]byte) (int, string) {
			return http.StatusBadRequest, `{"__type":"AlreadyExistsException","Message":"Table already exists"}`
		},
	})

	err := g.CreateTable(context.Background(), "analytics", TableInput{Name: "events"})
	if !errors.Is(err, ErrTableExists) {
		t.Fatalf("expected ErrTableExists, got %v", err)
	}
}

// The published table definition must never carry catalog-owned audit
// fields; the wire shape is checked on the raw request body.
func TestGlue_UpdateTableWireShape(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"UpdateTable": func(body []byte) (int, string) {
			var req struct {
				DatabaseName string
				TableInput   map[string]json.RawMessage
			}
			if err := json.Unmarshal(body, &req); err != nil {
				t.Fatalf("failed to decode request: %v", err)
			}
			for _, field := range []string{"CreatedBy", "CreateTime", "UpdateTime", "DatabaseName", "IsRegisteredWithLakeFormation"} {
				if _, present := req.TableInput[field]; present {
					t.Errorf("audit field %s leaked into table input", field)
				}
			}
			if string(req.TableInput["Name"]) != `"events"` {
				t.Errorf("name missing from table input: %s", req.TableInput["Name"])
			}
			return http.StatusOK, `{}`
		},
	})

	err := g.UpdateTable(context.Background(), "analytics", TableInput{
		Name:    "events",
		Storage: StorageDescriptor{Location: "s3://lake/analytics/events/version_4/"},
	})
	if err != nil {
		t.Fatalf("failed to update table: %v", err)
	}
}

func TestGlue_DeleteTableNotFound(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"DeleteTable": func([]byte) (int, string) {
			return http.StatusBadRequest, `{"__type":"EntityNotFoundException","Message":"Table gone already"}`
		},
	})

	err := g.DeleteTable(context.Background(), "analytics", "stale_staging")
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

func TestGlue_PartitionsPaging(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"GetPartitions": func(body []byte) (int, string) {
			var req struct {
				NextToken string
			}
			if err := json.Unmarshal(body, &req); err != nil {
				t.Fatalf("failed to decode request: %v", err)
			}
			if req.NextToken == "" {
				return http.StatusOK, `{
					"Partitions": [
						{"Values": ["2026-01-10"], "StorageDescriptor": {"Location": "s3://lake/p/dt=2026-01-10/"}},
						{"Values": ["2026-01-11"], "StorageDescriptor": {"Location": "s3://lake/p/dt=2026-01-11/"}}
					],
					"NextToken": "page-2"
				}`
			}
			if req.NextToken != "page-2" {
				t.Errorf("unexpected token %q", req.NextToken)
			}
			return http.StatusOK, `{
				"Partitions": [
					{"Values": ["2026-01-12"], "StorageDescriptor": {"Location": "s3://lake/p/dt=2026-01-12/"}}
				]
			}`
		},
	})

	pager := g.Partitions("analytics", "events")
	var all []Partition
	var pages int
	for pager.HasMorePages() {
		page, err := pager.NextPage(context.Background())
		if err != nil {
			t.Fatalf("failed to page partitions: %v", err)
		}
		pages++
		all = append(all, page...)
	}

	if pages != 2 {
		t.Errorf("pages: got %d, want 2", pages)
	}
	if len(all) != 3 {
		t.Fatalf("partitions: got %d, want 3", len(all))
	}
	if all[2].Values[0] != "2026-01-12" {
		t.Errorf("last partition mismatch: %+v", all[2])
	}
	if all[0].Storage.Location != "s3://lake/p/dt=2026-01-10/" {
		t.Errorf("partition location mismatch: %s", all[0].Storage.Location)
	}
}

func TestGlue_BatchCreateToleratesExisting(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"BatchCreatePartition": func([]byte) (int, string) {
			return http.StatusOK, `{"Errors": [
				{"PartitionValues": ["2026-01-10"], "ErrorDetail": {"ErrorCode": "AlreadyExistsException", "ErrorMessage": "already there"}}
			]}`
		},
	})

	err := g.BatchCreatePartitions(context.Background(), "analytics", "events", []PartitionInput{
		{Values: []string{"2026-01-10"}},
		{Values: []string{"2026-01-11"}},
	})
	if err != nil {
		t.Fatalf("already-existing partition must not fail the batch: %v", err)
	}
}

func TestGlue_BatchCreateHardFailure(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"BatchCreatePartition": func([]byte) (int, string) {
			return http.StatusOK, `{"Errors": [
				{"PartitionValues": ["2026-01-10"], "ErrorDetail": {"ErrorCode": "InternalServiceException", "ErrorMessage": "boom"}},
				{"PartitionValues": ["2026-01-11"], "ErrorDetail": {"ErrorCode": "AlreadyExistsException", "ErrorMessage": "already there"}}
			]}`
		},
	})

	err := g.BatchCreatePartitions(context.Background(), "analytics", "events", []PartitionInput{
		{Values: []string{"2026-01-10"}},
		{Values: []string{"2026-01-11"}},
	})
	if err == nil {
		t.Fatal("expected error for rejected entries")
	}
	if !strings.Contains(err.Error(), "rejected 1 partitions") {
		t.Errorf("error must count only hard failures: %v", err)
	}
}

func TestGlue_BatchDeleteToleratesMissing(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"BatchDeletePartition": func([]byte) (int, string) {
			return http.StatusOK, `{"Errors": [
				{"PartitionValues": ["2026-01-10"], "ErrorDetail": {"ErrorCode": "EntityNotFoundException", "ErrorMessage": "gone"}}
			]}`
		},
	})

	err := g.BatchDeletePartitions(context.Background(), "analytics", "events", [][]string{
		{"2026-01-10"},
		{"2026-01-11"},
	})
	if err != nil {
		t.Fatalf("already-missing partition must not fail the batch: %v", err)
	}
}

func TestGlue_BatchLimitsCheckedBeforeRequest(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"BatchCreatePartition": func([]byte) (int, string) {
			t.Error("oversized batch must be rejected before any request")
			return http.StatusOK, `{}`
		},
		"BatchDeletePartition": func([]byte) (int, string) {
			t.Error("oversized batch must be rejected before any request")
			return http.StatusOK, `{}`
		},
	})

	big := make([]PartitionInput, MaxBatchCreate+1)
	for i := range big {
		big[i] = PartitionInput{Values: []string{"v"}}
	}
	if err := g.BatchCreatePartitions(context.Background(), "analytics", "events", big); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("expected ErrBatchTooLarge, got %v", err)
	}

	bigDel := make([][]string, MaxBatchDelete+1)
	for i := range bigDel {
		bigDel[i] = []string{"v"}
	}
	if err := g.BatchDeletePartitions(context.Background(), "analytics", "events", bigDel); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestGlue_ListTablesPrefix(t *testing.T) {
	g := newFakeGlue(t, map[string]func([]byte) (int, string){
		"GetTables": func(body []byte) (int, string) {
			var req struct {
				Expression string
			}
			if err := json.Unmarshal(body, &req); err != nil {
				t.Fatalf("failed to decode request: %v", err)
			}
			if req.Expression != "events_version_tmp_.*" {
				t.Errorf("expression mismatch: %q", req.Expression)
			}
			// The service pattern dialect may overmatch; the client
			// must still filter on the literal prefix.
			return http.StatusOK, `{"TableList": [
				{"Name": "events_version_tmp_202601100800"},
				{"Name": "eventsXversion_tmp_1"}
			]}`
		},
	})

	got, err := g.ListTables(context.Background(), "analytics", "events_version_tmp_")
	if err != nil {
		t.Fatalf("failed to list tables: %v", err)
	}
	if len(got) != 1 || got[0].Name != "events_version_tmp_202601100800" {
		t.Errorf("prefix filter mismatch: %+v", tableNames(got))
	}
}
