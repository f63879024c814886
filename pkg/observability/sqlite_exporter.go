package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// SQLiteExporterConfig configures the SQLite metric exporter.
type SQLiteExporterConfig struct {
	DB *sql.DB

	// Table receives the metric points (default "metrics").
	Table string

	// RetentionDays removes points older than this; 0 keeps forever.
	RetentionDays int
}

// DefaultSQLiteExporterConfig keeps one week of points in "metrics".
func DefaultSQLiteExporterConfig(db *sql.DB) *SQLiteExporterConfig {
	return &SQLiteExporterConfig{
		DB:            db,
		Table:         "metrics",
		RetentionDays: 7,
	}
}

// SQLiteMetricExporter is an sdkmetric.Exporter that flattens metric
// points into a SQLite table, so collector-less deployments can query
// their own metrics with plain SQL.
type SQLiteMetricExporter struct {
	config *SQLiteExporterConfig
	mu     sync.Mutex
}

// NewSQLiteMetricExporter creates the exporter and its table.
func NewSQLiteMetricExporter(config *SQLiteExporterConfig) (*SQLiteMetricExporter, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if config.Table == "" {
		config.Table = "metrics"
	}

	e := &SQLiteMetricExporter{config: config}
	if err := e.createTable(); err != nil {
		return nil, fmt.Errorf("create metrics table: %w", err)
	}
	return e, nil
}

func (e *SQLiteMetricExporter) createTable() error {
	tableSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT,
			unit TEXT,
			type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			value REAL,
			count INTEGER,
			sum REAL,
			min REAL,
			max REAL,
			attributes TEXT,
			resource_attributes TEXT
		)
	`, e.config.Table)

	indexSQL := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_metrics_name ON %s(name);
		CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON %s(timestamp);
	`, e.config.Table, e.config.Table)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.config.DB.Exec(tableSQL); err != nil {
		return err
	}
	_, err := e.config.DB.Exec(indexSQL)
	return err
}

// Export implements sdkmetric.Exporter.
func (e *SQLiteMetricExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.config.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin export: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			name, description, unit, type, timestamp,
			value, count, sum, min, max, attributes, resource_attributes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.config.Table))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	resourceAttrs, _ := json.Marshal(attributesToMap(rm.Resource.Attributes()))
	timestamp := time.Now().Unix()

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if err := e.exportMetric(ctx, stmt, m, string(resourceAttrs), timestamp); err != nil {
				return fmt.Errorf("export metric %s: %w", m.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit export: %w", err)
	}

	if e.config.RetentionDays > 0 {
		go e.cleanup()
	}
	return nil
}

func (e *SQLiteMetricExporter) exportMetric(ctx context.Context, stmt *sql.Stmt, m metricdata.Metrics, resourceAttrs string, timestamp int64) error {
	switch data := m.Data.(type) {
	case metricdata.Gauge[int64]:
		for _, dp := range data.DataPoints {
			attrs, _ := json.Marshal(attributeSetToMap(dp.Attributes))
			if _, err := stmt.ExecContext(ctx,
				m.Name, m.Description, m.Unit, "gauge", timestamp,
				float64(dp.Value), nil, nil, nil, nil, string(attrs), resourceAttrs,
			); err != nil {
				return err
			}
		}
	case metricdata.Gauge[float64]:
		for _, dp := range data.DataPoints {
			attrs, _ := json.Marshal(attributeSetToMap(dp.Attributes))
			if _, err := stmt.ExecContext(ctx,
				m.Name, m.Description, m.Unit, "gauge", timestamp,
				dp.Value, nil, nil, nil, nil, string(attrs), resourceAttrs,
			); err != nil {
				return err
			}
		}
	case metricdata.Sum[int64]:
		for _, dp := range data.DataPoints {
			attrs, _ := json.Marshal(attributeSetToMap(dp.Attributes))
			if _, err := stmt.ExecContext(ctx,
				m.Name, m.Description, m.Unit, "sum", timestamp,
				float64(dp.Value), nil, nil, nil, nil, string(attrs), resourceAttrs,
			); err != nil {
				return err
			}
		}
	case metricdata.Sum[float64]:
		for _, dp := range data.DataPoints {
			attrs, _ := json.Marshal(attributeSetToMap(dp.Attributes))
			if _, err := stmt.ExecContext(ctx,
				m.Name, m.Description, m.Unit, "sum", timestamp,
				dp.Value, nil, nil, nil, nil, string(attrs), resourceAttrs,
			); err != nil {
				return err
			}
		}
	case metricdata.Histogram[int64]:
		for _, dp := range data.DataPoints {
			attrs, _ := json.Marshal(attributeSetToMap(dp.Attributes))
			var minVal, maxVal *float64
			if v, ok := dp.Min.Value(); ok {
				f := float64(v)
				minVal = &f
			}
			if v, ok := dp.Max.Value(); ok {
				f := float64(v)
				maxVal = &f
			}
			if _, err := stmt.ExecContext(ctx,
				m.Name, m.Description, m.Unit, "histogram", timestamp,
				nil, dp.Count, float64(dp.Sum), minVal, maxVal, string(attrs), resourceAttrs,
			); err != nil {
				return err
			}
		}
	case metricdata.Histogram[float64]:
		for _, dp := range data.DataPoints {
			attrs, _ := json.Marshal(attributeSetToMap(dp.Attributes))
			var minVal, maxVal *float64
			if v, ok := dp.Min.Value(); ok {
				minVal = &v
			}
			if v, ok := dp.Max.Value(); ok {
				maxVal = &v
			}
			if _, err := stmt.ExecContext(ctx,
				m.Name, m.Description, m.Unit, "histogram", timestamp,
				nil, dp.Count, dp.Sum, minVal, maxVal, string(attrs), resourceAttrs,
			); err != nil {
				return err
			}
		}
	}
	return nil
}

// Temporality implements sdkmetric.Exporter. Cumulative keeps each row
// independently meaningful.
func (e *SQLiteMetricExporter) Temporality(sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

// Aggregation implements sdkmetric.Exporter.
func (e *SQLiteMetricExporter) Aggregation(kind sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(kind)
}

// ForceFlush implements sdkmetric.Exporter.
func (e *SQLiteMetricExporter) ForceFlush(context.Context) error {
	return nil
}

// Shutdown implements sdkmetric.Exporter. The connection is owned by
// the caller.
func (e *SQLiteMetricExporter) Shutdown(context.Context) error {
	return nil
}

func (e *SQLiteMetricExporter) cleanup() {
	cutoff := time.Now().Add(-time.Duration(e.config.RetentionDays) * 24 * time.Hour).Unix()

	e.mu.Lock()
	defer e.mu.Unlock()

	_, _ = e.config.DB.Exec(
		fmt.Sprintf(`DELETE FROM %s WHERE timestamp < ?`, e.config.Table), cutoff)
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		m[string(attr.Key)] = attr.Value.AsInterface()
	}
	return m
}

func attributeSetToMap(attrs attribute.Set) map[string]any {
	m := make(map[string]any)
	iter := attrs.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}
