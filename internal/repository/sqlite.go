package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
)

// SqliteRepository is the sqlite adapter. Records are stored as JSON
// documents, one table per collection. The filter tree is translated to
// SQL json_extract conditions where the operator maps cleanly; the full
// predicate is re-applied to the decoded rows so adapter results always
// agree with Filter.Matches.
type SqliteRepository[T Record] struct {
	pool    *Pool
	table   string
	factory func() T
}

// NewSqliteRepository creates a sqlite repository and ensures its table.
func NewSqliteRepository[T Record](pool *Pool, table string, factory func() T) (*SqliteRepository[T], error) {
	r := &SqliteRepository[T]{pool: pool, table: table, factory: factory}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema for %s: %w", table, err)
	}
	return r, nil
}

func (r *SqliteRepository[T]) initSchema() error {
	_, err := r.pool.Writer().Exec(fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		channel_id TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		doc TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_channel ON %[1]s(channel_id, created_at DESC);
	`, r.table))
	return err
}

// FindByID returns the record with the given id or NotFound.
func (r *SqliteRepository[T]) FindByID(ctx context.Context, id string) (T, error) {
	var zero T
	var raw string
	err := r.pool.Reader().GetContext(ctx, &raw,
		fmt.Sprintf("SELECT doc FROM %s WHERE id = ?", r.table), id)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, apperrors.NotFound(r.table, id)
	}
	if err != nil {
		return zero, apperrors.StorageFailure("query "+r.table, err)
	}
	return r.decode(raw)
}

// FindOne returns the first matching record in the default order or NotFound.
func (r *SqliteRepository[T]) FindOne(ctx context.Context, filter *Filter) (T, error) {
	var zero T
	page, err := r.FindMany(ctx, filter, &Pagination{Limit: 1})
	if err != nil {
		return zero, err
	}
	if len(page.Items) == 0 {
		return zero, apperrors.NotFound(r.table, "")
	}
	return page.Items[0], nil
}

// FindMany returns one page of matching records.
func (r *SqliteRepository[T]) FindMany(ctx context.Context, filter *Filter, page *Pagination) (*Page[T], error) {
	if err := filter.Validate(); err != nil {
		return nil, apperrors.InvalidRequest(err.Error())
	}

	docs, err := r.queryDocs(ctx, filter)
	if err != nil {
		return nil, err
	}

	p := page.normalized()
	sortDocs(docs, p)

	total := len(docs)
	start := p.Offset
	if start > total {
		start = total
	}
	end := start + p.Limit
	if end > total {
		end = total
	}

	items := make([]T, 0, end-start)
	for _, d := range docs[start:end] {
		item, err := r.decode(d.raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return newPage(items, total, p), nil
}

// Create persists a new record, assigning a uuid if the id is unset.
func (r *SqliteRepository[T]) Create(ctx context.Context, item T) (T, error) {
	var zero T
	if item.GetID() == "" {
		item.SetID(uuid.New().String())
	}
	item.StampCreated(time.Now().UTC())

	raw, doc, err := encodeRecord(item)
	if err != nil {
		return zero, err
	}

	_, err = r.pool.Writer().ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, channel_id, created_at, doc) VALUES (?, ?, ?, ?)", r.table),
		item.GetID(), channelOf(doc), item.GetCreatedAt(), raw)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return zero, apperrors.Conflict("record " + item.GetID() + " already exists in " + r.table)
		}
		return zero, apperrors.StorageFailure("insert into "+r.table, err)
	}
	return item, nil
}

// Save replaces an existing record wholesale.
func (r *SqliteRepository[T]) Save(ctx context.Context, item T) (T, error) {
	var zero T
	existing, err := r.FindByID(ctx, item.GetID())
	if err != nil {
		return zero, err
	}
	item.StampCreated(existing.GetCreatedAt())
	item.StampUpdated(time.Now().UTC())

	raw, doc, err := encodeRecord(item)
	if err != nil {
		return zero, err
	}

	res, err := r.pool.Writer().ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET channel_id = ?, doc = ? WHERE id = ?", r.table),
		channelOf(doc), raw, item.GetID())
	if err != nil {
		return zero, apperrors.StorageFailure("update "+r.table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return zero, apperrors.NotFound(r.table, item.GetID())
	}
	return item, nil
}

// Update applies a partial patch to the stored document.
func (r *SqliteRepository[T]) Update(ctx context.Context, id string, patch map[string]interface{}) (T, error) {
	var zero T
	var raw string
	err := r.pool.Writer().GetContext(ctx, &raw,
		fmt.Sprintf("SELECT doc FROM %s WHERE id = ?", r.table), id)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, apperrors.NotFound(r.table, id)
	}
	if err != nil {
		return zero, apperrors.StorageFailure("query "+r.table, err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return zero, apperrors.StorageFailure("decode stored document", err)
	}
	merged := mergePatch(doc, patch)
	merged["id"] = id
	merged["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)

	out, err := json.Marshal(merged)
	if err != nil {
		return zero, apperrors.StorageFailure("encode patched record", err)
	}
	item := r.factory()
	if err := json.Unmarshal(out, item); err != nil {
		return zero, apperrors.InvalidRequest("patch does not fit record shape: " + err.Error())
	}

	_, err = r.pool.Writer().ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET channel_id = ?, doc = ? WHERE id = ?", r.table),
		channelOf(merged), string(out), id)
	if err != nil {
		return zero, apperrors.StorageFailure("update "+r.table, err)
	}
	return item, nil
}

// Delete removes the record with the given id.
func (r *SqliteRepository[T]) Delete(ctx context.Context, id string) error {
	res, err := r.pool.Writer().ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ?", r.table), id)
	if err != nil {
		return apperrors.StorageFailure("delete from "+r.table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound(r.table, id)
	}
	return nil
}

// Count returns the number of matching records.
func (r *SqliteRepository[T]) Count(ctx context.Context, filter *Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, apperrors.InvalidRequest(err.Error())
	}
	docs, err := r.queryDocs(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Exists reports whether any record matches the filter.
func (r *SqliteRepository[T]) Exists(ctx context.Context, filter *Filter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type storedDoc struct {
	raw string
	doc map[string]interface{}
}

// queryDocs fetches candidate rows using the pushdown WHERE clause, then
// re-applies the full filter predicate for exact semantics.
func (r *SqliteRepository[T]) queryDocs(ctx context.Context, filter *Filter) ([]storedDoc, error) {
	where, args := translateFilter(filter)
	query := fmt.Sprintf("SELECT doc FROM %s", r.table)
	if where != "" {
		query += " WHERE " + where
	}

	var rows []string
	if err := r.pool.Reader().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.StorageFailure("query "+r.table, err)
	}

	docs := make([]storedDoc, 0, len(rows))
	for _, raw := range rows {
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, apperrors.StorageFailure("decode stored document", err)
		}
		if filter.IsEmpty() || filter.Matches(doc) {
			docs = append(docs, storedDoc{raw: raw, doc: doc})
		}
	}
	return docs, nil
}

// translateFilter builds a pushdown WHERE clause from the clauses that map
// cleanly onto SQLite json_extract. Regex, arrayContains, textSearch, and
// Or trees stay in the Go predicate; nested And clauses are recursed.
func translateFilter(filter *Filter) (string, []interface{}) {
	if filter.IsEmpty() {
		return "", nil
	}

	var conds []string
	var args []interface{}

	for field, value := range filter.Where {
		conds = append(conds, jsonPathExpr(field)+" = ?")
		args = append(args, sqlValue(value))
	}

	for _, c := range filter.Comparisons {
		expr := jsonPathExpr(c.Field)
		switch c.Op {
		case OpEq:
			conds = append(conds, expr+" = ?")
			args = append(args, sqlValue(c.Value))
		case OpNe:
			conds = append(conds, "("+expr+" IS NULL OR "+expr+" != ?)")
			args = append(args, sqlValue(c.Value))
		case OpGt, OpGte, OpLt, OpLte:
			ops := map[string]string{OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}
			conds = append(conds, expr+" "+ops[c.Op]+" ?")
			args = append(args, sqlValue(c.Value))
		case OpIn:
			values := toSlice(c.Value)
			if len(values) == 0 {
				conds = append(conds, "0")
				continue
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
			conds = append(conds, expr+" IN ("+placeholders+")")
			for _, v := range values {
				args = append(args, sqlValue(v))
			}
		case OpNin:
			values := toSlice(c.Value)
			if len(values) == 0 {
				continue
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
			conds = append(conds, "("+expr+" IS NULL OR "+expr+" NOT IN ("+placeholders+"))")
			for _, v := range values {
				args = append(args, sqlValue(v))
			}
		}
	}

	for _, sub := range filter.And {
		subWhere, subArgs := translateFilter(sub)
		if subWhere != "" {
			conds = append(conds, "("+subWhere+")")
			args = append(args, subArgs...)
		}
	}

	return strings.Join(conds, " AND "), args
}

// Sort field mirrors the Go-side ordering so pushdown and fallback agree.
func sortDocs(docs []storedDoc, p Pagination) {
	sort.Slice(docs, func(i, j int) bool {
		a, aok := lookupField(docs[i].doc, p.SortBy)
		b, bok := lookupField(docs[j].doc, p.SortBy)

		var cmp int
		switch {
		case !aok && !bok:
			cmp = 0
		case !aok:
			cmp = -1
		case !bok:
			cmp = 1
		default:
			var comparable bool
			cmp, comparable = compareValues(a, b)
			if !comparable {
				cmp = strings.Compare(toSortKey(a), toSortKey(b))
			}
		}
		if cmp == 0 {
			idA, _ := lookupField(docs[i].doc, "id")
			idB, _ := lookupField(docs[j].doc, "id")
			return fmt.Sprintf("%v", idA) < fmt.Sprintf("%v", idB)
		}
		if p.SortOrder == SortDesc {
			return cmp > 0
		}
		return cmp < 0
	})
}

func (r *SqliteRepository[T]) decode(raw string) (T, error) {
	var zero T
	item := r.factory()
	if err := json.Unmarshal([]byte(raw), item); err != nil {
		return zero, apperrors.StorageFailure("decode record", err)
	}
	return item, nil
}

func encodeRecord(item interface{}) (string, map[string]interface{}, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return "", nil, apperrors.StorageFailure("encode record", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", nil, apperrors.StorageFailure("decode record document", err)
	}
	return string(raw), doc, nil
}

func channelOf(doc map[string]interface{}) string {
	if v, ok := doc["channelId"].(string); ok {
		return v
	}
	return ""
}

// jsonPathExpr builds a json_extract expression for a dot path.
func jsonPathExpr(field string) string {
	return "json_extract(doc, '$." + strings.ReplaceAll(field, "'", "") + "')"
}

// sqlValue converts filter values to something the sqlite driver accepts.
func sqlValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string, int, int64, float64, bool, nil:
		return val
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", val)
	}
}
