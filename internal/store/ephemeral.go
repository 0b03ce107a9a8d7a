// ABOUTME: Volatile key-value backend interpreting the bounded statement dialect the core issues
// ABOUTME: Last-resort fallback for targets without a durable SQL engine; not a SQL engine

package store

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/taskdeck/taskdeck/internal/kv"
)

// EphemeralKVStore implements Backend over a kv.Store. Each table's rows live
// under one key as a JSON array. Only the statement shapes the coordinator and
// repositories actually issue are interpreted: CREATE TABLE IF NOT EXISTS,
// INSERT [OR REPLACE], SELECT with equality conjunctions, UPDATE, DELETE.
// Anything else returns ErrQuery.
type EphemeralKVStore struct {
	store  kv.Store
	tables map[string]*tableMeta
	logger *slog.Logger
}

// tableMeta records the constraint surface parsed from the schema.
type tableMeta struct {
	primaryKey string
	uniques    [][]string
}

const tableKeyPrefix = "table:"

// NewEphemeralKVStore creates a KV-backed backend on the given store.
func NewEphemeralKVStore(store kv.Store) *EphemeralKVStore {
	return &EphemeralKVStore{
		store:  store,
		tables: make(map[string]*tableMeta),
		logger: slog.Default().With("component", "store"),
	}
}

var reCreateTable = regexp.MustCompile(`(?is)^\s*CREATE\s+TABLE\s+IF\s+NOT\s+EXISTS\s+(\w+)\s*\((.*)\)\s*$`)

// CreateSchema parses the schema statements and registers table metadata.
// Index statements are accepted and ignored. Existing rows are kept.
func (e *EphemeralKVStore) CreateSchema(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaSQL) {
		upper := strings.ToUpper(stmt)
		switch {
		case strings.HasPrefix(upper, "CREATE TABLE"):
			m := reCreateTable.FindStringSubmatch(stmt)
			if m == nil {
				return fmt.Errorf("%w: unsupported create statement", ErrQuery)
			}
			e.tables[strings.ToLower(m[1])] = parseTableMeta(m[2])
		case strings.HasPrefix(upper, "CREATE INDEX"), strings.HasPrefix(upper, "CREATE UNIQUE INDEX"):
			// Row sets are small; indexes are meaningless here.
		default:
			return fmt.Errorf("%w: unsupported schema statement", ErrQuery)
		}
	}
	return nil
}

// Query interprets a SELECT statement.
func (e *EphemeralKVStore) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	sel, err := parseSelect(query)
	if err != nil {
		return nil, err
	}

	rows, err := e.loadTable(sel.table)
	if err != nil {
		return nil, err
	}

	matched := filterRows(rows, sel.where, args)

	if sel.count {
		name := sel.countAlias
		if name == "" {
			name = "COUNT(*)"
		}
		return []Row{{name: int64(len(matched))}}, nil
	}

	if sel.orderBy != "" {
		sortRows(matched, sel.orderBy, sel.orderDesc)
	}

	if len(sel.columns) > 0 {
		projected := make([]Row, len(matched))
		for i, row := range matched {
			p := make(Row, len(sel.columns))
			for _, col := range sel.columns {
				p[col] = row[col]
			}
			projected[i] = p
		}
		return projected, nil
	}
	return matched, nil
}

// Run interprets a mutating statement.
func (e *EphemeralKVStore) Run(ctx context.Context, query string, args ...any) (Result, error) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	upper := strings.ToUpper(trimmed)

	switch {
	case strings.HasPrefix(upper, "INSERT"):
		return e.runInsert(trimmed, args)
	case strings.HasPrefix(upper, "UPDATE"):
		return e.runUpdate(trimmed, args)
	case strings.HasPrefix(upper, "DELETE"):
		return e.runDelete(trimmed, args)
	default:
		return Result{}, fmt.Errorf("%w: unsupported statement: %s", ErrQuery, firstWord(trimmed))
	}
}

// ExecuteBatch runs statements sequentially. The KV backend has no
// transactions; a mid-batch failure leaves earlier statements applied,
// matching the volatile store's weaker guarantees.
func (e *EphemeralKVStore) ExecuteBatch(ctx context.Context, statements []Statement) error {
	for _, stmt := range statements {
		if _, err := e.Run(ctx, stmt.SQL, stmt.Args...); err != nil {
			return err
		}
	}
	return nil
}

// Export reads every table into a snapshot.
func (e *EphemeralKVStore) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Tables: make(map[string][]Row, len(tableNames))}
	for _, table := range tableNames {
		rows, err := e.loadTable(table)
		if err != nil {
			return nil, err
		}
		snap.Tables[table] = rows
	}
	return snap, nil
}

// Import replaces all table contents with the snapshot's rows.
func (e *EphemeralKVStore) Import(ctx context.Context, snap *Snapshot) error {
	for _, table := range tableNames {
		rows := snap.Tables[table]
		if rows == nil {
			rows = []Row{}
		}
		if err := e.saveTable(table, rows); err != nil {
			return fmt.Errorf("%w: importing %s: %v", ErrBackupRestore, table, err)
		}
	}
	return nil
}

// Close is a no-op; the kv store has no handle to release.
func (e *EphemeralKVStore) Close() error {
	return nil
}

var reInsert = regexp.MustCompile(`(?is)^INSERT\s+(OR\s+REPLACE\s+)?INTO\s+(\w+)\s*\(([^)]+)\)\s*VALUES\s*\(([^)]+)\)$`)

func (e *EphemeralKVStore) runInsert(stmt string, args []any) (Result, error) {
	m := reInsert.FindStringSubmatch(stmt)
	if m == nil {
		return Result{}, fmt.Errorf("%w: unsupported insert shape", ErrQuery)
	}
	replace := m[1] != ""
	table := strings.ToLower(m[2])
	cols := splitIdentifiers(m[3])

	placeholders := strings.Split(m[4], ",")
	if len(placeholders) != len(cols) || len(args) != len(cols) {
		return Result{}, fmt.Errorf("%w: column/value count mismatch", ErrQuery)
	}

	meta, ok := e.tables[table]
	if !ok {
		return Result{}, fmt.Errorf("%w: no such table: %s", ErrQuery, table)
	}

	row := make(Row, len(cols))
	for i, col := range cols {
		row[col] = args[i]
	}

	rows, err := e.loadTable(table)
	if err != nil {
		return Result{}, err
	}

	// Constraint checks against existing rows
	replaced := false
	for i, existing := range rows {
		samePK := meta.primaryKey != "" && valueEqual(existing[meta.primaryKey], row[meta.primaryKey])
		if samePK {
			if !replace {
				return Result{}, fmt.Errorf("%w: UNIQUE constraint failed: %s.%s", ErrQuery, table, meta.primaryKey)
			}
			rows[i] = row
			replaced = true
			continue
		}
		for _, unique := range meta.uniques {
			if rowsMatchOn(existing, row, unique) {
				return Result{}, fmt.Errorf("%w: UNIQUE constraint failed: %s.%s", ErrQuery, table, strings.Join(unique, ","))
			}
		}
	}

	if !replaced {
		rows = append(rows, row)
	}
	if err := e.saveTable(table, rows); err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: 1}, nil
}

var reUpdate = regexp.MustCompile(`(?is)^UPDATE\s+(\w+)\s+SET\s+(.+?)(?:\s+WHERE\s+(.+))?$`)

func (e *EphemeralKVStore) runUpdate(stmt string, args []any) (Result, error) {
	m := reUpdate.FindStringSubmatch(stmt)
	if m == nil {
		return Result{}, fmt.Errorf("%w: unsupported update shape", ErrQuery)
	}
	table := strings.ToLower(m[1])

	var setCols []string
	for _, assign := range strings.Split(m[2], ",") {
		parts := strings.SplitN(assign, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[1]) != "?" {
			return Result{}, fmt.Errorf("%w: unsupported assignment: %s", ErrQuery, strings.TrimSpace(assign))
		}
		setCols = append(setCols, strings.ToLower(strings.TrimSpace(parts[0])))
	}
	if len(args) < len(setCols) {
		return Result{}, fmt.Errorf("%w: missing update arguments", ErrQuery)
	}

	where, err := parseWhere(m[3])
	if err != nil {
		return Result{}, err
	}

	rows, err := e.loadTable(table)
	if err != nil {
		return Result{}, err
	}

	setArgs := args[:len(setCols)]
	whereArgs := args[len(setCols):]

	var affected int64
	for i, row := range rows {
		if !rowMatches(row, where, whereArgs) {
			continue
		}
		for j, col := range setCols {
			row[col] = setArgs[j]
		}
		rows[i] = row
		affected++
	}

	if err := e.saveTable(table, rows); err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: affected}, nil
}

var reDelete = regexp.MustCompile(`(?is)^DELETE\s+FROM\s+(\w+)(?:\s+WHERE\s+(.+))?$`)

func (e *EphemeralKVStore) runDelete(stmt string, args []any) (Result, error) {
	m := reDelete.FindStringSubmatch(stmt)
	if m == nil {
		return Result{}, fmt.Errorf("%w: unsupported delete shape", ErrQuery)
	}
	table := strings.ToLower(m[1])

	where, err := parseWhere(m[2])
	if err != nil {
		return Result{}, err
	}

	rows, err := e.loadTable(table)
	if err != nil {
		return Result{}, err
	}

	kept := rows[:0]
	var affected int64
	for _, row := range rows {
		if rowMatches(row, where, args) {
			affected++
			continue
		}
		kept = append(kept, row)
	}

	if err := e.saveTable(table, kept); err != nil {
		return Result{}, err
	}
	return Result{RowsAffected: affected}, nil
}

func (e *EphemeralKVStore) loadTable(table string) ([]Row, error) {
	if _, ok := e.tables[table]; !ok {
		return nil, fmt.Errorf("%w: no such table: %s", ErrQuery, table)
	}
	raw, ok := e.store.GetItem(tableKeyPrefix + table)
	if !ok || raw == "" {
		return []Row{}, nil
	}
	rows, err := decodeRows(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt table %s: %v", ErrQuery, table, err)
	}
	return rows, nil
}

func (e *EphemeralKVStore) saveTable(table string, rows []Row) error {
	raw, err := encodeRows(rows)
	if err != nil {
		return fmt.Errorf("%w: encoding table %s: %v", ErrQuery, table, err)
	}
	if err := e.store.SetItem(tableKeyPrefix+table, raw); err != nil {
		return fmt.Errorf("writing table %s: %w", table, err)
	}
	return nil
}

// selectStmt is a parsed SELECT.
type selectStmt struct {
	table      string
	columns    []string // empty means *
	where      []condition
	count      bool
	countAlias string
	orderBy    string
	orderDesc  bool
}

// condition is one `col = ?` or `col IS NULL` term of a WHERE conjunction.
type condition struct {
	column string
	isNull bool
}

var reCount = regexp.MustCompile(`(?i)^COUNT\(\*\)(?:\s+AS\s+(\w+))?$`)

func parseSelect(query string) (*selectStmt, error) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT ") {
		return nil, fmt.Errorf("%w: unsupported statement: %s", ErrQuery, firstWord(trimmed))
	}

	fromIdx := strings.Index(upper, " FROM ")
	if fromIdx < 0 {
		return nil, fmt.Errorf("%w: select without FROM", ErrQuery)
	}

	sel := &selectStmt{}
	columnsPart := strings.TrimSpace(trimmed[len("SELECT "):fromIdx])
	rest := strings.TrimSpace(trimmed[fromIdx+len(" FROM "):])
	restUpper := strings.ToUpper(rest)

	// Trailing clauses, innermost last
	if idx := strings.Index(restUpper, " ORDER BY "); idx >= 0 {
		order := strings.TrimSpace(rest[idx+len(" ORDER BY "):])
		rest = strings.TrimSpace(rest[:idx])
		restUpper = strings.ToUpper(rest)
		fields := strings.Fields(order)
		if len(fields) == 0 || len(fields) > 2 {
			return nil, fmt.Errorf("%w: unsupported order clause", ErrQuery)
		}
		sel.orderBy = strings.ToLower(fields[0])
		if len(fields) == 2 {
			switch strings.ToUpper(fields[1]) {
			case "DESC":
				sel.orderDesc = true
			case "ASC":
			default:
				return nil, fmt.Errorf("%w: unsupported order direction", ErrQuery)
			}
		}
	}

	if idx := strings.Index(restUpper, " WHERE "); idx >= 0 {
		where, err := parseWhere(rest[idx+len(" WHERE "):])
		if err != nil {
			return nil, err
		}
		sel.where = where
		rest = strings.TrimSpace(rest[:idx])
	}

	if strings.ContainsAny(rest, " \t\n") {
		return nil, fmt.Errorf("%w: unsupported select shape", ErrQuery)
	}
	sel.table = strings.ToLower(rest)

	if m := reCount.FindStringSubmatch(columnsPart); m != nil {
		sel.count = true
		sel.countAlias = m[1]
		return sel, nil
	}

	if columnsPart != "*" {
		sel.columns = splitIdentifiers(columnsPart)
	}
	return sel, nil
}

// parseWhere parses a conjunction of `col = ?` / `col IS NULL` terms.
// An empty clause matches every row.
func parseWhere(clause string) ([]condition, error) {
	clause = strings.TrimSpace(clause)
	if clause == "" {
		return nil, nil
	}

	var conds []condition
	for _, term := range regexp.MustCompile(`(?i)\s+AND\s+`).Split(clause, -1) {
		term = strings.TrimSpace(term)
		upper := strings.ToUpper(term)
		switch {
		case strings.HasSuffix(upper, " IS NULL"):
			col := strings.TrimSpace(term[:len(term)-len(" IS NULL")])
			conds = append(conds, condition{column: strings.ToLower(col), isNull: true})
		default:
			parts := strings.SplitN(term, "=", 2)
			if len(parts) != 2 || strings.TrimSpace(parts[1]) != "?" {
				return nil, fmt.Errorf("%w: unsupported where term: %s", ErrQuery, term)
			}
			conds = append(conds, condition{column: strings.ToLower(strings.TrimSpace(parts[0]))})
		}
	}
	return conds, nil
}

func filterRows(rows []Row, where []condition, args []any) []Row {
	matched := make([]Row, 0, len(rows))
	for _, row := range rows {
		if rowMatches(row, where, args) {
			matched = append(matched, row)
		}
	}
	return matched
}

func rowMatches(row Row, where []condition, args []any) bool {
	argIdx := 0
	for _, cond := range where {
		if cond.isNull {
			if row[cond.column] != nil {
				return false
			}
			continue
		}
		if argIdx >= len(args) {
			return false
		}
		if !valueEqual(row[cond.column], args[argIdx]) {
			return false
		}
		argIdx++
	}
	return true
}

func sortRows(rows []Row, column string, desc bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		less := valueLess(rows[i][column], rows[j][column])
		if desc {
			return valueLess(rows[j][column], rows[i][column])
		}
		return less
	})
}

// valueEqual compares loosely across the numeric types that survive a JSON
// round trip (int64 in, float64 out).
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func valueLess(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func rowsMatchOn(a, b Row, cols []string) bool {
	for _, col := range cols {
		if a[col] == nil && b[col] == nil {
			continue
		}
		if !valueEqual(a[col], b[col]) {
			return false
		}
	}
	return true
}

// parseTableMeta extracts primary-key and unique constraints from a CREATE
// TABLE body. Column definitions are split at top-level commas only.
func parseTableMeta(body string) *tableMeta {
	meta := &tableMeta{}
	for _, def := range splitTopLevel(body) {
		def = strings.TrimSpace(def)
		upper := strings.ToUpper(def)
		switch {
		case strings.HasPrefix(upper, "FOREIGN KEY"), strings.HasPrefix(upper, "CHECK"):
			// Referential actions are not enforced by the fallback store;
			// repositories issue the dependent statements explicitly.
		case strings.HasPrefix(upper, "UNIQUE("):
			inner := def[strings.Index(def, "(")+1:]
			inner = strings.TrimSuffix(strings.TrimSpace(inner), ")")
			meta.uniques = append(meta.uniques, splitIdentifiers(inner))
		default:
			name := strings.ToLower(firstWord(def))
			if name == "" {
				continue
			}
			if strings.Contains(upper, "PRIMARY KEY") {
				meta.primaryKey = name
			} else if strings.Contains(upper, "UNIQUE") {
				meta.uniques = append(meta.uniques, []string{name})
			}
		}
	}
	return meta
}

func splitStatements(sql string) []string {
	var stmts []string
	for _, s := range strings.Split(sql, ";") {
		if strings.TrimSpace(s) != "" {
			stmts = append(stmts, strings.TrimSpace(s))
		}
	}
	return stmts
}

func splitTopLevel(body string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, body[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, body[start:])
	return parts
}

func splitIdentifiers(list string) []string {
	var ids []string
	for _, id := range strings.Split(list, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, strings.ToLower(id))
		}
	}
	return ids
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

var _ Backend = (*EphemeralKVStore)(nil)
