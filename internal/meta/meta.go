// Package meta translates psql-style backslash commands (\d, \dt, \l, ...)
// into equivalent queries against PostgreSQL's system catalogs.
package meta

import (
	"fmt"
	"strings"
)

// Kind identifies a recognized meta-command.
type Kind int

const (
	// Describe is \d: list tables, or describe one table when given a name.
	Describe Kind = iota
	// Tables is \dt.
	Tables
	// Views is \dv.
	Views
	// Indexes is \di.
	Indexes
	// Sequences is \ds.
	Sequences
	// Functions is \df.
	Functions
	// Schemas is \dn.
	Schemas
	// Databases is \l.
	Databases
	// Users is \du.
	Users
)

// Command is a parsed meta-command with its optional pattern argument.
type Command struct {
	Kind Kind
	Arg  string
}

// Parse detects whether input is a meta-command. Input is expected to have
// had SQL comments stripped already; anything not starting with a backslash
// is plain SQL.
func Parse(input string) (*Command, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "\\") {
		return nil, false
	}

	parts := strings.Fields(trimmed[1:])
	if len(parts) == 0 {
		return nil, false
	}

	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}

	var kind Kind
	switch parts[0] {
	case "d":
		kind = Describe
	case "dt":
		kind = Tables
	case "dv":
		kind = Views
	case "di":
		kind = Indexes
	case "ds":
		kind = Sequences
	case "df":
		kind = Functions
	case "dn":
		kind = Schemas
	case "l":
		kind = Databases
	case "du":
		kind = Users
	default:
		return nil, false
	}

	return &Command{Kind: kind, Arg: arg}, true
}

// SQL generates the catalog query for the command.
func (c *Command) SQL() string {
	switch c.Kind {
	case Describe:
		if c.Arg == "" {
			return listTablesSQL("")
		}
		return describeTableSQL(c.Arg)
	case Tables:
		return listTablesSQL(c.Arg)
	case Views:
		return listViewsSQL(c.Arg)
	case Indexes:
		return listIndexesSQL(c.Arg)
	case Sequences:
		return listSequencesSQL(c.Arg)
	case Functions:
		return listFunctionsSQL(c.Arg)
	case Schemas:
		return listSchemasSQL(c.Arg)
	case Databases:
		return listDatabasesSQL()
	case Users:
		return listUsersSQL()
	}
	return ""
}

// escapeLiteral doubles single quotes for safe embedding in a literal.
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// patternClause builds a LIKE filter on column for a non-empty pattern.
func patternClause(column, pattern string) string {
	if pattern == "" {
		return ""
	}
	return fmt.Sprintf("  AND %s LIKE '%%%s%%'\n", column, escapeLiteral(pattern))
}

func listTablesSQL(pattern string) string {
	return fmt.Sprintf(`SELECT n.nspname AS "Schema",
  c.relname AS "Name",
  CASE c.relkind
    WHEN 'r' THEN 'table'
    WHEN 'p' THEN 'partitioned table'
  END AS "Type",
  pg_catalog.pg_get_userbyid(c.relowner) AS "Owner"
FROM pg_catalog.pg_class c
LEFT JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'p')
  AND n.nspname <> 'pg_catalog'
  AND n.nspname <> 'information_schema'
  AND n.nspname !~ '^pg_toast'
%sORDER BY 1, 2;`, patternClause("c.relname", pattern))
}

func describeTableSQL(table string) string {
	return fmt.Sprintf(`SELECT
  a.attname AS "Column",
  pg_catalog.format_type(a.atttypid, a.atttypmod) AS "Type",
  CASE
    WHEN a.attnotnull THEN 'NOT NULL'
    ELSE ''
  END AS "Nullable",
  CASE
    WHEN a.atthasdef THEN pg_catalog.pg_get_expr(d.adbin, d.adrelid)
    ELSE ''
  END AS "Default"
FROM pg_catalog.pg_attribute a
LEFT JOIN pg_catalog.pg_attrdef d ON (a.attrelid, a.attnum) = (d.adrelid, d.adnum)
WHERE a.attrelid = '%s'::regclass
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum;`, escapeLiteral(table))
}

func listViewsSQL(pattern string) string {
	return fmt.Sprintf(`SELECT n.nspname AS "Schema",
  c.relname AS "Name",
  CASE c.relkind
    WHEN 'v' THEN 'view'
    WHEN 'm' THEN 'materialized view'
  END AS "Type",
  pg_catalog.pg_get_userbyid(c.relowner) AS "Owner"
FROM pg_catalog.pg_class c
LEFT JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('v', 'm')
  AND n.nspname <> 'pg_catalog'
  AND n.nspname <> 'information_schema'
%sORDER BY 1, 2;`, patternClause("c.relname", pattern))
}

func listIndexesSQL(pattern string) string {
	return fmt.Sprintf(`SELECT n.nspname AS "Schema",
  c.relname AS "Name",
  pg_catalog.pg_get_userbyid(c.relowner) AS "Owner",
  t.relname AS "Table"
FROM pg_catalog.pg_class c
LEFT JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_catalog.pg_index i ON i.indexrelid = c.oid
LEFT JOIN pg_catalog.pg_class t ON i.indrelid = t.oid
WHERE c.relkind = 'i'
  AND n.nspname <> 'pg_catalog'
  AND n.nspname <> 'information_schema'
%sORDER BY 1, 2;`, patternClause("c.relname", pattern))
}

func listSequencesSQL(pattern string) string {
	return fmt.Sprintf(`SELECT n.nspname AS "Schema",
  c.relname AS "Name",
  pg_catalog.pg_get_userbyid(c.relowner) AS "Owner"
FROM pg_catalog.pg_class c
LEFT JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind = 'S'
  AND n.nspname <> 'pg_catalog'
  AND n.nspname <> 'information_schema'
%sORDER BY 1, 2;`, patternClause("c.relname", pattern))
}

func listFunctionsSQL(pattern string) string {
	return fmt.Sprintf(`SELECT n.nspname AS "Schema",
  p.proname AS "Name",
  pg_catalog.pg_get_function_result(p.oid) AS "Result data type",
  pg_catalog.pg_get_function_arguments(p.oid) AS "Argument data types"
FROM pg_catalog.pg_proc p
LEFT JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
WHERE n.nspname <> 'pg_catalog'
  AND n.nspname <> 'information_schema'
%sORDER BY 1, 2;`, patternClause("p.proname", pattern))
}

func listSchemasSQL(pattern string) string {
	return fmt.Sprintf(`SELECT n.nspname AS "Name",
  pg_catalog.pg_get_userbyid(n.nspowner) AS "Owner"
FROM pg_catalog.pg_namespace n
WHERE n.nspname !~ '^pg_'
  AND n.nspname <> 'information_schema'
%sORDER BY 1;`, patternClause("n.nspname", pattern))
}

func listDatabasesSQL() string {
	return `SELECT d.datname AS "Name",
  pg_catalog.pg_get_userbyid(d.datdba) AS "Owner",
  pg_catalog.pg_encoding_to_char(d.encoding) AS "Encoding",
  d.datcollate AS "Collate",
  d.datctype AS "Ctype"
FROM pg_catalog.pg_database d
ORDER BY 1;`
}

func listUsersSQL() string {
	return `SELECT r.rolname AS "Role name",
  CASE
    WHEN r.rolsuper THEN 'Superuser'
    ELSE ''
  END AS "Attributes",
  ARRAY(
    SELECT b.rolname
    FROM pg_catalog.pg_auth_members m
    JOIN pg_catalog.pg_roles b ON (m.roleid = b.oid)
    WHERE m.member = r.oid
  ) AS "Member of"
FROM pg_catalog.pg_roles r
WHERE r.rolname !~ '^pg_'
ORDER BY 1;`
}
